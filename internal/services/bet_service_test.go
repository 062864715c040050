package services

import (
	"context"
	"testing"
	"time"

	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func betWalletConfig() config.WalletConfig {
	cfg := walletConfig()
	cfg.EncryptionKey = testEncryptionKey
	return cfg
}

type betFixture struct {
	bets     *fakeBetRepo
	wallets  *fakeWalletRepo
	provider *fakeWalletProvider
	svc      *BetService
}

func newBetFixture(t *testing.T, bets ...*models.Bet) *betFixture {
	t.Helper()
	f := &betFixture{
		bets:     newFakeBetRepo(bets...),
		wallets:  newFakeWalletRepo(),
		provider: &fakeWalletProvider{balance: 100},
	}
	walletService := NewWalletService(f.wallets, f.provider, betWalletConfig(), zap.NewNop())
	f.svc = NewBetService(f.bets, walletService, f.provider, betWalletConfig(), zap.NewNop())
	return f
}

// seedWallet stores a wallet whose key decrypts to plainKey, the way the
// provisioning path would have written it.
func (f *betFixture) seedWallet(t *testing.T, username, address, plainKey string) {
	t.Helper()
	encrypted, err := utils.Encrypt(testEncryptionKey, plainKey)
	require.NoError(t, err)
	f.wallets.Create(context.Background(), &models.UserWallet{
		Username:            username,
		Address:             address,
		EncryptedPrivateKey: encrypted,
	})
}

func openBet() *models.Bet {
	return &models.Bet{
		BetID:        "bet-123",
		Title:        "Will it rain tomorrow?",
		Options:      []string{"Yes", "No"},
		MinAmount:    10,
		GroupID:      -100123,
		CreatorID:    42,
		EndTime:      time.Now().Add(time.Hour),
		Participants: []string{},
		Votes:        models.VoteMap{},
	}
}

func TestCreateBetPersistsOpenBet(t *testing.T) {
	f := newBetFixture(t)

	bet, err := f.svc.CreateBet(context.Background(), -100123, 42,
		"Will it rain tomorrow?", []string{"Yes", "No"}, 5, 24*time.Hour)
	require.NoError(t, err)

	assert.Len(t, bet.BetID, 8)
	assert.False(t, bet.Resolved)
	assert.Empty(t, bet.Participants)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), bet.EndTime, time.Minute)

	stored, err := f.bets.FindByBetID(context.Background(), bet.BetID)
	require.NoError(t, err)
	assert.Equal(t, "Will it rain tomorrow?", stored.Title)
	assert.Equal(t, int64(-100123), stored.GroupID)
	assert.Equal(t, int64(42), stored.CreatorID)
}

func TestCreateBetValidatesInput(t *testing.T) {
	f := newBetFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		title    string
		options  []string
		stake    float64
		duration time.Duration
	}{
		{"empty title", "  ", []string{"Yes", "No"}, 5, time.Hour},
		{"one option", "Rain?", []string{"Yes"}, 5, time.Hour},
		{"blank option", "Rain?", []string{"Yes", " "}, 5, time.Hour},
		{"zero stake", "Rain?", []string{"Yes", "No"}, 0, time.Hour},
		{"negative duration", "Rain?", []string{"Yes", "No"}, 5, -time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateBet(ctx, -100123, 42, tc.title, tc.options, tc.stake, tc.duration)
			assert.Error(t, err)
		})
	}
}

func TestJoinBetCollectsStakeIntoAgentWallet(t *testing.T) {
	bet := openBet()
	f := newBetFixture(t, bet)
	f.seedWallet(t, "alice", "ALICEADDR", "ALICEKEY")

	joined, err := f.svc.JoinBet(context.Background(), "bet-123", "alice", 1)
	require.NoError(t, err)

	transfers := f.provider.sentTransfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, transfer{"AGENTADDR", 10.0}, transfers[0])
	// The stake is signed with the participant's decrypted key.
	assert.Equal(t, []string{"ALICEKEY"}, f.provider.fromKeys)

	assert.Equal(t, []string{"alice"}, joined.Participants)
	assert.Equal(t, 1, joined.Votes["alice"])

	stored, err := f.bets.FindByBetID(context.Background(), "bet-123")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, stored.Participants)
	assert.Equal(t, 1, stored.Votes["alice"])
}

func TestJoinBetProvisionsWalletOnFirstJoin(t *testing.T) {
	bet := openBet()
	f := newBetFixture(t, bet)

	_, err := f.svc.JoinBet(context.Background(), "bet-123", "bob", 0)
	require.NoError(t, err)

	w, err := f.wallets.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "ADDRNEW", w.Address)
	assert.Equal(t, []string{"KEYNEW"}, f.provider.fromKeys)
}

func TestJoinBetRejections(t *testing.T) {
	ended := openBet()
	ended.BetID = "bet-ended"
	ended.EndTime = time.Now().Add(-time.Minute)

	settled := openBet()
	settled.BetID = "bet-settled"
	settled.Resolved = true

	joined := openBet()
	joined.BetID = "bet-joined"
	joined.Participants = []string{"alice"}

	cases := []struct {
		name   string
		betID  string
		user   string
		option int
		want   error
	}{
		{"unknown bet", "nope", "alice", 0, ErrBetNotFound},
		{"past end time", "bet-ended", "alice", 0, ErrBetClosed},
		{"already settled", "bet-settled", "alice", 0, ErrBetClosed},
		{"duplicate join", "bet-joined", "alice", 0, ErrAlreadyJoined},
		{"option out of range", "bet-123", "alice", 2, ErrInvalidOption},
		{"negative option", "bet-123", "alice", -1, ErrInvalidOption},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newBetFixture(t, openBet(), ended, settled, joined)
			f.seedWallet(t, "alice", "ALICEADDR", "ALICEKEY")

			_, err := f.svc.JoinBet(context.Background(), tc.betID, tc.user, tc.option)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.provider.sentTransfers(), "no stake moves on a rejected join")
		})
	}
}

func TestJoinBetRejectsInsufficientBalance(t *testing.T) {
	bet := openBet()
	f := newBetFixture(t, bet)
	f.seedWallet(t, "alice", "ALICEADDR", "ALICEKEY")
	f.provider.balance = 9.99

	_, err := f.svc.JoinBet(context.Background(), "bet-123", "alice", 0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, f.provider.sentTransfers())

	stored, err := f.bets.FindByBetID(context.Background(), "bet-123")
	require.NoError(t, err)
	assert.Empty(t, stored.Participants)
}
