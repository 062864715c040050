package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"github.com/predolabs/predo-bot/internal/utils"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrBetNotFound         = errors.New("bet not found")
	ErrBetClosed           = errors.New("bet is closed")
	ErrAlreadyJoined       = errors.New("already joined this bet")
	ErrInvalidOption       = errors.New("invalid option")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// BetService opens bets and collects stakes. Joining moves the stake from
// the participant's custodial wallet into the agent wallet, where it is
// held until settlement pays it back out.
type BetService struct {
	betRepo  repositories.BetRepository
	wallets  *WalletService
	provider WalletProvider
	cfg      config.WalletConfig
	log      *zap.Logger
}

// NewBetService creates a new BetService
func NewBetService(
	betRepo repositories.BetRepository,
	wallets *WalletService,
	provider WalletProvider,
	cfg config.WalletConfig,
	log *zap.Logger,
) *BetService {
	return &BetService{
		betRepo:  betRepo,
		wallets:  wallets,
		provider: provider,
		cfg:      cfg,
		log:      log.Named("bet"),
	}
}

// CreateBet opens a new bet in the group. The short betId is what
// participants type to join.
func (s *BetService) CreateBet(
	ctx context.Context,
	groupID, creatorID int64,
	title string,
	options []string,
	minAmount float64,
	duration time.Duration,
) (*models.Bet, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is required")
	}
	if len(options) < 2 {
		return nil, errors.New("a bet needs at least two options")
	}
	for _, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return nil, errors.New("options must not be empty")
		}
	}
	if minAmount <= 0 {
		return nil, errors.New("minimum stake must be positive")
	}
	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}

	bet := &models.Bet{
		BetID:        uuid.NewString()[:8],
		Title:        strings.TrimSpace(title),
		Options:      options,
		MinAmount:    minAmount,
		GroupID:      groupID,
		CreatorID:    creatorID,
		EndTime:      time.Now().Add(duration),
		Participants: []string{},
		Votes:        models.VoteMap{},
	}
	if err := s.betRepo.Create(ctx, bet); err != nil {
		return nil, fmt.Errorf("create bet: %w", err)
	}
	s.log.Info("bet created",
		zap.String("bet", bet.BetID),
		zap.Int64("group", groupID),
		zap.Float64("minAmount", minAmount),
		zap.Time("endTime", bet.EndTime),
	)
	return bet, nil
}

// JoinBet stakes the bet's minimum amount on the chosen option. The
// participant's wallet is provisioned on the fly if this is their first
// interaction.
func (s *BetService) JoinBet(ctx context.Context, betID, username string, optionIndex int) (*models.Bet, error) {
	bet, err := s.betRepo.FindByBetID(ctx, betID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("load bet %s: %w", betID, err)
	}
	if bet.Resolved || time.Now().After(bet.EndTime) {
		return nil, ErrBetClosed
	}
	if bet.HasParticipant(username) {
		return nil, ErrAlreadyJoined
	}
	if optionIndex < 0 || optionIndex >= len(bet.Options) {
		return nil, ErrInvalidOption
	}

	w, err := s.wallets.EnsureWallet(ctx, username)
	if err != nil {
		return nil, err
	}
	balance, err := s.provider.GetBalance(ctx, w.Address)
	if err != nil {
		return nil, fmt.Errorf("check balance for %s: %w", username, err)
	}
	if balance < bet.MinAmount {
		return nil, ErrInsufficientBalance
	}

	key, err := utils.Decrypt(s.cfg.EncryptionKey, w.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt key for %s: %w", username, err)
	}
	res, err := s.provider.Transfer(ctx, key, s.cfg.AgentAddress, bet.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("collect stake from %s for bet %s: %w", username, betID, err)
	}

	if bet.Votes == nil {
		bet.Votes = models.VoteMap{}
	}
	bet.Participants = append(bet.Participants, username)
	bet.Votes.Set(username, optionIndex)
	if err := s.betRepo.Update(ctx, bet); err != nil {
		// The stake already moved; the operator has to reconcile by hand,
		// so the signature must survive in the log.
		s.log.Error("stake collected but join not persisted",
			zap.String("bet", betID),
			zap.String("username", username),
			zap.String("signature", res.Signature),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record join for %s on bet %s: %w", username, betID, err)
	}

	s.log.Info("participant joined",
		zap.String("bet", betID),
		zap.String("username", username),
		zap.Int("option", optionIndex),
		zap.Float64("stake", bet.MinAmount),
	)
	return bet, nil
}
