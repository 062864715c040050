package services

import (
	"context"
	"testing"

	"github.com/predolabs/predo-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type voteFixture struct {
	bets     *fakeBetRepo
	polls    *fakePollRepo
	notifier *fakeNotifier
	svc      *VoteService
}

func newVoteFixture(t *testing.T, bet *models.Bet) *voteFixture {
	t.Helper()
	f := &voteFixture{
		bets:     newFakeBetRepo(bet),
		polls:    &fakePollRepo{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewVoteService(f.bets, f.polls, f.notifier, zap.NewNop())
	return f
}

func TestHandleVoteCallbackRecordsAndOverwritesVote(t *testing.T) {
	bet := expiredBet("alice", "bob")
	f := newVoteFixture(t, bet)
	f.polls.Create(context.Background(), &models.Poll{
		BetID:        bet.ID,
		GroupID:      bet.GroupID,
		IsManualPoll: true,
		Votes:        models.VoteMap{},
	})

	ev := VoteEvent{CallbackID: "cb1", UserID: 7, Action: ActionVote, BetID: bet.ID.Hex(), OptionIndex: 0}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), ev))

	poll := f.polls.unresolvedFor(bet.ID)
	require.NotNil(t, poll)
	assert.Equal(t, 0, poll.Votes["7"])

	// Same voter changes their mind: one vote, latest value.
	ev.OptionIndex = 1
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), ev))

	poll = f.polls.unresolvedFor(bet.ID)
	assert.Len(t, poll.Votes, 1)
	assert.Equal(t, 1, poll.Votes["7"])
}

func TestHandleVoteCallbackRatificationTally(t *testing.T) {
	bet := expiredBet("alice", "bob")
	f := newVoteFixture(t, bet)
	aiOption := 1
	f.polls.Create(context.Background(), &models.Poll{
		BetID:    bet.ID,
		GroupID:  bet.GroupID,
		Votes:    models.VoteMap{},
		AIOption: &aiOption,
	})

	accept := VoteEvent{CallbackID: "cb1", UserID: 7, Action: ActionAcceptResolution, BetID: bet.ID.Hex()}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), accept))
	reject := VoteEvent{CallbackID: "cb2", UserID: 8, Action: ActionRejectResolution, BetID: bet.ID.Hex()}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), reject))

	poll := f.polls.unresolvedFor(bet.ID)
	accepts, rejects := poll.Votes.AcceptRejectTally()
	assert.Equal(t, 1, accepts)
	assert.Equal(t, 1, rejects)

	// Every vote re-renders the live tally on the poll message.
	assert.Len(t, f.notifier.edits, 2)
	assert.Contains(t, f.notifier.edits[1].Text, "✅ Accept: 1 votes (50.0%)")
	assert.Contains(t, f.notifier.edits[1].Text, "❌ Reject: 1 votes (50.0%)")
}

func TestHandleVoteCallbackRejectsWrongActionForPollKind(t *testing.T) {
	bet := expiredBet("alice", "bob")
	f := newVoteFixture(t, bet)
	f.polls.Create(context.Background(), &models.Poll{
		BetID:        bet.ID,
		IsManualPoll: true,
		Votes:        models.VoteMap{},
	})

	ev := VoteEvent{CallbackID: "cb1", UserID: 7, Action: ActionAcceptResolution, BetID: bet.ID.Hex()}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), ev))

	poll := f.polls.unresolvedFor(bet.ID)
	assert.Empty(t, poll.Votes)
	require.Len(t, f.notifier.answers, 1)
	assert.Equal(t, "Invalid action.", f.notifier.answers[0])
}

func TestHandleVoteCallbackOnExpiredPoll(t *testing.T) {
	bet := expiredBet("alice", "bob")
	f := newVoteFixture(t, bet)
	// No unresolved poll exists.

	ev := VoteEvent{CallbackID: "cb1", UserID: 7, Action: ActionVote, BetID: bet.ID.Hex(), OptionIndex: 0}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), ev))

	require.Len(t, f.notifier.answers, 1)
	assert.Equal(t, "This poll has expired or does not exist.", f.notifier.answers[0])
}

func TestHandleVoteCallbackLosesRaceToTallyWorker(t *testing.T) {
	bet := expiredBet("alice", "bob")
	f := newVoteFixture(t, bet)
	f.polls.Create(context.Background(), &models.Poll{
		BetID:        bet.ID,
		GroupID:      bet.GroupID,
		IsManualPoll: true,
		Votes:        models.VoteMap{},
	})

	// The tally worker resolves the poll between the handler's read and
	// its write. The late vote must not land, and above all must not
	// flip the poll back to unresolved.
	f.polls.afterFindUnresolved = func() {
		f.polls.mu.Lock()
		defer f.polls.mu.Unlock()
		f.polls.polls[0].Resolved = true
	}

	ev := VoteEvent{CallbackID: "cb1", UserID: 7, Action: ActionVote, BetID: bet.ID.Hex(), OptionIndex: 0}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), ev))

	assert.Nil(t, f.polls.unresolvedFor(bet.ID))
	f.polls.mu.Lock()
	resolved := f.polls.polls[0]
	f.polls.mu.Unlock()
	assert.True(t, resolved.Resolved)
	assert.Empty(t, resolved.Votes)
	require.Len(t, f.notifier.answers, 1)
	assert.Equal(t, "This poll has expired or does not exist.", f.notifier.answers[0])
	assert.Empty(t, f.notifier.edits, "no tally render for a vote that did not land")
}

func TestHandleVoteCallbackRejectsOutOfRangeOption(t *testing.T) {
	bet := expiredBet("alice", "bob")
	f := newVoteFixture(t, bet)
	f.polls.Create(context.Background(), &models.Poll{
		BetID:        bet.ID,
		IsManualPoll: true,
		Votes:        models.VoteMap{},
	})

	ev := VoteEvent{CallbackID: "cb1", UserID: 7, Action: ActionVote, BetID: bet.ID.Hex(), OptionIndex: 9}
	require.NoError(t, f.svc.HandleVoteCallback(context.Background(), ev))

	poll := f.polls.unresolvedFor(bet.ID)
	assert.Empty(t, poll.Votes)
	require.Len(t, f.notifier.answers, 1)
	assert.Equal(t, "Invalid option.", f.notifier.answers[0])
}
