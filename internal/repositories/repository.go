package repositories

import (
	"context"
	"time"

	"github.com/predolabs/predo-bot/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BetRepository defines the interface for bet data operations
type BetRepository interface {
	Create(ctx context.Context, bet *models.Bet) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Bet, error)
	FindByBetID(ctx context.Context, betID string) (*models.Bet, error)
	Update(ctx context.Context, bet *models.Bet) error

	// FindExpiredUnresolved returns bets whose endTime has passed, that are
	// not resolved yet and that have at least one participant.
	FindExpiredUnresolved(ctx context.Context, now time.Time) ([]*models.Bet, error)

	// SettleConditional applies patch to the bet only if it is still
	// unresolved, and reports whether the write happened. This is the
	// atomic guard that keeps the reconciliation sweep and the queue's
	// normal completion path from racing each other into a double payout.
	SettleConditional(ctx context.Context, id primitive.ObjectID, patch map[string]interface{}) (bool, error)
}

// PollRepository defines the interface for poll data operations
type PollRepository interface {
	Create(ctx context.Context, poll *models.Poll) error
	Update(ctx context.Context, poll *models.Poll) error

	// RecordVote sets a single voter's entry on an unresolved poll. The
	// write targets the one field so a concurrent tally cannot be
	// clobbered. ok == false means the poll is gone or already resolved.
	RecordVote(ctx context.Context, pollID primitive.ObjectID, userID string, value int) (bool, error)

	// FindUnresolvedByBet returns the bet's single in-flight poll, or nil
	// when the bet has no unresolved poll.
	FindUnresolvedByBet(ctx context.Context, betID primitive.ObjectID) (*models.Poll, error)

	// FindLatestResolvedByBet returns the most recently created resolved
	// poll for the bet, or nil. Used by the crash-recovery sweep to
	// re-derive winners from persisted votes.
	FindLatestResolvedByBet(ctx context.Context, betID primitive.ObjectID) (*models.Poll, error)

	DistinctBetIDsWithUnresolvedPolls(ctx context.Context) ([]primitive.ObjectID, error)
	DistinctBetIDsWithResolvedPolls(ctx context.Context) ([]primitive.ObjectID, error)

	// AcquireLock atomically claims the poll's processing lease with the
	// given token. It succeeds when the poll is unresolved and either has
	// no lock or the existing lock is older than timeout. Returns false
	// when another worker holds a fresh lock.
	AcquireLock(ctx context.Context, pollID primitive.ObjectID, token string, timeout time.Duration) (bool, error)

	// ReleaseLock clears the lease if it is still held by token.
	ReleaseLock(ctx context.Context, pollID primitive.ObjectID, token string) error
}

// WalletRepository defines the interface for user wallet data operations
type WalletRepository interface {
	Create(ctx context.Context, wallet *models.UserWallet) error
	FindByUsername(ctx context.Context, username string) (*models.UserWallet, error)
}

// ReceiptRepository defines the interface for payout receipt operations
type ReceiptRepository interface {
	Create(ctx context.Context, receipt *models.PayoutReceipt) error
	Exists(ctx context.Context, betID primitive.ObjectID, username string, optionIndex int) (bool, error)
}
