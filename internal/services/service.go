package services

import (
	"context"
	"time"

	"github.com/predolabs/predo-bot/pkg/oracle"
	"github.com/predolabs/predo-bot/pkg/telegram"
	"github.com/predolabs/predo-bot/pkg/wallet"
)

// The settlement core never reaches for a global bot or wallet handle:
// every collaborator below is injected at construction.

// Notifier sends user-visible messages. Implemented by pkg/telegram.
type Notifier interface {
	SendMessage(chatID int64, text string) (int, error)
	SendMessageWithButtons(chatID int64, text string, buttons [][]telegram.Button) (int, error)
	EditMessageText(chatID int64, messageID int, text string, buttons [][]telegram.Button) error
	AnswerCallback(callbackID, text string) error
}

// WalletProvider is the custodial wallet capability. Implemented by
// pkg/wallet.
type WalletProvider interface {
	CreateWallet(ctx context.Context) (*wallet.Wallet, error)
	GetBalance(ctx context.Context, address string) (float64, error)
	Transfer(ctx context.Context, fromPrivateKey, toAddress string, amount float64) (*wallet.TransferResult, error)
}

// OutcomeOracle proposes a winning option for an expired bet, or
// oracle.Indeterminate. Implemented by pkg/oracle.
type OutcomeOracle interface {
	Resolve(ctx context.Context, title string, options []string, endTime time.Time) (*oracle.Resolution, error)
}

// JobQueue is the enqueue-side of the durable queue. Implemented by
// pkg/queue.
type JobQueue interface {
	Add(ctx context.Context, jobName string, payload interface{}, delay time.Duration) (string, error)
}
