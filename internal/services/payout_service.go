package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"github.com/predolabs/predo-bot/pkg/queue"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// PayoutService executes the money-moving jobs. Transfers are funded from
// the agent (pool) wallet and are individually guarded by payout receipts,
// so a job retried after a partial failure skips everyone already paid.
type PayoutService struct {
	betRepo     repositories.BetRepository
	walletRepo  repositories.WalletRepository
	receiptRepo repositories.ReceiptRepository
	provider    WalletProvider
	notifier    Notifier
	cfg         config.WalletConfig
	log         *zap.Logger
}

// NewPayoutService creates a new PayoutService
func NewPayoutService(
	betRepo repositories.BetRepository,
	walletRepo repositories.WalletRepository,
	receiptRepo repositories.ReceiptRepository,
	provider WalletProvider,
	notifier Notifier,
	cfg config.WalletConfig,
	log *zap.Logger,
) *PayoutService {
	return &PayoutService{
		betRepo:     betRepo,
		walletRepo:  walletRepo,
		receiptRepo: receiptRepo,
		provider:    provider,
		notifier:    notifier,
		cfg:         cfg,
		log:         log.Named("payout"),
	}
}

// RegisterHandlers wires refund and payout jobs onto the payout queue and
// subscribes the exhausted-retries notification.
func (s *PayoutService) RegisterHandlers(q *queue.Queue) {
	q.Process(JobSingleRefund, s.HandleSingleRefund)
	q.Process(JobMultiPayout, s.HandleMultiPayout)
	q.OnFailed(s.NotifyJobFailed)
}

// HandleSingleRefund returns the stake of a bet's sole participant.
func (s *PayoutService) HandleSingleRefund(ctx context.Context, job *queue.Job) error {
	var p SingleRefundPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode single-refund payload: %w", err)
	}
	betID, err := primitive.ObjectIDFromHex(p.BetID)
	if err != nil {
		return fmt.Errorf("single-refund: bad bet id %q: %w", p.BetID, err)
	}

	bet, err := s.betRepo.FindByID(ctx, betID)
	if err != nil {
		return fmt.Errorf("single-refund: load bet: %w", err)
	}
	if bet.Resolved {
		return nil
	}

	w, err := s.walletRepo.FindByUsername(ctx, p.Participant)
	if err != nil {
		return fmt.Errorf("single-refund: wallet for %s: %w", p.Participant, err)
	}

	res, err := s.provider.Transfer(ctx, s.cfg.AgentWalletKey, w.Address, p.Amount)
	if err != nil {
		return fmt.Errorf("single-refund: transfer to %s: %w", p.Participant, err)
	}

	settled, err := s.betRepo.SettleConditional(ctx, betID, map[string]interface{}{
		"resolved":        true,
		"winner":          p.Participant,
		"transactionHash": res.Signature,
	})
	if err != nil {
		return fmt.Errorf("single-refund: settle bet: %w", err)
	}
	if !settled {
		return nil
	}

	notifyTo := p.CreatorID
	if notifyTo == 0 {
		notifyTo = p.GroupID
	}
	if _, nerr := s.notifier.SendMessage(notifyTo, fmt.Sprintf(
		"🔄 The bet %q has ended.\n\nSince you were the only participant in this bet, we've returned your amount.\n\nTransaction: %s",
		p.Title, res.Signature)); nerr != nil {
		s.log.Warn("send refund notice", zap.Error(nerr))
	}
	return nil
}

// HandleMultiPayout pays each winner sequentially, then the platform fee,
// then settles the bet. Any transfer failure aborts the rest of the job
// and lets the queue retry it; receipts keep the retry from paying twice.
func (s *PayoutService) HandleMultiPayout(ctx context.Context, job *queue.Job) error {
	var p MultiPayoutPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode multi-payout payload: %w", err)
	}
	betID, err := primitive.ObjectIDFromHex(p.BetID)
	if err != nil {
		return fmt.Errorf("multi-payout: bad bet id %q: %w", p.BetID, err)
	}

	bet, err := s.betRepo.FindByID(ctx, betID)
	if err != nil {
		return fmt.Errorf("multi-payout: load bet: %w", err)
	}
	if bet.Resolved {
		return nil
	}

	var lastSignature string
	for _, winner := range p.Winners {
		sig, err := s.payOnce(ctx, betID, winner, p.WinningOption, p.PayoutPerWinner, "")
		if err != nil {
			return fmt.Errorf("multi-payout: pay %s: %w", winner, err)
		}
		if sig != "" {
			lastSignature = sig
		}
	}

	if p.PlatformFee > 0 && s.cfg.PlatformAddress != "" {
		sig, err := s.payOnce(ctx, betID, models.PlatformReceiptUser, p.WinningOption, p.PlatformFee, s.cfg.PlatformAddress)
		if err != nil {
			return fmt.Errorf("multi-payout: collect platform fee: %w", err)
		}
		if sig != "" {
			lastSignature = sig
		}
	}

	settled, err := s.betRepo.SettleConditional(ctx, betID, map[string]interface{}{
		"resolved":        true,
		"winner":          bet.Options[p.WinningOption],
		"transactionHash": lastSignature,
	})
	if err != nil {
		return fmt.Errorf("multi-payout: settle bet: %w", err)
	}
	if !settled {
		return nil
	}

	mentions := make([]string, 0, len(p.Winners))
	for _, w := range p.Winners {
		mentions = append(mentions, "@"+w)
	}
	if _, nerr := s.notifier.SendMessage(p.GroupID, fmt.Sprintf(
		"🎯 Bet %q resolved!\nWinning Option: %s\nWinners: %s\nPayout per winner: %.2f USDC",
		p.Title, bet.Options[p.WinningOption], strings.Join(mentions, ", "), p.PayoutPerWinner)); nerr != nil {
		s.log.Warn("send payout notice", zap.Error(nerr))
	}
	return nil
}

// payOnce transfers amount to the recipient at most once per
// (bet, recipient, option) key. toAddress overrides the wallet lookup for
// the platform fee. An empty signature means the receipt already existed.
func (s *PayoutService) payOnce(ctx context.Context, betID primitive.ObjectID, recipient string, optionIndex int, amount float64, toAddress string) (string, error) {
	paid, err := s.receiptRepo.Exists(ctx, betID, recipient, optionIndex)
	if err != nil {
		return "", fmt.Errorf("check receipt: %w", err)
	}
	if paid {
		s.log.Info("transfer already receipted, skipping",
			zap.String("bet", betID.Hex()),
			zap.String("recipient", recipient),
		)
		return "", nil
	}

	if toAddress == "" {
		w, err := s.walletRepo.FindByUsername(ctx, recipient)
		if err != nil {
			return "", fmt.Errorf("wallet lookup: %w", err)
		}
		toAddress = w.Address
	}

	res, err := s.provider.Transfer(ctx, s.cfg.AgentWalletKey, toAddress, amount)
	if err != nil {
		return "", err
	}

	if err := s.receiptRepo.Create(ctx, &models.PayoutReceipt{
		BetID:       betID,
		Username:    recipient,
		OptionIndex: optionIndex,
		Amount:      amount,
		Signature:   res.Signature,
	}); err != nil {
		// The transfer went through but the receipt write failed. A retry
		// can double-pay this recipient, so the error must reach an
		// operator before anyone retries the job.
		return "", fmt.Errorf("record receipt after transfer %s: %w", res.Signature, err)
	}
	return res.Signature, nil
}

// NotifyJobFailed posts the plain-language failure notice after a job
// exhausts its retries. Raw error text never reaches the chat.
func (s *PayoutService) NotifyJobFailed(job *queue.Job, _ error) {
	var p struct {
		GroupID int64  `json:"groupId"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.GroupID == 0 {
		return
	}
	if _, err := s.notifier.SendMessage(p.GroupID, fmt.Sprintf(
		"⚠️ There was an error processing the payout for bet %q. Our team has been notified and will resolve this shortly.",
		p.Title)); err != nil {
		s.log.Warn("send failure notice", zap.Error(err))
	}
}
