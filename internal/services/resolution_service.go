package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"github.com/predolabs/predo-bot/pkg/oracle"
	"github.com/predolabs/predo-bot/pkg/queue"
	"github.com/predolabs/predo-bot/pkg/telegram"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Inline-button actions understood by the vote callback handler. The
// callback payload format is "action:betID[:optionIndex]".
const (
	ActionAcceptResolution = "accept_resolution"
	ActionRejectResolution = "reject_resolution"
	ActionVote             = "vote"
)

// ResolutionService drives a single bet from expired to settled:
// single-participant refund, AI proposal plus ratification poll, fallback
// manual poll, tally and payout dispatch. All state lives in the store;
// the service itself is stateless and every step is safe to re-run.
type ResolutionService struct {
	betRepo     repositories.BetRepository
	pollRepo    repositories.PollRepository
	oracle      OutcomeOracle
	notifier    Notifier
	payoutQueue JobQueue
	pollQueue   JobQueue
	cfg         config.SettlementConfig
	log         *zap.Logger
}

// NewResolutionService creates a new ResolutionService
func NewResolutionService(
	betRepo repositories.BetRepository,
	pollRepo repositories.PollRepository,
	outcomeOracle OutcomeOracle,
	notifier Notifier,
	payoutQueue JobQueue,
	pollQueue JobQueue,
	cfg config.SettlementConfig,
	log *zap.Logger,
) *ResolutionService {
	return &ResolutionService{
		betRepo:     betRepo,
		pollRepo:    pollRepo,
		oracle:      outcomeOracle,
		notifier:    notifier,
		payoutQueue: payoutQueue,
		pollQueue:   pollQueue,
		cfg:         cfg,
		log:         log.Named("resolution"),
	}
}

// RegisterHandlers wires the delayed tally wrappers onto the poll queue.
func (s *ResolutionService) RegisterHandlers(q *queue.Queue) {
	q.Process(JobFinalizeResolution, func(ctx context.Context, job *queue.Job) error {
		betID, err := pollJobBetID(job)
		if err != nil {
			return err
		}
		return s.FinalizeResolution(ctx, betID)
	})
	q.Process(JobProcessPollResults, func(ctx context.Context, job *queue.Job) error {
		betID, err := pollJobBetID(job)
		if err != nil {
			return err
		}
		return s.ProcessPollResults(ctx, betID)
	})
}

func pollJobBetID(job *queue.Job) (primitive.ObjectID, error) {
	var p PollJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return primitive.NilObjectID, fmt.Errorf("decode %s payload: %w", job.Name, err)
	}
	return primitive.ObjectIDFromHex(p.BetID)
}

// ProcessExpiredBet is the orchestrator entry point, invoked once per
// expiry by the scheduler. A bet with a single participant is refunded
// without ever consulting the oracle. Otherwise the oracle proposes an
// outcome that participants ratify, or the bet goes straight to a manual
// poll when the oracle cannot decide.
func (s *ResolutionService) ProcessExpiredBet(ctx context.Context, bet *models.Bet) error {
	if len(bet.Participants) < 2 {
		_, err := s.payoutQueue.Add(ctx, JobSingleRefund, SingleRefundPayload{
			BetID:       bet.ID.Hex(),
			GroupID:     bet.GroupID,
			CreatorID:   bet.CreatorID,
			Title:       bet.Title,
			Participant: bet.Participants[0],
			Amount:      bet.MinAmount,
		}, 0)
		if err != nil {
			return fmt.Errorf("queue single refund for bet %s: %w", bet.BetID, err)
		}
		return nil
	}

	res, err := s.oracle.Resolve(ctx, bet.Title, bet.Options, bet.EndTime)
	if err != nil {
		// No poll was created, so the next sweep picks this bet up again.
		if _, nerr := s.notifier.SendMessage(bet.GroupID, fmt.Sprintf(
			"⚠️ There was an error processing bet %q. Our team has been notified and will resolve this shortly.",
			bet.Title)); nerr != nil {
			s.log.Warn("send oracle failure notice", zap.Error(nerr))
		}
		return fmt.Errorf("oracle resolve bet %s: %w", bet.BetID, err)
	}

	if res.Option == oracle.Indeterminate {
		s.log.Info("oracle indeterminate, opening manual poll",
			zap.String("bet", bet.BetID), zap.String("reason", res.Reason))
		return s.openManualPoll(ctx, bet)
	}
	return s.openRatificationPoll(ctx, bet, res)
}

// openRatificationPoll posts the AI proposal with accept/reject buttons
// and schedules the delayed finalize step.
func (s *ResolutionService) openRatificationPoll(ctx context.Context, bet *models.Bet, res *oracle.Resolution) error {
	text := fmt.Sprintf(
		"🤖 AI Resolution for bet %q\n\nSelected Option: %s\nReason: %s\n\nPlease vote to accept or reject this resolution.",
		bet.Title, bet.Options[res.Option], res.Reason)
	buttons := [][]telegram.Button{{
		{Text: "✅ Accept", Data: fmt.Sprintf("%s:%s:%d", ActionAcceptResolution, bet.ID.Hex(), res.Option)},
		{Text: "❌ Reject", Data: fmt.Sprintf("%s:%s", ActionRejectResolution, bet.ID.Hex())},
	}}
	msgID, err := s.notifier.SendMessageWithButtons(bet.GroupID, text, buttons)
	if err != nil {
		return fmt.Errorf("post ratification poll for bet %s: %w", bet.BetID, err)
	}

	aiOption := res.Option
	poll := &models.Poll{
		BetID:         bet.ID,
		PollMessageID: msgID,
		GroupID:       bet.GroupID,
		Votes:         models.VoteMap{},
		AIOption:      &aiOption,
	}
	if err := s.pollRepo.Create(ctx, poll); err != nil {
		return fmt.Errorf("create ratification poll for bet %s: %w", bet.BetID, err)
	}

	_, err = s.pollQueue.Add(ctx, JobFinalizeResolution, PollJobPayload{
		BetID:   bet.ID.Hex(),
		GroupID: bet.GroupID,
		Title:   bet.Title,
	}, s.cfg.RatificationWindow)
	if err != nil {
		return fmt.Errorf("schedule finalize for bet %s: %w", bet.BetID, err)
	}
	return nil
}

// openManualPoll posts one button per option and schedules the delayed
// tally.
func (s *ResolutionService) openManualPoll(ctx context.Context, bet *models.Bet) error {
	text := fmt.Sprintf(
		"🗳️ Manual Resolution Required for %q\n\nPlease vote for the correct outcome:",
		bet.Title)
	buttons := make([][]telegram.Button, 0, len(bet.Options))
	for idx, opt := range bet.Options {
		buttons = append(buttons, []telegram.Button{{
			Text: opt,
			Data: fmt.Sprintf("%s:%s:%d", ActionVote, bet.ID.Hex(), idx),
		}})
	}
	msgID, err := s.notifier.SendMessageWithButtons(bet.GroupID, text, buttons)
	if err != nil {
		return fmt.Errorf("post manual poll for bet %s: %w", bet.BetID, err)
	}

	poll := &models.Poll{
		BetID:         bet.ID,
		PollMessageID: msgID,
		GroupID:       bet.GroupID,
		Votes:         models.VoteMap{},
		IsManualPoll:  true,
	}
	if err := s.pollRepo.Create(ctx, poll); err != nil {
		return fmt.Errorf("create manual poll for bet %s: %w", bet.BetID, err)
	}

	_, err = s.pollQueue.Add(ctx, JobProcessPollResults, PollJobPayload{
		BetID:   bet.ID.Hex(),
		GroupID: bet.GroupID,
		Title:   bet.Title,
	}, s.cfg.ManualPollWindow)
	if err != nil {
		return fmt.Errorf("schedule manual tally for bet %s: %w", bet.BetID, err)
	}
	return nil
}

// FinalizeResolution tallies the ratification poll once its window has
// passed. Accepted proposals dispatch the payout; rejected ones (including
// a silent poll with no votes) fall back to a manual poll.
func (s *ResolutionService) FinalizeResolution(ctx context.Context, betID primitive.ObjectID) error {
	bet, poll, err := s.loadForTally(ctx, betID, false)
	if err != nil || poll == nil {
		return err
	}

	release, ok, err := s.lockPoll(ctx, poll)
	if err != nil || !ok {
		return err
	}
	defer release()

	accepts, rejects := poll.Votes.AcceptRejectTally()
	if accepts > rejects && poll.AIOption != nil {
		if err := s.resolvePoll(ctx, poll); err != nil {
			return err
		}
		return s.DispatchPayout(ctx, bet, *poll.AIOption)
	}

	s.log.Info("AI resolution rejected, opening manual poll",
		zap.String("bet", bet.BetID),
		zap.Int("accepts", accepts),
		zap.Int("rejects", rejects),
	)
	if err := s.resolvePoll(ctx, poll); err != nil {
		return err
	}
	return s.openManualPoll(ctx, bet)
}

// ProcessPollResults tallies a manual poll once its window has passed.
func (s *ResolutionService) ProcessPollResults(ctx context.Context, betID primitive.ObjectID) error {
	bet, poll, err := s.loadForTally(ctx, betID, true)
	if err != nil || poll == nil {
		return err
	}

	release, ok, err := s.lockPoll(ctx, poll)
	if err != nil || !ok {
		return err
	}
	defer release()

	winning, count := poll.Votes.WinningOption(len(bet.Options))
	s.log.Info("manual poll tallied",
		zap.String("bet", bet.BetID),
		zap.Int("winningOption", winning),
		zap.Int("votes", count),
	)
	if err := s.resolvePoll(ctx, poll); err != nil {
		return err
	}
	return s.DispatchPayout(ctx, bet, winning)
}

// loadForTally fetches the bet and its unresolved poll of the expected
// kind. A nil poll (with nil error) means there is nothing to do: the
// bet settled already, the poll was tallied early, or the phase moved on.
func (s *ResolutionService) loadForTally(ctx context.Context, betID primitive.ObjectID, manual bool) (*models.Bet, *models.Poll, error) {
	bet, err := s.betRepo.FindByID(ctx, betID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("load bet %s: %w", betID.Hex(), err)
	}
	if bet.Resolved {
		return nil, nil, nil
	}
	poll, err := s.pollRepo.FindUnresolvedByBet(ctx, betID)
	if err != nil {
		return nil, nil, fmt.Errorf("load poll for bet %s: %w", betID.Hex(), err)
	}
	if poll == nil || poll.IsManualPoll != manual {
		return nil, nil, nil
	}
	return bet, poll, nil
}

// lockPoll claims the poll's processing lease. ok == false means another
// worker holds it and the caller must no-op.
func (s *ResolutionService) lockPoll(ctx context.Context, poll *models.Poll) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = s.pollRepo.AcquireLock(ctx, poll.ID, token, s.cfg.PollLockTimeout)
	if err != nil {
		return nil, false, fmt.Errorf("acquire poll lock %s: %w", poll.ID.Hex(), err)
	}
	if !ok {
		s.log.Info("poll already being processed", zap.String("poll", poll.ID.Hex()))
		return nil, false, nil
	}
	poll.ProcessingLock = token
	poll.ProcessingStarted = time.Now()
	return func() {
		if rerr := s.pollRepo.ReleaseLock(ctx, poll.ID, token); rerr != nil {
			s.log.Warn("release poll lock", zap.String("poll", poll.ID.Hex()), zap.Error(rerr))
		}
	}, true, nil
}

func (s *ResolutionService) resolvePoll(ctx context.Context, poll *models.Poll) error {
	poll.Resolved = true
	if err := s.pollRepo.Update(ctx, poll); err != nil {
		return fmt.Errorf("mark poll %s resolved: %w", poll.ID.Hex(), err)
	}
	return nil
}

// DispatchPayout computes winners and amounts for the winning option and
// enqueues a single multi-payout job. With no winners nothing is
// transferred and no fee is collected; the bet is settled directly.
func (s *ResolutionService) DispatchPayout(ctx context.Context, bet *models.Bet, winningOption int) error {
	if winningOption < 0 || winningOption >= len(bet.Options) {
		return fmt.Errorf("bet %s: winning option %d out of range", bet.BetID, winningOption)
	}

	winners := bet.WinnersFor(winningOption)
	totalPool := bet.TotalPrizePool()
	platformFee := totalPool * s.cfg.FeeRate

	if len(winners) == 0 {
		settled, err := s.betRepo.SettleConditional(ctx, bet.ID, map[string]interface{}{
			"resolved": true,
			"winner":   bet.Options[winningOption],
		})
		if err != nil {
			return fmt.Errorf("settle no-winner bet %s: %w", bet.BetID, err)
		}
		if settled {
			if _, nerr := s.notifier.SendMessage(bet.GroupID, fmt.Sprintf(
				"🏁 Bet %q resolved.\nWinning Option: %s\n\nNo participant picked the winning option, so no payouts were made.",
				bet.Title, bet.Options[winningOption])); nerr != nil {
				s.log.Warn("send no-winner notice", zap.Error(nerr))
			}
		}
		return nil
	}

	netPool := totalPool - platformFee
	payoutPerWinner := netPool / float64(len(winners))

	_, err := s.payoutQueue.Add(ctx, JobMultiPayout, MultiPayoutPayload{
		BetID:           bet.ID.Hex(),
		GroupID:         bet.GroupID,
		Title:           bet.Title,
		Winners:         winners,
		WinningOption:   winningOption,
		PayoutPerWinner: payoutPerWinner,
		PlatformFee:     platformFee,
	}, 0)
	if err != nil {
		return fmt.Errorf("queue payout for bet %s: %w", bet.BetID, err)
	}
	s.log.Info("payout queued",
		zap.String("bet", bet.BetID),
		zap.Int("winners", len(winners)),
		zap.Float64("payoutPerWinner", payoutPerWinner),
		zap.Float64("platformFee", platformFee),
	)
	return nil
}

// ReconcileUnpaid is the crash-recovery sweep: a tally was persisted to a
// poll but the payout job never completed. Winners are re-derived from
// the poll's recorded votes, which is deterministic, and the payout is
// requeued. Polls tallied within the last sweep interval are skipped to
// give the normal completion path time to finish.
func (s *ResolutionService) ReconcileUnpaid(ctx context.Context) error {
	ids, err := s.pollRepo.DistinctBetIDsWithResolvedPolls(ctx)
	if err != nil {
		return fmt.Errorf("list bets with resolved polls: %w", err)
	}

	for _, id := range ids {
		if err := s.reconcileBet(ctx, id); err != nil {
			s.log.Error("reconcile bet", zap.String("bet", id.Hex()), zap.Error(err))
		}
	}
	return nil
}

func (s *ResolutionService) reconcileBet(ctx context.Context, betID primitive.ObjectID) error {
	bet, err := s.betRepo.FindByID(ctx, betID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}
	if bet.Resolved {
		return nil
	}
	inflight, err := s.pollRepo.FindUnresolvedByBet(ctx, betID)
	if err != nil {
		return err
	}
	if inflight != nil {
		// A newer poll is still collecting votes; not a stuck payout.
		return nil
	}
	poll, err := s.pollRepo.FindLatestResolvedByBet(ctx, betID)
	if err != nil || poll == nil {
		return err
	}
	if time.Since(poll.UpdatedAt) < s.cfg.SweepInterval {
		return nil
	}

	var winning int
	switch {
	case poll.IsManualPoll:
		winning, _ = poll.Votes.WinningOption(len(bet.Options))
	case poll.AIOption != nil:
		accepts, rejects := poll.Votes.AcceptRejectTally()
		if accepts <= rejects {
			// The rejection should have opened a manual poll, but none is
			// in flight: the poll send failed after the ratification poll
			// was already marked resolved. Reopen it here or the bet
			// never settles.
			s.log.Warn("reopening manual poll for rejected proposal",
				zap.String("bet", bet.BetID))
			return s.openManualPoll(ctx, bet)
		}
		winning = *poll.AIOption
	default:
		return nil
	}

	s.log.Warn("requeueing payout for tallied but unsettled bet",
		zap.String("bet", bet.BetID),
		zap.Int("winningOption", winning),
	)
	return s.DispatchPayout(ctx, bet, winning)
}
