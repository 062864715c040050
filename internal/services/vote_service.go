package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"github.com/predolabs/predo-bot/pkg/telegram"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// VoteEvent is one inline-button press on a resolution poll.
type VoteEvent struct {
	CallbackID  string
	UserID      int64
	Action      string
	BetID       string
	OptionIndex int
}

// VoteService records ratification and manual-poll votes and keeps the
// poll message's live tally up to date. A user voting again overwrites
// their previous vote.
type VoteService struct {
	betRepo  repositories.BetRepository
	pollRepo repositories.PollRepository
	notifier Notifier
	log      *zap.Logger
}

// NewVoteService creates a new VoteService
func NewVoteService(
	betRepo repositories.BetRepository,
	pollRepo repositories.PollRepository,
	notifier Notifier,
	log *zap.Logger,
) *VoteService {
	return &VoteService{
		betRepo:  betRepo,
		pollRepo: pollRepo,
		notifier: notifier,
		log:      log.Named("vote"),
	}
}

// HandleVoteCallback validates the event against the bet's in-flight poll,
// records the vote and re-renders the tally. Invalid or late events only
// get a callback answer; they never mutate state.
func (s *VoteService) HandleVoteCallback(ctx context.Context, ev VoteEvent) error {
	betID, err := primitive.ObjectIDFromHex(ev.BetID)
	if err != nil {
		return s.answer(ev, "Invalid bet.")
	}

	poll, err := s.pollRepo.FindUnresolvedByBet(ctx, betID)
	if err != nil {
		return fmt.Errorf("load poll for bet %s: %w", ev.BetID, err)
	}
	if poll == nil {
		return s.answer(ev, "This poll has expired or does not exist.")
	}

	bet, err := s.betRepo.FindByID(ctx, betID)
	if err != nil {
		return fmt.Errorf("load bet %s: %w", ev.BetID, err)
	}

	userID := fmt.Sprintf("%d", ev.UserID)
	var value int
	var confirmation string
	switch ev.Action {
	case ActionAcceptResolution:
		if poll.IsManualPoll {
			return s.answer(ev, "Invalid action.")
		}
		value = models.VoteAccept
		confirmation = "You voted to accept the AI resolution."
	case ActionRejectResolution:
		if poll.IsManualPoll {
			return s.answer(ev, "Invalid action.")
		}
		value = models.VoteReject
		confirmation = "You voted to reject the AI resolution."
	case ActionVote:
		if !poll.IsManualPoll {
			return s.answer(ev, "Invalid action.")
		}
		if ev.OptionIndex < 0 || ev.OptionIndex >= len(bet.Options) {
			return s.answer(ev, "Invalid option.")
		}
		value = ev.OptionIndex
		confirmation = fmt.Sprintf("You voted for: %s", bet.Options[ev.OptionIndex])
	default:
		return s.answer(ev, "Invalid action.")
	}

	// Targeted write: the tally worker may resolve the poll between our
	// read and this point, and a full replace would resurrect it.
	ok, err := s.pollRepo.RecordVote(ctx, poll.ID, userID, value)
	if err != nil {
		return fmt.Errorf("record vote on poll %s: %w", poll.ID.Hex(), err)
	}
	if !ok {
		return s.answer(ev, "This poll has expired or does not exist.")
	}
	poll.Votes.Set(userID, value)

	if err := s.answer(ev, confirmation); err != nil {
		s.log.Warn("answer callback", zap.Error(err))
	}
	s.renderTally(bet, poll)
	return nil
}

func (s *VoteService) answer(ev VoteEvent, text string) error {
	return s.notifier.AnswerCallback(ev.CallbackID, text)
}

// renderTally edits the poll message to show the current results, keeping
// the original buttons so voters can change their minds.
func (s *VoteService) renderTally(bet *models.Bet, poll *models.Poll) {
	var text string
	var buttons [][]telegram.Button
	if poll.IsManualPoll {
		text = s.manualTallyText(bet, poll)
		for idx, opt := range bet.Options {
			buttons = append(buttons, []telegram.Button{{
				Text: opt,
				Data: fmt.Sprintf("%s:%s:%d", ActionVote, bet.ID.Hex(), idx),
			}})
		}
	} else {
		text = s.ratificationTallyText(bet, poll)
		aiOption := 0
		if poll.AIOption != nil {
			aiOption = *poll.AIOption
		}
		buttons = [][]telegram.Button{{
			{Text: "✅ Accept", Data: fmt.Sprintf("%s:%s:%d", ActionAcceptResolution, bet.ID.Hex(), aiOption)},
			{Text: "❌ Reject", Data: fmt.Sprintf("%s:%s", ActionRejectResolution, bet.ID.Hex())},
		}}
	}
	if err := s.notifier.EditMessageText(poll.GroupID, poll.PollMessageID, text, buttons); err != nil {
		s.log.Warn("update tally message", zap.String("poll", poll.ID.Hex()), zap.Error(err))
	}
}

func (s *VoteService) manualTallyText(bet *models.Bet, poll *models.Poll) string {
	total := len(poll.Votes)
	var b strings.Builder
	fmt.Fprintf(&b, "🗳️ Poll for %q\n\nCurrent Results:\n", bet.Title)
	for idx, opt := range bet.Options {
		votes := poll.Votes.CountValue(idx)
		pct := 0.0
		if total > 0 {
			pct = float64(votes) / float64(total) * 100
		}
		fmt.Fprintf(&b, "%s: %d votes (%.1f%%)\n", opt, votes, pct)
	}
	fmt.Fprintf(&b, "\nTotal Votes: %d", total)
	return b.String()
}

func (s *VoteService) ratificationTallyText(bet *models.Bet, poll *models.Poll) string {
	accepts, rejects := poll.Votes.AcceptRejectTally()
	total := len(poll.Votes)
	acceptPct, rejectPct := 0.0, 0.0
	if total > 0 {
		acceptPct = float64(accepts) / float64(total) * 100
		rejectPct = float64(rejects) / float64(total) * 100
	}
	aiChoice := ""
	if poll.AIOption != nil && *poll.AIOption >= 0 && *poll.AIOption < len(bet.Options) {
		aiChoice = bet.Options[*poll.AIOption]
	}
	return fmt.Sprintf(
		"🤖 AI Resolution for %q\n\nAI's Choice: %s\n\nCurrent Results:\n✅ Accept: %d votes (%.1f%%)\n❌ Reject: %d votes (%.1f%%)\n\nTotal Votes: %d",
		bet.Title, aiChoice, accepts, acceptPct, rejects, rejectPct, total)
}
