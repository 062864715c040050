package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/services"
	"github.com/predolabs/predo-bot/pkg/queue"
	"go.uber.org/zap"
)

// TelegramHandler consumes bot updates: callback-query votes on resolution
// polls and a small set of admin commands.
type TelegramHandler struct {
	bot     *tgbotapi.BotAPI
	votes   *services.VoteService
	wallets *services.WalletService
	bets    *services.BetService
	queues  []*queue.Queue
	cfg     *config.Config
	log     *zap.Logger
	cancel  context.CancelFunc
	stopped sync.WaitGroup
}

// NewTelegramHandler creates a new TelegramHandler
func NewTelegramHandler(
	bot *tgbotapi.BotAPI,
	votes *services.VoteService,
	wallets *services.WalletService,
	bets *services.BetService,
	queues []*queue.Queue,
	cfg *config.Config,
	log *zap.Logger,
) *TelegramHandler {
	return &TelegramHandler{
		bot:     bot,
		votes:   votes,
		wallets: wallets,
		bets:    bets,
		queues:  queues,
		cfg:     cfg,
		log:     log.Named("telegram"),
	}
}

// Start begins long-polling for updates in a background goroutine.
func (h *TelegramHandler) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := h.bot.GetUpdatesChan(u)

	h.stopped.Add(1)
	go func() {
		defer h.stopped.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				h.handleUpdate(ctx, update)
			}
		}
	}()
}

// Stop halts long polling and waits for the update loop to drain.
func (h *TelegramHandler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.bot.StopReceivingUpdates()
	h.stopped.Wait()
}

func (h *TelegramHandler) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		h.handleCommand(ctx, update.Message)
	}
}

// handleCallback parses "action:betId[:optionIndex]" button data into a
// vote event.
func (h *TelegramHandler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	parts := strings.Split(cq.Data, ":")
	if len(parts) < 2 {
		h.log.Warn("malformed callback data", zap.String("data", cq.Data))
		return
	}

	ev := services.VoteEvent{
		CallbackID: cq.ID,
		UserID:     cq.From.ID,
		Action:     parts[0],
		BetID:      parts[1],
	}
	if len(parts) > 2 {
		idx, err := strconv.Atoi(parts[2])
		if err != nil {
			h.log.Warn("malformed option index", zap.String("data", cq.Data))
			return
		}
		ev.OptionIndex = idx
	}

	if err := h.votes.HandleVoteCallback(ctx, ev); err != nil {
		h.log.Error("handle vote callback",
			zap.String("bet", ev.BetID),
			zap.String("action", ev.Action),
			zap.Error(err))
	}
}

func (h *TelegramHandler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "createbet":
		h.handleCreateBet(ctx, msg)
	case "joinbet":
		h.handleJoinBet(ctx, msg)
	case "wallet":
		h.handleWallet(ctx, msg)
	case "retry_jobs":
		h.handleRetryJobs(ctx, msg)
	}
}

const createBetUsage = "Usage: /createbet Title | Option 1 | Option 2 [| more options] | stake | hours\n" +
	"Example: /createbet Will it rain tomorrow? | Yes | No | 5 | 24"

// handleCreateBet opens a bet in the group chat.
func (h *TelegramHandler) handleCreateBet(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat.IsPrivate() {
		h.reply(msg, "Bets are created in the group chat where they will run.")
		return
	}

	args, err := parseCreateBetArgs(msg.CommandArguments())
	if err != nil {
		h.reply(msg, err.Error()+"\n\n"+createBetUsage)
		return
	}

	bet, err := h.bets.CreateBet(ctx, msg.Chat.ID, msg.From.ID,
		args.title, args.options, args.stake, args.duration)
	if err != nil {
		h.log.Error("create bet", zap.Error(err))
		h.reply(msg, err.Error()+"\n\n"+createBetUsage)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎲 New bet: %q\n\n", bet.Title)
	for idx, opt := range bet.Options {
		fmt.Fprintf(&b, "%d. %s\n", idx, opt)
	}
	fmt.Fprintf(&b, "\nStake: %.2f USDC\nEnds: %s\n\nJoin with /joinbet %s <option>",
		bet.MinAmount, bet.EndTime.UTC().Format("2006-01-02 15:04 MST"), bet.BetID)
	h.reply(msg, b.String())
}

// handleJoinBet stakes the sender on one option of an open bet.
func (h *TelegramHandler) handleJoinBet(ctx context.Context, msg *tgbotapi.Message) {
	username := msg.From.UserName
	if username == "" {
		h.reply(msg, "You need a Telegram username to join a bet.")
		return
	}

	betID, option, err := parseJoinBetArgs(msg.CommandArguments())
	if err != nil {
		h.reply(msg, err.Error()+"\nUsage: /joinbet <betId> <option number>")
		return
	}

	bet, err := h.bets.JoinBet(ctx, betID, username, option)
	if err != nil {
		h.replyJoinError(msg, betID, err)
		return
	}

	h.reply(msg, fmt.Sprintf(
		"🤝 @%s joined %q on %q with %.2f USDC.\nParticipants: %d",
		username, bet.Title, bet.Options[option], bet.MinAmount, len(bet.Participants)))
}

func (h *TelegramHandler) replyJoinError(msg *tgbotapi.Message, betID string, err error) {
	switch {
	case errors.Is(err, services.ErrBetNotFound):
		h.reply(msg, fmt.Sprintf("No open bet with id %s.", betID))
	case errors.Is(err, services.ErrBetClosed):
		h.reply(msg, "That bet is no longer accepting participants.")
	case errors.Is(err, services.ErrAlreadyJoined):
		h.reply(msg, "You already joined this bet.")
	case errors.Is(err, services.ErrInvalidOption):
		h.reply(msg, "That option does not exist on this bet.")
	case errors.Is(err, services.ErrInsufficientBalance):
		h.reply(msg, "Your wallet balance is below the stake. Top up and try again. See /wallet in a private chat.")
	default:
		h.log.Error("join bet", zap.String("bet", betID), zap.Error(err))
		h.reply(msg, "Sorry, something went wrong joining the bet. Please try again.")
	}
}

type createBetArgs struct {
	title    string
	options  []string
	stake    float64
	duration time.Duration
}

// parseCreateBetArgs splits "Title | Opt ... | stake | hours". Everything
// between the title and the last two fields is an option.
func parseCreateBetArgs(raw string) (*createBetArgs, error) {
	fields := strings.Split(raw, "|")
	if len(fields) < 5 {
		return nil, errors.New("a bet needs a title, at least two options, a stake and a duration")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	stake, err := strconv.ParseFloat(fields[len(fields)-2], 64)
	if err != nil || stake <= 0 {
		return nil, errors.New("the stake must be a positive number")
	}
	hours, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || hours <= 0 {
		return nil, errors.New("the duration must be a positive number of hours")
	}

	args := &createBetArgs{
		title:    fields[0],
		options:  fields[1 : len(fields)-2],
		stake:    stake,
		duration: time.Duration(hours * float64(time.Hour)),
	}
	if args.title == "" {
		return nil, errors.New("the title must not be empty")
	}
	for _, opt := range args.options {
		if opt == "" {
			return nil, errors.New("options must not be empty")
		}
	}
	return args, nil
}

func parseJoinBetArgs(raw string) (betID string, option int, err error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return "", 0, errors.New("expected a bet id and an option number")
	}
	option, err = strconv.Atoi(fields[1])
	if err != nil || option < 0 {
		return "", 0, errors.New("the option must be a non-negative number")
	}
	return fields[0], option, nil
}

// handleWallet provisions the sender's custodial wallet on first use and
// shows its address and balance. Only answered in private chats so the
// address is not broadcast to the group.
func (h *TelegramHandler) handleWallet(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsPrivate() {
		h.reply(msg, "Please message me directly to see your wallet.")
		return
	}
	username := msg.From.UserName
	if username == "" {
		h.reply(msg, "You need a Telegram username to use a wallet.")
		return
	}

	w, err := h.wallets.EnsureWallet(ctx, username)
	if err != nil {
		h.log.Error("ensure wallet", zap.String("username", username), zap.Error(err))
		h.reply(msg, "Sorry, something went wrong fetching your wallet. Please try again.")
		return
	}
	balance, err := h.wallets.Balance(ctx, username)
	if err != nil {
		h.log.Error("wallet balance", zap.String("username", username), zap.Error(err))
		h.reply(msg, fmt.Sprintf("💰 Your wallet address: %s\n\nBalance is temporarily unavailable.", w.Address))
		return
	}
	h.reply(msg, fmt.Sprintf("💰 Your wallet address: %s\nBalance: %.2f USDC", w.Address, balance))
}

// handleRetryJobs re-queues every failed job. Admin-only.
func (h *TelegramHandler) handleRetryJobs(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isAdmin(msg.From.ID) {
		h.reply(msg, "You are not allowed to do that.")
		return
	}

	total := 0
	for _, q := range h.queues {
		n, err := q.RetryFailed(ctx)
		if err != nil {
			h.log.Error("retry failed jobs", zap.String("queue", q.Name()), zap.Error(err))
			h.reply(msg, fmt.Sprintf("Retry failed for queue %s: %v", q.Name(), err))
			return
		}
		total += n
	}
	h.reply(msg, fmt.Sprintf("Re-queued %d failed job(s).", total))
}

func (h *TelegramHandler) isAdmin(userID int64) bool {
	for _, id := range h.cfg.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (h *TelegramHandler) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := h.bot.Send(reply); err != nil {
		h.log.Warn("send reply", zap.Error(err))
	}
}
