package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/pkg/oracle"
	"github.com/predolabs/predo-bot/pkg/telegram"
	"github.com/predolabs/predo-bot/pkg/wallet"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// In-memory test doubles for the store and the external collaborators.
// They mirror the Mongo implementations closely enough to exercise the
// conditional-settle and lock semantics the services depend on.

type fakeBetRepo struct {
	mu   sync.Mutex
	bets map[primitive.ObjectID]*models.Bet
}

func newFakeBetRepo(bets ...*models.Bet) *fakeBetRepo {
	r := &fakeBetRepo{bets: map[primitive.ObjectID]*models.Bet{}}
	for _, b := range bets {
		if b.ID.IsZero() {
			b.ID = primitive.NewObjectID()
		}
		r.bets[b.ID] = b
	}
	return r
}

func (r *fakeBetRepo) Create(ctx context.Context, bet *models.Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bet.ID.IsZero() {
		bet.ID = primitive.NewObjectID()
	}
	r.bets[bet.ID] = bet
	return nil
}

func (r *fakeBetRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.bets[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	copied := *bet
	return &copied, nil
}

func (r *fakeBetRepo) FindByBetID(ctx context.Context, betID string) (*models.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bet := range r.bets {
		if bet.BetID == betID {
			copied := *bet
			return &copied, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeBetRepo) Update(ctx context.Context, bet *models.Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bets[bet.ID] = bet
	return nil
}

func (r *fakeBetRepo) FindExpiredUnresolved(ctx context.Context, now time.Time) ([]*models.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Bet
	for _, bet := range r.bets {
		if !bet.Resolved && bet.EndTime.Before(now) && len(bet.Participants) > 0 {
			copied := *bet
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeBetRepo) SettleConditional(ctx context.Context, id primitive.ObjectID, patch map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.bets[id]
	if !ok || bet.Resolved {
		return false, nil
	}
	bet.Resolved = true
	if w, ok := patch["winner"].(string); ok {
		bet.Winner = w
	}
	if h, ok := patch["transactionHash"].(string); ok {
		bet.TransactionHash = h
	}
	return true, nil
}

type fakePollRepo struct {
	mu         sync.Mutex
	polls      []*models.Poll
	denyLock   bool
	lockCalls  int
	lockTokens []string

	// afterFindUnresolved, when set, runs once after an unresolved poll is
	// returned. Tests use it to interleave a concurrent state change.
	afterFindUnresolved func()
}

func (r *fakePollRepo) Create(ctx context.Context, poll *models.Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if poll.ID.IsZero() {
		poll.ID = primitive.NewObjectID()
	}
	poll.CreatedAt = time.Now()
	poll.UpdatedAt = time.Now()
	r.polls = append(r.polls, poll)
	return nil
}

func (r *fakePollRepo) Update(ctx context.Context, poll *models.Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.polls {
		if p.ID == poll.ID {
			poll.UpdatedAt = time.Now()
			r.polls[i] = poll
			return nil
		}
	}
	return mongo.ErrNoDocuments
}

func (r *fakePollRepo) FindUnresolvedByBet(ctx context.Context, betID primitive.ObjectID) (*models.Poll, error) {
	r.mu.Lock()
	var found *models.Poll
	for _, p := range r.polls {
		if p.BetID == betID && !p.Resolved {
			copied := *p
			found = &copied
			break
		}
	}
	hook := r.afterFindUnresolved
	r.afterFindUnresolved = nil
	r.mu.Unlock()
	if found != nil && hook != nil {
		hook()
	}
	return found, nil
}

func (r *fakePollRepo) RecordVote(ctx context.Context, pollID primitive.ObjectID, userID string, value int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.polls {
		if p.ID == pollID && !p.Resolved {
			if p.Votes == nil {
				p.Votes = models.VoteMap{}
			}
			p.Votes.Set(userID, value)
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePollRepo) FindLatestResolvedByBet(ctx context.Context, betID primitive.ObjectID) (*models.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Poll
	for _, p := range r.polls {
		if p.BetID == betID && p.Resolved {
			if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakePollRepo) DistinctBetIDsWithUnresolvedPolls(ctx context.Context) ([]primitive.ObjectID, error) {
	return r.distinct(false), nil
}

func (r *fakePollRepo) DistinctBetIDsWithResolvedPolls(ctx context.Context) ([]primitive.ObjectID, error) {
	return r.distinct(true), nil
}

func (r *fakePollRepo) distinct(resolved bool) []primitive.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[primitive.ObjectID]bool{}
	var out []primitive.ObjectID
	for _, p := range r.polls {
		if p.Resolved == resolved && !seen[p.BetID] {
			seen[p.BetID] = true
			out = append(out, p.BetID)
		}
	}
	return out
}

func (r *fakePollRepo) AcquireLock(ctx context.Context, pollID primitive.ObjectID, token string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockCalls++
	if r.denyLock {
		return false, nil
	}
	for _, p := range r.polls {
		if p.ID == pollID {
			if p.ProcessingLock != "" && time.Since(p.ProcessingStarted) < timeout {
				return false, nil
			}
			p.ProcessingLock = token
			p.ProcessingStarted = time.Now()
			r.lockTokens = append(r.lockTokens, token)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePollRepo) ReleaseLock(ctx context.Context, pollID primitive.ObjectID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.polls {
		if p.ID == pollID && p.ProcessingLock == token {
			p.ProcessingLock = ""
			p.ProcessingStarted = time.Time{}
		}
	}
	return nil
}

// unresolvedFor is a test helper, not part of the repository surface.
func (r *fakePollRepo) unresolvedFor(betID primitive.ObjectID) *models.Poll {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.polls {
		if p.BetID == betID && !p.Resolved {
			return p
		}
	}
	return nil
}

type fakeWalletRepo struct {
	mu      sync.Mutex
	wallets map[string]*models.UserWallet
}

func newFakeWalletRepo(wallets ...*models.UserWallet) *fakeWalletRepo {
	r := &fakeWalletRepo{wallets: map[string]*models.UserWallet{}}
	for _, w := range wallets {
		r.wallets[w.Username] = w
	}
	return r
}

func (r *fakeWalletRepo) Create(ctx context.Context, w *models.UserWallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.Username] = w
	return nil
}

func (r *fakeWalletRepo) FindByUsername(ctx context.Context, username string) (*models.UserWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[username]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return w, nil
}

type receiptKey struct {
	betID       primitive.ObjectID
	username    string
	optionIndex int
}

type fakeReceiptRepo struct {
	mu       sync.Mutex
	receipts map[receiptKey]*models.PayoutReceipt
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{receipts: map[receiptKey]*models.PayoutReceipt{}}
}

func (r *fakeReceiptRepo) Create(ctx context.Context, receipt *models.PayoutReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := receiptKey{receipt.BetID, receipt.Username, receipt.OptionIndex}
	if _, dup := r.receipts[key]; dup {
		return fmt.Errorf("duplicate receipt for %s", receipt.Username)
	}
	r.receipts[key] = receipt
	return nil
}

func (r *fakeReceiptRepo) Exists(ctx context.Context, betID primitive.ObjectID, username string, optionIndex int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.receipts[receiptKey{betID, username, optionIndex}]
	return ok, nil
}

func (r *fakeReceiptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receipts)
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeNotifier struct {
	mu              sync.Mutex
	messages        []sentMessage
	edits           []sentMessage
	answers         []string
	nextMsgID       int
	failNextButtons error
}

func (n *fakeNotifier) SendMessage(chatID int64, text string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sentMessage{chatID, text})
	n.nextMsgID++
	return n.nextMsgID, nil
}

func (n *fakeNotifier) SendMessageWithButtons(chatID int64, text string, buttons [][]telegram.Button) (int, error) {
	n.mu.Lock()
	if err := n.failNextButtons; err != nil {
		n.failNextButtons = nil
		n.mu.Unlock()
		return 0, err
	}
	n.mu.Unlock()
	return n.SendMessage(chatID, text)
}

func (n *fakeNotifier) EditMessageText(chatID int64, messageID int, text string, buttons [][]telegram.Button) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits = append(n.edits, sentMessage{chatID, text})
	return nil
}

func (n *fakeNotifier) AnswerCallback(callbackID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answers = append(n.answers, text)
	return nil
}

func (n *fakeNotifier) sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.messages...)
}

type fakeOracle struct {
	res *oracle.Resolution
	err error
}

func (o *fakeOracle) Resolve(ctx context.Context, title string, options []string, endTime time.Time) (*oracle.Resolution, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.res, nil
}

type addedJob struct {
	Name    string
	Payload interface{}
	Delay   time.Duration
}

type fakeJobQueue struct {
	mu   sync.Mutex
	jobs []addedJob
	err  error
}

func (q *fakeJobQueue) Add(ctx context.Context, jobName string, payload interface{}, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, addedJob{jobName, payload, delay})
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *fakeJobQueue) added() []addedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]addedJob(nil), q.jobs...)
}

type transfer struct {
	To     string
	Amount float64
}

type fakeWalletProvider struct {
	mu        sync.Mutex
	transfers []transfer
	fromKeys  []string
	failFor   map[string]error
	balance   float64
}

func (p *fakeWalletProvider) CreateWallet(ctx context.Context) (*wallet.Wallet, error) {
	return &wallet.Wallet{Address: "ADDRNEW", PrivateKey: "KEYNEW"}, nil
}

func (p *fakeWalletProvider) GetBalance(ctx context.Context, address string) (float64, error) {
	return p.balance, nil
}

func (p *fakeWalletProvider) Transfer(ctx context.Context, fromPrivateKey, toAddress string, amount float64) (*wallet.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failFor[toAddress]; ok {
		return nil, err
	}
	p.transfers = append(p.transfers, transfer{toAddress, amount})
	p.fromKeys = append(p.fromKeys, fromPrivateKey)
	return &wallet.TransferResult{Success: true, Signature: fmt.Sprintf("SIG%d", len(p.transfers))}, nil
}

func (p *fakeWalletProvider) sentTransfers() []transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transfer(nil), p.transfers...)
}
