// Package queue implements a durable, Redis-backed job queue with
// at-least-once delivery, delayed jobs, exponential-backoff retries,
// per-queue rate limiting and retained failed jobs.
//
// Layout in Redis, per queue name:
//
//	queue:{name}:wait     list of job ids ready to run
//	queue:{name}:active   list of job ids being processed
//	queue:{name}:delayed  zset of job ids scored by ready-at (unix ms)
//	queue:{name}:failed   list of job ids that exhausted their attempts
//	queue:{name}:job:{id} JSON-encoded job record
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoHandler is returned to the failed list when a job names an
// operation nobody registered.
var ErrNoHandler = errors.New("queue: no handler registered for job")

// Job is one unit of work. Payload is the handler's own JSON document.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// Handler processes one job. A non-nil error triggers the retry policy.
type Handler func(ctx context.Context, job *Job) error

// FailedHandler observes jobs that exhausted all attempts.
type FailedHandler func(job *Job, err error)

// Options configures a queue's retry and throughput policy.
type Options struct {
	// Attempts is the total number of tries per job, including the first.
	Attempts int
	// BackoffBase is the delay before the first retry; it doubles on each
	// subsequent attempt.
	BackoffBase time.Duration
	// RateEvery spaces job starts: at most one job per interval.
	// Zero disables rate limiting.
	RateEvery time.Duration
	// Concurrency is the number of worker goroutines. Defaults to 1.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

// Counts is a point-in-time snapshot of queue depth per state.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// Queue is a named durable job queue.
type Queue struct {
	name    string
	rdb     *redis.Client
	log     *zap.Logger
	opts    Options
	limiter *rate.Limiter

	mu       sync.RWMutex
	handlers map[string]Handler
	onFailed []FailedHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue. Run must be called before jobs are processed;
// Add works without a running worker.
func New(name string, rdb *redis.Client, log *zap.Logger, opts Options) *Queue {
	opts = opts.withDefaults()
	var limiter *rate.Limiter
	if opts.RateEvery > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RateEvery), 1)
	}
	return &Queue{
		name:     name,
		rdb:      rdb,
		log:      log.With(zap.String("queue", name)),
		opts:     opts,
		limiter:  limiter,
		handlers: map[string]Handler{},
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) waitKey() string    { return "queue:" + q.name + ":wait" }
func (q *Queue) activeKey() string  { return "queue:" + q.name + ":active" }
func (q *Queue) delayedKey() string { return "queue:" + q.name + ":delayed" }
func (q *Queue) failedKey() string  { return "queue:" + q.name + ":failed" }
func (q *Queue) jobKey(id string) string {
	return "queue:" + q.name + ":job:" + id
}

// Process registers the handler for jobs with the given name.
func (q *Queue) Process(jobName string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobName] = h
}

// OnFailed registers a callback invoked after a job exhausts its attempts.
func (q *Queue) OnFailed(fn FailedHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailed = append(q.onFailed, fn)
}

// Add enqueues a job. With delay > 0 the job becomes runnable only after
// the delay has passed. Returns the job id.
func (q *Queue) Add(ctx context.Context, jobName string, payload interface{}, delay time.Duration) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal %s payload: %w", jobName, err)
	}
	job := Job{
		ID:          uuid.NewString(),
		Name:        jobName,
		Payload:     raw,
		MaxAttempts: q.opts.Attempts,
		EnqueuedAt:  time.Now(),
	}
	if err := q.saveJob(ctx, &job); err != nil {
		return "", err
	}
	if delay > 0 {
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		err = q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: job.ID}).Err()
	} else {
		err = q.rdb.LPush(ctx, q.waitKey(), job.ID).Err()
	}
	if err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", jobName, err)
	}
	jobsEnqueued.WithLabelValues(q.name, jobName).Inc()
	q.log.Debug("job enqueued",
		zap.String("job", jobName),
		zap.String("id", job.ID),
		zap.Duration("delay", delay),
	)
	return job.ID, nil
}

// Run starts the promoter and worker goroutines. It returns immediately;
// call Close to stop processing.
func (q *Queue) Run(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go q.promoteLoop(ctx)

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.workLoop(ctx)
	}
}

// Close stops workers and waits for in-flight jobs to finish.
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// promoteLoop moves due delayed jobs onto the wait list.
func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.log.Warn("promote delayed jobs", zap.Error(err))
			}
		}
	}
}

// promoteScript removes a due member from the delayed set and pushes it
// onto the wait list in one step, so a crash between the two cannot drop
// the job and two promoters cannot double-push it.
var promoteScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

func (q *Queue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		keys := []string{q.delayedKey(), q.waitKey()}
		if err := promoteScript.Run(ctx, q.rdb, keys, id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// workLoop pulls jobs from wait to active and runs them.
func (q *Queue) workLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
		}
		id, err := q.rdb.BLMove(ctx, q.waitKey(), q.activeKey(), "right", "left", 2*time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				q.log.Warn("pop job", zap.Error(err))
				time.Sleep(time.Second)
			}
			continue
		}
		q.runJob(ctx, id)
	}
}

func (q *Queue) runJob(ctx context.Context, id string) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		q.log.Error("load job", zap.String("id", id), zap.Error(err))
		q.rdb.LRem(ctx, q.activeKey(), 1, id)
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		q.moveToFailed(ctx, job, ErrNoHandler)
		return
	}

	job.Attempts++
	err = handler(ctx, job)
	q.rdb.LRem(ctx, q.activeKey(), 1, id)

	if err == nil {
		q.rdb.Del(ctx, q.jobKey(id))
		jobsCompleted.WithLabelValues(q.name, job.Name).Inc()
		q.log.Info("job completed", zap.String("job", job.Name), zap.String("id", id))
		return
	}

	job.LastError = err.Error()
	if job.Attempts < job.MaxAttempts {
		backoff := q.opts.BackoffBase << (job.Attempts - 1)
		if serr := q.saveJob(ctx, job); serr != nil {
			q.log.Error("persist retry", zap.String("id", id), zap.Error(serr))
		}
		readyAt := float64(time.Now().Add(backoff).UnixMilli())
		q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: id})
		jobsRetried.WithLabelValues(q.name, job.Name).Inc()
		q.log.Warn("job failed, scheduling retry",
			zap.String("job", job.Name),
			zap.String("id", id),
			zap.Int("attempt", job.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		return
	}
	q.moveToFailed(ctx, job, err)
}

func (q *Queue) moveToFailed(ctx context.Context, job *Job, cause error) {
	q.rdb.LRem(ctx, q.activeKey(), 1, job.ID)
	if err := q.saveJob(ctx, job); err != nil {
		q.log.Error("persist failed job", zap.String("id", job.ID), zap.Error(err))
	}
	q.rdb.LPush(ctx, q.failedKey(), job.ID)
	jobsFailed.WithLabelValues(q.name, job.Name).Inc()
	q.log.Error("job failed permanently",
		zap.String("job", job.Name),
		zap.String("id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause),
	)

	q.mu.RLock()
	callbacks := append([]FailedHandler(nil), q.onFailed...)
	q.mu.RUnlock()
	for _, fn := range callbacks {
		fn(job, cause)
	}
}

// RetryFailed moves all retained failed jobs back to the wait list with a
// fresh attempt budget. Returns the number of jobs requeued.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	count := 0
	for {
		id, err := q.rdb.RPop(ctx, q.failedKey()).Result()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("queue: pop failed job: %w", err)
		}
		job, err := q.loadJob(ctx, id)
		if err != nil {
			q.log.Warn("dropping unreadable failed job", zap.String("id", id), zap.Error(err))
			continue
		}
		job.Attempts = 0
		job.LastError = ""
		if err := q.saveJob(ctx, job); err != nil {
			return count, err
		}
		if err := q.rdb.LPush(ctx, q.waitKey(), id).Err(); err != nil {
			return count, err
		}
		count++
	}
}

// Stats returns the queue depth per state.
func (q *Queue) Stats(ctx context.Context) (Counts, error) {
	var c Counts
	var err error
	if c.Waiting, err = q.rdb.LLen(ctx, q.waitKey()).Result(); err != nil {
		return c, err
	}
	if c.Active, err = q.rdb.LLen(ctx, q.activeKey()).Result(); err != nil {
		return c, err
	}
	if c.Delayed, err = q.rdb.ZCard(ctx, q.delayedKey()).Result(); err != nil {
		return c, err
	}
	c.Failed, err = q.rdb.LLen(ctx, q.failedKey()).Result()
	return c, err
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	return q.rdb.Set(ctx, q.jobKey(job.ID), raw, 0).Err()
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("queue: load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("queue: decode job %s: %w", id, err)
	}
	return &job, nil
}
