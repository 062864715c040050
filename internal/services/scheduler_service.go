package services

import (
	"context"
	"time"

	"github.com/predolabs/predo-bot/internal/repositories"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "predo_settlement_sweeps_total",
	Help: "Scheduler sweeps by result.",
}, []string{"result"})

// SchedulerService periodically discovers expired, unresolved bets and
// hands each one to the resolution orchestrator exactly once per expiry.
// A second sweep requeues payouts for bets whose tally was persisted but
// whose payout never completed (crash recovery).
//
// Single-instance deployment is assumed: no lock is taken across
// processes, so running two schedulers will double-process bets.
type SchedulerService struct {
	betRepo    repositories.BetRepository
	pollRepo   repositories.PollRepository
	resolution *ResolutionService
	interval   time.Duration
	log        *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSchedulerService creates a new SchedulerService
func NewSchedulerService(
	betRepo repositories.BetRepository,
	pollRepo repositories.PollRepository,
	resolution *ResolutionService,
	interval time.Duration,
	log *zap.Logger,
) *SchedulerService {
	return &SchedulerService{
		betRepo:    betRepo,
		pollRepo:   pollRepo,
		resolution: resolution,
		interval:   interval,
		log:        log.Named("scheduler"),
	}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (s *SchedulerService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
}

// Stop shuts the sweep loop down and waits for an in-flight sweep.
func (s *SchedulerService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Sweep runs one scheduler tick. Errors are logged and isolated per bet;
// a failing bet never aborts the rest of the sweep, and a failing sweep
// never kills the loop.
func (s *SchedulerService) Sweep(ctx context.Context) {
	expired, err := s.betRepo.FindExpiredUnresolved(ctx, time.Now())
	if err != nil {
		s.log.Error("find expired bets", zap.Error(err))
		sweepsTotal.WithLabelValues("error").Inc()
		return
	}

	processed := 0
	for _, bet := range expired {
		// De-duplication guard: a bet with an unresolved poll is already
		// mid-resolution and must not get a second one.
		poll, err := s.pollRepo.FindUnresolvedByBet(ctx, bet.ID)
		if err != nil {
			s.log.Error("check in-flight poll", zap.String("bet", bet.BetID), zap.Error(err))
			continue
		}
		if poll != nil {
			continue
		}
		if err := s.resolution.ProcessExpiredBet(ctx, bet); err != nil {
			s.log.Error("process expired bet", zap.String("bet", bet.BetID), zap.Error(err))
			continue
		}
		processed++
	}

	if err := s.resolution.ReconcileUnpaid(ctx); err != nil {
		s.log.Error("reconcile unpaid settlements", zap.Error(err))
	}

	sweepsTotal.WithLabelValues("ok").Inc()
	if len(expired) > 0 {
		s.log.Info("sweep finished",
			zap.Int("expired", len(expired)),
			zap.Int("processed", processed),
		)
	}
}
