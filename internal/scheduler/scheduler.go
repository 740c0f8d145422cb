package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"market-optimizer/internal/observability/metrics"
	pricing "market-optimizer/internal/pricing/domain"
)

const defaultJobTimeout = 2 * time.Minute

// Prefetcher pulls live prices for a day range into the store.
type Prefetcher interface {
	Prefetch(ctx context.Context, start, end time.Time) (int, error)
}

// Pruner removes stored days before a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the prefetch job.
type Config struct {
	Spec          string
	LookaheadDays int
	RetentionDays int
	Timeout       time.Duration
}

// Scheduler runs the day-ahead price prefetch on a cron schedule.
type Scheduler struct {
	Cron       *cron.Cron
	prefetcher Prefetcher
	pruner     Pruner
	cfg        Config
	logger     *log.Logger
	now        func() time.Time
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithPruner enables retention pruning after each prefetch.
func WithPruner(pruner Pruner) Option {
	return func(s *Scheduler) {
		if pruner != nil {
			s.pruner = pruner
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler with second-resolution cron specs.
func New(prefetcher Prefetcher, cfg Config, opts ...Option) (*Scheduler, error) {
	if prefetcher == nil {
		return nil, errors.New("scheduler: nil prefetcher")
	}
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJobTimeout
	}
	s := &Scheduler{
		Cron:       cron.New(cron.WithSeconds()),
		prefetcher: prefetcher,
		cfg:        cfg,
		logger:     log.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Cron.AddFunc(cfg.Spec, s.runJob); err != nil {
		return nil, fmt.Errorf("register prefetch task: %w", err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Printf("scheduler: started spec=%q lookahead=%d", s.cfg.Spec, s.cfg.LookaheadDays)
}

// Stop stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Printf("scheduler: stopped")
}

func (s *Scheduler) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Printf("scheduler: prefetch failed: %v", err)
	}
}

// RunOnce fetches tomorrow through the lookahead window and prunes old days.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	today := pricing.DateOf(s.now()).Time()
	start := today.AddDate(0, 0, 1)
	end := today.AddDate(0, 0, s.cfg.LookaheadDays)

	stored, err := s.prefetcher.Prefetch(ctx, start, end)
	if err != nil {
		metrics.IncPrefetch(metrics.ResultError)
		return 0, err
	}
	if stored == 0 {
		metrics.IncPrefetch(metrics.ResultEmpty)
	} else {
		metrics.IncPrefetch(metrics.ResultSuccess)
	}
	s.logger.Printf("scheduler: prefetched rows=%d from=%s to=%s", stored, start.Format("2006-01-02"), end.Format("2006-01-02"))

	if s.pruner != nil && s.cfg.RetentionDays > 0 {
		removed, err := s.pruner.DeleteBefore(ctx, today.AddDate(0, 0, -s.cfg.RetentionDays))
		if err != nil {
			return stored, fmt.Errorf("prune: %w", err)
		}
		if removed > 0 {
			s.logger.Printf("scheduler: pruned rows=%d", removed)
		}
	}
	return stored, nil
}
