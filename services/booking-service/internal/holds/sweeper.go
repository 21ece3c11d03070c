package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Releaser cancels pending, unpaid reservations older than ttl.
type Releaser interface {
	ReleaseExpiredHolds(ctx context.Context, ttl time.Duration, batch int) (int, error)
}

type Config struct {
	// Schedule is a standard cron spec or descriptor such as "@every 1m".
	Schedule string
	TTL      time.Duration
	Batch    int
	// Timeout bounds a single sweep.
	Timeout time.Duration
}

// Sweeper periodically releases payment holds that were never paid.
type Sweeper struct {
	releaser Releaser
	logger   *slog.Logger
	cfg      Config
	schedule cron.Schedule
}

func New(releaser Releaser, logger *slog.Logger, cfg Config) (*Sweeper, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("holds: ttl must be positive")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("holds: schedule %q: %w", cfg.Schedule, err)
	}
	return &Sweeper{releaser: releaser, logger: logger, cfg: cfg, schedule: schedule}, nil
}

// Run blocks until ctx is done. Overlapping sweeps are skipped.
func (s *Sweeper) Run(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.Sweep(ctx)
	}))
	s.logger.Info("hold sweeper started", "schedule", s.cfg.Schedule, "ttl", s.cfg.TTL.String())
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("hold sweeper stopped")
}

// Sweep runs one release pass, draining full batches until a short one comes back.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	total := 0
	for {
		n, err := s.releaser.ReleaseExpiredHolds(ctx, s.cfg.TTL, s.cfg.Batch)
		total += n
		if err != nil {
			s.logger.Error("hold sweep failed", "err", err, "released", total)
			return total, err
		}
		if n < s.cfg.Batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired holds released", "count", total)
	}
	return total, nil
}
