package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sweepLockPrefix = "mindgraph:sweep:"

// Sweeper re-dispatches documents stuck in processing.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Scheduler runs the enrichment sweep on a cron schedule. With Rdb set, each
// scheduled tick is claimed with SET NX so only one replica sweeps it.
type Scheduler struct {
	Sweeper   Sweeper
	Rdb       redis.UniversalClient
	OlderThan time.Duration
	Batch     int
	Logger    *zap.Logger

	expr *cronexpr.Expression
	now  func() time.Time
}

// NewScheduler parses schedule (5-field cron or @hourly style macros).
func NewScheduler(schedule string, sweeper Sweeper, rdb redis.UniversalClient, olderThan time.Duration, batch int, logger *zap.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep cron %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Sweeper:   sweeper,
		Rdb:       rdb,
		OlderThan: olderThan,
		Batch:     batch,
		Logger:    logger,
		expr:      expr,
		now:       time.Now,
	}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.expr.Next(s.now())
		if next.IsZero() {
			s.Logger.Warn("sweep schedule has no future runs")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx, next)
		}
	}
}

// tick sweeps once for the run scheduled at slot. It reports whether this
// process claimed the slot.
func (s *Scheduler) tick(ctx context.Context, slot time.Time) bool {
	if s.Rdb != nil {
		key := sweepLockPrefix + strconv.FormatInt(slot.Unix(), 10)
		ttl := s.OlderThan
		if ttl <= 0 {
			ttl = time.Minute
		}
		ok, err := s.Rdb.SetNX(ctx, key, "1", ttl).Result()
		if err != nil {
			s.Logger.Warn("sweep lock failed", zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}
	n, err := s.Sweeper.Sweep(ctx, s.OlderThan, s.Batch)
	if err != nil {
		s.Logger.Error("sweep failed", zap.Error(err))
		return true
	}
	if n > 0 {
		s.Logger.Info("re-dispatched stale documents", zap.Int("count", n))
	}
	return true
}
