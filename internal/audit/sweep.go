package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustlayer/internal/audit/domain"
	"trustlayer/internal/clock"
)

const sweepBatch = 500

// SweepResult counts the transitions one sweep applied.
type SweepResult struct {
	Archived int
	Deleted  int
}

// SweepRetention archives ACTIVE records past their archive threshold and
// marks ARCHIVED records past their delete threshold as DELETED. Transitions
// are conditional on the current state, so concurrent sweeps never apply one
// twice and never move a record backward.
func (r *Recorder) SweepRetention(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	for _, from := range []domain.ArchivalState{domain.StateActive, domain.StateArchived} {
		to, _ := from.Next()
		n, err := r.advance(ctx, from, to, now)
		if err != nil {
			return res, err
		}
		if to == domain.StateArchived {
			res.Archived = n
		} else {
			res.Deleted = n
		}
	}
	if res.Archived > 0 || res.Deleted > 0 {
		r.log.Info("audit retention sweep", zap.Int("archived", res.Archived), zap.Int("deleted", res.Deleted))
	}
	return res, nil
}

func (r *Recorder) advance(ctx context.Context, from, to domain.ArchivalState, now time.Time) (int, error) {
	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		due, err := r.repo.Due(ctx, from, now, sweepBatch)
		if err != nil {
			return moved, fmt.Errorf("audit: list %s records: %w", from, err)
		}
		for _, rec := range due {
			ok, err := r.repo.Transition(ctx, rec.ID, from, to, now)
			if err != nil {
				return moved, fmt.Errorf("audit: %s record %s: %w", to, rec.ID, err)
			}
			if ok {
				moved++
			}
		}
		if len(due) < sweepBatch {
			return moved, nil
		}
	}
}

// Scheduler runs SweepRetention periodically.
type Scheduler struct {
	recorder *Recorder
	interval time.Duration
	clock    clock.Clock
	log      *zap.Logger
}

// NewScheduler returns a Scheduler sweeping every interval.
func NewScheduler(r *Recorder, interval time.Duration, c clock.Clock, log *zap.Logger) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{recorder: r, interval: interval, clock: c, log: log}
}

// Run sweeps immediately and then every interval until ctx is done. Sweep
// errors are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("audit: sweep interval must be positive, got %s", s.interval)
	}
	for {
		if _, err := s.recorder.SweepRetention(ctx, s.clock.Now()); err != nil && ctx.Err() == nil {
			s.log.Error("audit retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.interval):
		}
	}
}
