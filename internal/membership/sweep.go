package membership

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

type expirer interface {
	Expire(ctx context.Context, ms *model.Membership) (bool, error)
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Due     int
	Expired int
	Failed  int
}

// Sweeper periodically expires active memberships whose period has elapsed.
type Sweeper struct {
	mu          sync.RWMutex
	expirer     expirer
	memberships *store.MembershipStore
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewSweeper(machine *Machine, memberships *store.MembershipStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		expirer:     machine,
		memberships: memberships,
		interval:    interval,
		now:         time.Now,
		logger:      logger.With("component", "sweep"),
	}
}

// Run performs a single pass. Each membership is handled on its own; a
// failure is logged and counted and the pass continues.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	due, err := s.memberships.ListDue(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Due: len(due)}
	for i := range due {
		ms := &due[i]
		expired, err := s.expirer.Expire(ctx, ms)
		if err != nil {
			res.Failed++
			s.logger.Error("expire membership", "error", err, "membership_id", ms.ID, "user_id", ms.UserID)
			continue
		}
		if expired {
			res.Expired++
		}
	}

	if res.Due > 0 {
		s.logger.Info("sweep complete", "due", res.Due, "expired", res.Expired, "failed", res.Failed)
	}
	return res, nil
}

// Start runs a pass immediately and then on every interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Run(ctx, s.now().UTC()); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep failed", "error", err)
	}
}
