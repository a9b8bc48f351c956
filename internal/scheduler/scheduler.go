// Package scheduler drives reconciliation of dirty (user, day) keys.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
	"example.com/healthsync/internal/reconcile"
)

// Store is the persistence surface a reconciliation pass needs.
type Store interface {
	ClaimDirtyKeys(ctx context.Context, limit int, claimTimeout time.Duration) ([]domain.DayKey, error)
	ClearDirty(ctx context.Context, key domain.DayKey) error
	ReleaseDirty(ctx context.Context, key domain.DayKey) error
	WithDayLock(ctx context.Context, key domain.DayKey, fn func(context.Context) error) (bool, error)
	CandidatesForDay(ctx context.Context, userID string, date time.Time) ([]domain.MetricCandidate, error)
	SessionsForDay(ctx context.Context, userID string, date time.Time) ([]domain.Session, error)
	SetMetricWinners(ctx context.Context, userID string, date time.Time, winnerIDs []int64) error
	ApplySessionResolution(ctx context.Context, sessions []domain.Session) error
	UpsertSummary(ctx context.Context, summary domain.DailySummary) error
}

// Config tunes the reconciliation loop.
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	Workers          int
	ClaimTimeout     time.Duration
	OverlapThreshold float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 5 * time.Minute
	}
	if c.OverlapThreshold <= 0 {
		c.OverlapThreshold = reconcile.DefaultOverlapThreshold
	}
	return c
}

// Scheduler claims dirty keys in batches and reconciles each key under its
// per-day advisory lock.
type Scheduler struct {
	store            Store
	table            reconcile.PriorityTable
	cfg              Config
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// New constructs a Scheduler.
func New(store Store, table reconcile.PriorityTable, cfg Config) *Scheduler {
	return &Scheduler{
		store:            store,
		table:            table,
		cfg:              cfg.withDefaults(),
		logger:           log.New(log.Writer(), "[scheduler] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled. It should be
// called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("pass error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the scheduler has stopped.
func (s *Scheduler) Wait() {
	<-s.shutdownComplete
}

// RunOnce claims one batch of dirty keys and reconciles them, returning the
// number of keys that completed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	keys, err := s.store.ClaimDirtyKeys(ctx, s.cfg.BatchSize, s.cfg.ClaimTimeout)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	work := make(chan domain.DayKey)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range work {
				if err := s.processKey(ctx, key); err != nil {
					s.logger.Printf("reconcile %s/%s: %v", key.UserID, key.Date.Format("2006-01-02"), err)
					recordKeyFailed()
					if relErr := s.store.ReleaseDirty(ctx, key); relErr != nil {
						s.logger.Printf("release %s/%s: %v", key.UserID, key.Date.Format("2006-01-02"), relErr)
					}
					continue
				}
				mu.Lock()
				done++
				mu.Unlock()
			}
		}()
	}

	for _, key := range keys {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return done, ctx.Err()
		case work <- key:
		}
	}
	close(work)
	wg.Wait()
	return done, nil
}

// processKey reconciles a single (user, day) key. The advisory lock keeps
// concurrent scheduler instances from computing conflicting winner sets.
func (s *Scheduler) processKey(ctx context.Context, key domain.DayKey) error {
	start := time.Now()
	acquired, err := s.store.WithDayLock(ctx, key, func(ctx context.Context) error {
		return s.reconcileKey(ctx, key)
	})
	if err != nil {
		return err
	}
	if !acquired {
		// Another pass owns this key; put it back and move on.
		return s.store.ReleaseDirty(ctx, key)
	}
	recordKeyReconciled(time.Since(start))
	return s.store.ClearDirty(ctx, key)
}

func (s *Scheduler) reconcileKey(ctx context.Context, key domain.DayKey) error {
	candidates, err := s.store.CandidatesForDay(ctx, key.UserID, key.Date)
	if err != nil {
		return err
	}

	resolution := reconcile.ResolveMetrics(candidates, s.table)
	reconcile.RecordIDTieBreaks(resolution.IDTieBreaks)

	winnerIDs := make([]int64, 0, len(resolution.Winners))
	for _, w := range resolution.Winners {
		winnerIDs = append(winnerIDs, w.ID)
	}
	if err := s.store.SetMetricWinners(ctx, key.UserID, key.Date, winnerIDs); err != nil {
		return err
	}

	sessions, err := s.store.SessionsForDay(ctx, key.UserID, key.Date)
	if err != nil {
		return err
	}
	resolved := reconcile.ResolveSessions(sessions, s.table, s.cfg.OverlapThreshold)
	if err := s.store.ApplySessionResolution(ctx, resolved); err != nil {
		return err
	}

	now := time.Now().UTC()
	summary := reconcile.BuildSummary(key.UserID, key.Date, resolution.Winners, resolved, now)
	if err := s.store.UpsertSummary(ctx, summary); err != nil {
		return err
	}
	observability.RecordSummaryComputed(now)
	return nil
}
