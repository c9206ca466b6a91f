// Package background contains work that runs outside the request-response cycle.
package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/config"
	"github.com/user/postboard/db"
	"github.com/user/postboard/enrichment"
)

// backfillBatchSize caps how many pending users one pass picks up.
const backfillBatchSize = 100

// pendingUser is a user whose signup lookup never settled.
type pendingUser struct {
	ID    int64  `db:"id"`
	Email string `db:"email"`
}

// lookupResult is what a worker hands back to the updater.
type lookupResult struct {
	UserID  int64
	Email   string
	Profile *enrichment.Profile
	Err     error
}

// EnrichmentBackfill retries the profile lookup for users whose signup lookup failed
// with a transport or provider error. Definite misses are never retried.
type EnrichmentBackfill struct {
	db       *db.DB
	enricher enrichment.Enricher
	logger   *zap.Logger
	interval time.Duration
	workers  int
	now      func() time.Time
}

// NewEnrichmentBackfill creates a backfill driven by cfg's interval and worker count.
func NewEnrichmentBackfill(database *db.DB, enricher enrichment.Enricher, cfg *config.EnrichmentConfig, logger *zap.Logger) *EnrichmentBackfill {
	workers := cfg.BackfillWorkers
	if workers < 1 {
		workers = 1
	}
	return &EnrichmentBackfill{
		db:       database,
		enricher: enricher,
		logger:   logger.Named("enrichment-backfill"),
		interval: cfg.BackfillInterval,
		workers:  workers,
		now:      time.Now,
	}
}

// Run performs a pass on every tick until ctx is cancelled.
func (b *EnrichmentBackfill) Run(ctx context.Context) error {
	b.logger.Info("backfill starting", zap.Duration("interval", b.interval), zap.Int("workers", b.workers))
	defer b.logger.Info("backfill stopped")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			settled, err := b.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				b.logger.Warn("backfill pass failed", zap.Error(err))
				continue
			}
			if settled > 0 {
				b.logger.Info("backfill pass finished", zap.Int("settled", settled))
			}
		}
	}
}

// RunOnce looks up one batch of pending users and records every settled lookup.
// It returns how many users were settled.
func (b *EnrichmentBackfill) RunOnce(ctx context.Context) (int, error) {
	pending, err := b.fetchPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	jobs := make(chan pendingUser, len(pending))
	results := make(chan lookupResult, b.workers)

	var workersWg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			for u := range jobs {
				if ctx.Err() != nil {
					results <- lookupResult{UserID: u.ID, Email: u.Email, Err: ctx.Err()}
					continue
				}
				profile, err := b.enricher.Lookup(ctx, u.Email)
				results <- lookupResult{UserID: u.ID, Email: u.Email, Profile: profile, Err: err}
			}
		}()
	}

	// Results close once every worker has drained the jobs.
	go func() {
		workersWg.Wait()
		close(results)
	}()

	for _, u := range pending {
		jobs <- u
	}
	close(jobs)

	// Database writes stay on this goroutine; the SQLite handle has a single connection.
	var errs error
	settled := 0
	for r := range results {
		ok, err := b.record(ctx, r)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			settled++
		}
	}
	return settled, errs
}

func (b *EnrichmentBackfill) fetchPending(ctx context.Context) ([]pendingUser, error) {
	var pending []pendingUser
	query := b.db.Rebind(`SELECT id, email FROM users WHERE enriched_at IS NULL ORDER BY id LIMIT ?`)
	if err := b.db.SelectContext(ctx, &pending, query, backfillBatchSize); err != nil {
		return nil, apperror.NewDatabaseError("error fetching users pending enrichment", err)
	}
	return pending, nil
}

// record stores a settled lookup. Unsettled lookups are left for the next pass.
func (b *EnrichmentBackfill) record(ctx context.Context, r lookupResult) (bool, error) {
	now := b.now().UTC().Truncate(time.Microsecond)

	var (
		query string
		args  []interface{}
	)
	switch {
	case errors.Is(r.Err, enrichment.ErrNotFound), r.Err == nil && r.Profile == nil:
		query = `UPDATE users SET enriched_at = ? WHERE id = ? AND enriched_at IS NULL`
		args = []interface{}{now, r.UserID}
	case r.Err != nil:
		b.logger.Debug("lookup still failing", zap.Int64("user_id", r.UserID), zap.Error(r.Err))
		return false, nil
	default:
		query = `
			UPDATE users
			SET full_name = ?, given_name = ?, location = ?, time_zone = ?, enriched_at = ?
			WHERE id = ? AND enriched_at IS NULL`
		args = []interface{}{r.Profile.FullName, r.Profile.GivenName, r.Profile.Location, r.Profile.TimeZone, now, r.UserID}
	}

	if _, err := b.db.ExecContext(ctx, b.db.Rebind(query), args...); err != nil {
		return false, apperror.NewDatabaseError("error recording enrichment", err)
	}
	return true, nil
}
