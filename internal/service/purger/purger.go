// Package purger removes registry rows of tokens that can not be used anymore.
// Refresh token outlives its access token, so a pair older than refresh TTL (plus leeway) is dead.
package purger

import (
	"context"
	"time"

	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/db"
	"github.com/nkiryanov/pgtemplate/internal/logger"
)

const defaultInterval = 10 * time.Minute

type tokenRepo interface {
	DeleteIssuedBefore(ctx context.Context, s crud.Session, before time.Time, commit bool) (int64, error)
}

type Config struct {
	// Rows issued earlier than now - MaxAge are removed
	MaxAge time.Duration

	// 10 minutes if not set
	Interval time.Duration

	Now func() time.Time
}

type Purger struct {
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time

	db     db.Beginner
	tokens tokenRepo
	logger logger.Logger
}

func New(cfg Config, beginner db.Beginner, tokens tokenRepo, logger logger.Logger) *Purger {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Purger{
		maxAge:   cfg.MaxAge,
		interval: interval,
		now:      now,
		db:       beginner,
		tokens:   tokens,
		logger:   logger,
	}
}

// Run purges on every tick until ctx is done. Returned channel is closed when purger stopped.
func (p *Purger) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting token purger", "interval", p.interval, "max_age", p.maxAge)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Token purger stopped by context")
				return

			case <-ticker.C:
				if _, err := p.PurgeOnce(ctx); err != nil {
					p.logger.Error("Failed to purge tokens", "error", err)
				}
			}
		}
	}()

	return idleStopped
}

// PurgeOnce removes dead rows in its own transaction and returns how many were removed
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	before := p.now().UTC().Add(-p.maxAge)

	var n int64
	err := db.WithSession(ctx, p.db, func(s *db.Session) error {
		var err error
		n, err = p.tokens.DeleteIssuedBefore(ctx, s, before, true)
		return err
	})
	if err != nil {
		return 0, err
	}

	if n > 0 {
		p.logger.Info("Tokens purged", "count", n, "issued_before", before)
	}
	return n, nil
}
