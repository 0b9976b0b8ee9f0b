package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"lockbox/internal/server/database"
)

// ExpiredLister finds uploads whose time limit has passed.
type ExpiredLister interface {
	GetTimeExpired(ctx context.Context) ([]*database.Upload, error)
}

// Reaper periodically removes time-expired uploads that nobody has
// requested since they expired.
type Reaper struct {
	repo     ExpiredLister
	manager  *Manager
	interval time.Duration
	done     chan struct{}
}

// NewReaper creates a new reaper.
func NewReaper(repo ExpiredLister, manager *Manager, interval time.Duration) *Reaper {
	return &Reaper{
		repo:     repo,
		manager:  manager,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the reap loop in a background goroutine.
func (r *Reaper) Start(ctx context.Context) {
	slog.Info("expiry reaper started", "interval", r.interval)

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("expiry reaper stopping")
				return
			}
		}
	}()
}

// Wait blocks until the reaper has fully stopped.
func (r *Reaper) Wait() {
	<-r.done
}

// RunOnce performs a single reap pass and returns the number of uploads removed.
func (r *Reaper) RunOnce(ctx context.Context) int {
	expired, err := r.repo.GetTimeExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired uploads", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	var reaped, failed int
	for _, upload := range expired {
		if ctx.Err() != nil {
			break
		}
		if err := r.manager.Delete(ctx, upload.ID); err != nil {
			slog.Error("failed to reap expired upload",
				"upload_id", upload.ID,
				"error", err,
			)
			failed++
			continue
		}
		reaped++
	}

	slog.Info("reap cycle complete",
		"reaped", reaped,
		"failed", failed,
		"total_expired", len(expired),
	)
	return reaped
}
