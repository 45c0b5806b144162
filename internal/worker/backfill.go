package worker

import (
	"context"
	"log/slog"
	"time"
)

// ListingRefresher pulls fresh price listings for the tracked assets.
type ListingRefresher interface {
	RefreshListings(ctx context.Context) error
}

// BackfillWorker periodically refreshes external price listings so period
// closes rarely need an on-demand history import.
type BackfillWorker struct {
	refresher ListingRefresher
	interval  time.Duration
}

// NewBackfillWorker creates a new BackfillWorker.
func NewBackfillWorker(refresher ListingRefresher, interval time.Duration) *BackfillWorker {
	return &BackfillWorker{refresher: refresher, interval: interval}
}

// Run starts the backfill worker loop. It blocks until the context is
// cancelled.
func (w *BackfillWorker) Run(ctx context.Context) {
	slog.Info("BackfillWorker: starting")

	if err := w.refresher.RefreshListings(ctx); err != nil {
		slog.Error("BackfillWorker: initial refresh failed", "error", err)
	} else {
		slog.Info("BackfillWorker: initial refresh completed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("BackfillWorker: shutting down")
			return
		case <-ticker.C:
			if err := w.refresher.RefreshListings(ctx); err != nil {
				slog.Error("BackfillWorker: refresh failed", "error", err)
			} else {
				slog.Info("BackfillWorker: refresh completed")
			}
		}
	}
}
