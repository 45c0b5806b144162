package worker

import (
	"context"
	"log/slog"
	"time"
)

// BoundaryChecker runs one full boundary sweep over all funds.
type BoundaryChecker interface {
	RunChecks(ctx context.Context) error
}

// BoundaryWorker periodically evaluates allocation boundaries.
type BoundaryWorker struct {
	checker  BoundaryChecker
	interval time.Duration
}

// NewBoundaryWorker creates a new BoundaryWorker.
func NewBoundaryWorker(checker BoundaryChecker, interval time.Duration) *BoundaryWorker {
	return &BoundaryWorker{checker: checker, interval: interval}
}

// Run starts the boundary worker loop. It blocks until the context is
// cancelled.
func (w *BoundaryWorker) Run(ctx context.Context) {
	slog.Info("BoundaryWorker: starting")

	if err := w.checker.RunChecks(ctx); err != nil {
		slog.Error("BoundaryWorker: initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("BoundaryWorker: shutting down")
			return
		case <-ticker.C:
			if err := w.checker.RunChecks(ctx); err != nil {
				slog.Error("BoundaryWorker: sweep failed", "error", err)
			}
		}
	}
}
