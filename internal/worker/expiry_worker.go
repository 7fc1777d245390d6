package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/observability"
)

// Sweeper is the expiry surface the worker drives.
type Sweeper interface {
	Sweep(ctx context.Context, batchSize int32) (int, error)
}

// ExpiryWorker runs the expiry sweep on a fixed interval. Ticks that arrive
// while a sweep is still running are skipped, so overlapping schedules stay
// safe.
type ExpiryWorker struct {
	svc          Sweeper
	pollInterval time.Duration
	batchSize    int32
	running      sync.Mutex
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewExpiryWorker constructs a worker with a one-minute default interval.
func NewExpiryWorker(svc Sweeper) *ExpiryWorker {
	return &ExpiryWorker{
		svc:          svc,
		pollInterval: time.Minute,
		batchSize:    200,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the sweep interval.
func (w *ExpiryWorker) WithPollInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize bounds how many payins one sweep may expire.
func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps until the context is canceled or Stop is called.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stop signal received")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep if none is in flight; overlapping calls
// return immediately.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) {
	if !w.running.TryLock() {
		zap.L().Debug("expiry sweep still running, skipping tick")
		return
	}
	defer w.running.Unlock()

	expired, err := w.svc.Sweep(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "success")
	if expired > 0 {
		zap.L().Info("expiry sweep reversed payins", zap.Int("count", expired))
	}
}
