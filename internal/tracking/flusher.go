package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

// DefaultFlushInterval is used when NewFlusher gets a non-positive interval.
const DefaultFlushInterval = 3 * time.Second

const finalFlushTimeout = 10 * time.Second

// Flusher periodically drains the buffer into the store. It owns the only
// timer that touches the buffer.
type Flusher struct {
	buffer   *Buffer
	store    Store
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex // serializes flushes
	flushes  atomic.Int64
	failures atomic.Int64
}

// NewFlusher creates a Flusher.
func NewFlusher(buffer *Buffer, store Store, interval time.Duration, logger *zap.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{
		buffer:   buffer,
		store:    store,
		interval: interval,
		logger:   logger.Named("flusher"),
	}
}

// Run flushes on every tick until ctx is cancelled, then makes one last
// attempt so a clean shutdown does not lose buffered updates. Flush errors
// are logged and retried on the next tick; they never stop the loop.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("flush scheduler started", zap.Duration("interval", f.interval))
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			_ = f.FlushNow(finalCtx)
			cancel()
			f.logger.Info("flush scheduler stopped",
				zap.Int64("flushes", f.Flushes()),
				zap.Int64("failures", f.Failures()),
				zap.Int("unflushed", f.buffer.Len()))
			return
		case <-ticker.C:
			_ = f.FlushNow(ctx)
		}
	}
}

// FlushNow swaps out the buffer and upserts the batch. On failure the batch
// is restored into the buffer and a *PersistenceError is returned.
func (f *Flusher) FlushNow(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.buffer.Swap()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := f.persist(ctx, batch); err != nil {
		f.buffer.Restore(batch)
		f.failures.Add(1)
		perr := &PersistenceError{BatchSize: len(batch), Err: err}
		f.logger.Error("flush failed, batch retained", zap.Error(perr))
		return perr
	}

	f.flushes.Add(1)
	f.logger.Debug("flushed locations",
		zap.Int("batch_size", len(batch)), zap.Duration("took", time.Since(start)))
	return nil
}

// persist calls the store, converting a panic into an error so a bad store
// cannot kill the scheduler.
func (f *Flusher) persist(ctx context.Context, batch []location.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panic: %v", r)
		}
	}()
	return f.store.UpsertLocations(ctx, batch)
}

// Flushes returns the number of successful flushes.
func (f *Flusher) Flushes() int64 { return f.flushes.Load() }

// Failures returns the number of failed flushes.
func (f *Flusher) Failures() int64 { return f.failures.Load() }
