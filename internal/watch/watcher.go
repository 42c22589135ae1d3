package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"spreadwatch/internal/aggregate"
	"spreadwatch/internal/alert"
	"spreadwatch/internal/model"
)

const defaultQueueSize = 1024

// Sink receives every accepted update, e.g. a latest-price cache.
type Sink interface {
	Record(ctx context.Context, u model.PriceUpdate) error
}

// job is one accepted update waiting for the monitor and sinks.
type job struct {
	update model.PriceUpdate
	entry  model.AggregateEntry
	hasAgg bool
}

// Watcher folds a merged price stream into an aggregate store, the spread
// monitor and any sinks. Store updates happen on the stream goroutine; the
// monitor and sinks run on a separate worker fed through a bounded queue, and
// jobs are dropped when that queue is full.
type Watcher struct {
	logger      *slog.Logger
	store       *aggregate.Store
	monitor     *alert.SpreadMonitor
	sinks       []Sink
	sinkTimeout time.Duration
	queueSize   int

	applied    atomic.Int64
	dropped    atomic.Int64
	queueDrops atomic.Int64
}

// NewWatcher creates a Watcher. monitor may be nil.
func NewWatcher(logger *slog.Logger, store *aggregate.Store, monitor *alert.SpreadMonitor, sinks ...Sink) *Watcher {
	return &Watcher{
		logger:      logger,
		store:       store,
		monitor:     monitor,
		sinks:       sinks,
		sinkTimeout: time.Second,
		queueSize:   defaultQueueSize,
	}
}

// Run consumes updates until ctx is done or the channel is closed. It returns
// once the worker has drained the queue.
func (w *Watcher) Run(ctx context.Context, updates <-chan model.PriceUpdate) error {
	w.logger.Info("Watcher: started")
	defer w.logger.Info("Watcher: stopped",
		"applied", w.applied.Load(), "dropped", w.dropped.Load(), "queueDrops", w.queueDrops.Load())

	var queue chan job
	var wg conc.WaitGroup
	if w.monitor != nil || len(w.sinks) > 0 {
		queue = make(chan job, w.queueSize)
		wg.Go(func() { w.drain(ctx, queue) })
		defer func() {
			close(queue)
			wg.Wait()
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			w.handle(u, queue)
		}
	}
}

func (w *Watcher) handle(u model.PriceUpdate, queue chan<- job) {
	if !w.store.Apply(u) {
		w.dropped.Add(1)
		return
	}
	w.applied.Add(1)
	w.logger.Debug("Watcher: price applied", "symbol", u.Symbol, "venue", u.Source, "price", u.Price)

	if queue == nil {
		return
	}
	j := job{update: u}
	if w.monitor != nil {
		j.entry, j.hasAgg = w.store.Summary(u.Symbol)
	}
	select {
	case queue <- j:
	default:
		if n := w.queueDrops.Add(1); n == 1 || n%1000 == 0 {
			w.logger.Warn("Watcher: sink queue full, dropping update", "symbol", u.Symbol, "venue", u.Source, "drops", n)
		}
	}
}

func (w *Watcher) drain(ctx context.Context, queue <-chan job) {
	for j := range queue {
		if j.hasAgg {
			w.monitor.Process(ctx, j.entry)
		}
		for _, sink := range w.sinks {
			sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
			if err := sink.Record(sinkCtx, j.update); err != nil {
				w.logger.Warn("Watcher: sink failed", "symbol", j.update.Symbol, "venue", j.update.Source, "error", err)
			}
			cancel()
		}
	}
}

// Stats returns the number of applied and dropped updates.
func (w *Watcher) Stats() (applied, dropped int64) {
	return w.applied.Load(), w.dropped.Load()
}

// QueueDrops returns the number of applied updates the monitor and sinks never saw.
func (w *Watcher) QueueDrops() int64 {
	return w.queueDrops.Load()
}
