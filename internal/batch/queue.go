package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PendingSegment is one finalized utterance waiting for durable write.
// Partial segments never enter the queue.
type PendingSegment struct {
	SessionSlug         string
	ParticipantIdentity string
	UtteranceID         string
	Text                string
	StartedAt           time.Time
	EndedAt             *time.Time
}

// QueueConfig carries the batching tunables.
type QueueConfig struct {
	Capacity      int           // pending queue bound; inserts past it are rejected
	MaxBatchSize  int           // segments drained per flush step
	FlushInterval time.Duration // flush tick
}

func (c *QueueConfig) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 300 * time.Millisecond
	}
}

// Queue accumulates finalized segments and flushes them in batches on a
// timer or at shutdown. The timer starts lazily on the first enqueue and
// stops once the queue drains; a single-flight flag collapses overlapping
// ticks into one flush.
type Queue struct {
	cfg   QueueConfig
	log   *logrus.Entry
	flush *flusher

	mu           sync.Mutex
	items        []PendingSegment
	timerRunning bool
	flushing     bool
	stopped      bool // shutdown: timer disabled, FlushAll drains

	rejected    atomic.Int64
	flushed     atomic.Int64
	flushErrors atomic.Int64
	warnedOnce  atomic.Bool
}

func NewQueue(cfg QueueConfig, store Store, resolver *Resolver, log *logrus.Logger) *Queue {
	cfg.applyDefaults()
	entry := log.WithField("component", "batch")
	return &Queue{
		cfg:   cfg,
		log:   entry,
		flush: newFlusher(store, resolver, entry),
	}
}

// Enqueue is fire-and-forget: past capacity the segment is rejected
// silently (counted), never blocking the caller. Utilization past 80%
// logs a warning once until the queue drains below it again.
func (q *Queue) Enqueue(seg PendingSegment) {
	q.mu.Lock()
	if len(q.items) >= q.cfg.Capacity {
		q.mu.Unlock()
		q.rejected.Add(1)
		return
	}
	q.items = append(q.items, seg)
	depth := len(q.items)
	startTimer := !q.timerRunning && !q.stopped
	if startTimer {
		q.timerRunning = true
	}
	q.mu.Unlock()

	if depth*5 >= q.cfg.Capacity*4 {
		if q.warnedOnce.CompareAndSwap(false, true) {
			q.log.WithField("depth", depth).Warn("pending segment queue past 80% utilization")
		}
	} else {
		q.warnedOnce.Store(false)
	}

	if startTimer {
		go q.run()
	}
}

// run drives the flush timer. It exits (and clears the running flag) once a
// tick finds the queue empty, so the timer never idles; the next enqueue
// restarts it.
func (q *Queue) run() {
	t := time.NewTicker(q.cfg.FlushInterval)
	defer t.Stop()

	for range t.C {
		if stop := q.flushStep(context.Background()); stop {
			return
		}
	}
}

// flushStep pops up to MaxBatchSize entries and writes them, gated by the
// single-flight flag. Returns whether the timer loop should stop.
func (q *Queue) flushStep(ctx context.Context) (stop bool) {
	q.mu.Lock()
	if q.stopped {
		q.timerRunning = false
		q.mu.Unlock()
		return true
	}
	if q.flushing {
		q.mu.Unlock()
		return false
	}
	n := len(q.items)
	if n == 0 {
		q.timerRunning = false
		q.mu.Unlock()
		return true
	}
	if n > q.cfg.MaxBatchSize {
		n = q.cfg.MaxBatchSize
	}
	batch := make([]PendingSegment, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	q.flushing = true
	q.mu.Unlock()

	written, errs := q.flush.write(ctx, batch)
	q.flushed.Add(int64(written))
	q.flushErrors.Add(int64(errs))

	q.mu.Lock()
	q.flushing = false
	q.mu.Unlock()
	return false
}

// FlushAll disables the timer, waits out any in-flight flush and drains
// synchronously to completion, bounded by ctx. Used at shutdown.
func (q *Queue) FlushAll(ctx context.Context) {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		busy := q.flushing
		q.mu.Unlock()
		if !busy {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		n := len(q.items)
		if n > q.cfg.MaxBatchSize {
			n = q.cfg.MaxBatchSize
		}
		batch := make([]PendingSegment, n)
		copy(batch, q.items[:n])
		q.items = q.items[n:]
		q.mu.Unlock()

		written, errs := q.flush.write(ctx, batch)
		q.flushed.Add(int64(written))
		q.flushErrors.Add(int64(errs))

		select {
		case <-ctx.Done():
			q.log.WithField("remaining", q.Depth()).Warn("shutdown flush deadline hit, dropping remainder")
			return
		default:
		}
	}
}

func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats is the counter snapshot served by /metrics.
type Stats struct {
	Depth       int   `json:"depth"`
	Rejected    int64 `json:"rejected_total"`
	Flushed     int64 `json:"flushed_total"`
	FlushErrors int64 `json:"flush_errors_total"`
}

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:       q.Depth(),
		Rejected:    q.rejected.Load(),
		Flushed:     q.flushed.Load(),
		FlushErrors: q.flushErrors.Load(),
	}
}
