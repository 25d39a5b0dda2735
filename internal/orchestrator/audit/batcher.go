// Package audit batches scan attempt records for durable storage
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Record is one scan attempt as written to the audit table.
type Record struct {
	ID         uuid.UUID
	At         time.Time
	Outcome    string
	Trigger    string
	Source     string
	Score      int
	Reason     string
	CardID     string
	DurationMS int64
}

// Writer persists a batch of records and returns how many were stored.
type Writer interface {
	InsertAttempts(ctx context.Context, records []Record) (int, error)
}

// Batcher accumulates records and flushes them in batches.
type Batcher struct {
	writer     Writer
	maxSize    int
	flushDelay time.Duration
	mu         sync.Mutex
	items      []Record
	timer      *time.Timer
	stopped    bool
	wg         sync.WaitGroup
}

// NewBatcher creates an audit batcher.
func NewBatcher(writer Writer, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatcherMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatcherFlushDelay
	}
	return &Batcher{
		writer:     writer,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		items:      make([]Record, 0, maxSize),
	}
}

// Add queues a record. Missing IDs and timestamps are filled in.
// Records added after Stop are dropped.
func (b *Batcher) Add(r Record) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.items = append(b.items, r)

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	// Start or reset timer for delayed flush
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

// Pending returns the number of queued records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return
	}
	items := b.items
	b.items = make([]Record, 0, b.maxSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "audit_batch_flush")
		defer span.End()
		span.SetAttr("count", len(items))

		log := trace.Logger(ctx)
		stored, err := b.writer.InsertAttempts(ctx, items)
		if err != nil {
			span.SetAttr("error", err.Error())
			log.Warn("audit batch store failed", "error", err, "count", len(items))
		} else {
			log.Debug("audit batch stored", "stored", stored, "submitted", len(items))
		}
	}()
}

// Flush forces immediate flush of pending records.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop flushes remaining records and waits for in-flight writes.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.flushLocked()
	b.mu.Unlock()
	b.wg.Wait()
}
