package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockWriter struct {
	mu    sync.Mutex
	calls [][]Record
	err   error
}

func (m *mockWriter) InsertAttempts(_ context.Context, records []Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, records)
	if m.err != nil {
		return 0, m.err
	}
	return len(records), nil
}

func (m *mockWriter) getCalls() [][]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestBatcher_FlushOnMaxSize(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 3, time.Hour)

	for _, o := range []string{"accepted", "duplicate", "prefilter_rejected"} {
		b.Add(Record{Outcome: o})
	}
	b.wg.Wait()

	calls := w.getCalls()
	if len(calls) != 1 || len(calls[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %v", calls)
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d, want 0", b.Pending())
	}
}

func TestBatcher_FillsIDAndTime(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 1, time.Hour)

	b.Add(Record{Outcome: "accepted"})
	b.wg.Wait()

	r := w.getCalls()[0][0]
	if r.ID == uuid.Nil || r.At.IsZero() {
		t.Errorf("record not stamped: %+v", r)
	}
}

func TestBatcher_FlushOnDelay(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 100, 20*time.Millisecond)

	b.Add(Record{Outcome: "accepted"})
	b.Add(Record{Outcome: "duplicate"})

	deadline := time.Now().Add(time.Second)
	for len(w.getCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()

	calls := w.getCalls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Errorf("expected one delayed batch of 2, got %d batches", len(calls))
	}
}

func TestBatcher_StopFlushesRemaining(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 100, time.Hour)

	b.Add(Record{Outcome: "error", Reason: "ocr failed"})
	b.Stop()

	calls := w.getCalls()
	if len(calls) != 1 || calls[0][0].Reason != "ocr failed" {
		t.Fatalf("remaining record not flushed: %v", calls)
	}

	b.Add(Record{Outcome: "accepted"})
	if b.Pending() != 0 {
		t.Error("records added after Stop must be dropped")
	}
}

func TestBatcher_WriterErrorDoesNotPanic(t *testing.T) {
	w := &mockWriter{err: errors.New("db down")}
	b := NewBatcher(w, 1, time.Hour)

	b.Add(Record{Outcome: "accepted"})
	b.Stop()

	if len(w.getCalls()) != 1 {
		t.Error("writer should have been called once")
	}
}

func TestBatcher_Defaults(t *testing.T) {
	b := NewBatcher(&mockWriter{}, 0, 0)
	if b.maxSize != DefaultBatcherMaxSize || b.flushDelay != DefaultBatcherFlushDelay {
		t.Errorf("defaults not applied: %d %v", b.maxSize, b.flushDelay)
	}
}
