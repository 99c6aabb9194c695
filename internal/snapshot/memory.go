package snapshot

import (
	"context"
	"sync/atomic"
)

// MemorySink keeps the latest record for concurrent readers such as the
// HTTP API. Records are never mutated after being stored.
type MemorySink struct {
	latest atomic.Pointer[Record]
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (m *MemorySink) Write(ctx context.Context, rec Record) error {
	m.latest.Store(&rec)
	return nil
}

// Latest returns the most recent record, if any.
func (m *MemorySink) Latest() (Record, bool) {
	rec := m.latest.Load()
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Close implements Sink.
func (m *MemorySink) Close() error { return nil }
