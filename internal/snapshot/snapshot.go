// Package snapshot persists periodic copies of the learning table.
// Snapshots are advisory: a failing sink never affects forwarding.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/learning"
)

// DefaultThreshold is the number of processed frames between snapshots.
const DefaultThreshold = 10

// Record is one snapshot handed to sinks.
type Record struct {
	Switch string            `json:"switch"`
	Taken  time.Time         `json:"taken"`
	Table  learning.Snapshot `json:"table"`
}

// Sink receives snapshot records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Ticker fires once every threshold calls to Tick.
type Ticker struct {
	threshold int
	count     int
}

// NewTicker creates a ticker; a non-positive threshold selects DefaultThreshold.
func NewTicker(threshold int) *Ticker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Ticker{threshold: threshold}
}

// Tick counts one processed frame and reports whether a snapshot is due.
// The counter resets whenever it fires.
func (t *Ticker) Tick() bool {
	t.count++
	if t.count < t.threshold {
		return false
	}
	t.count = 0
	return true
}

// Threshold returns the configured cadence.
func (t *Ticker) Threshold() int {
	return t.threshold
}

// Multi fans a record out to several sinks.
type Multi []Sink

// Write writes to every sink, even after failures, and joins the errors.
// Every joined error matches core.ErrPersistence.
func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		err := s.Write(ctx, rec)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrPersistence) {
			err = fmt.Errorf("%w: %w", core.ErrPersistence, err)
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins the errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
