package pipeline

import (
	"time"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/forward"
	"firestige.xyz/lswitch/internal/metrics"
	"firestige.xyz/lswitch/internal/snapshot"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			SnapshotThreshold: snapshot.DefaultThreshold,
			ReceiveTimeout:    defaultReceiveTimeout,
		},
	}
}

// WithSwitch sets the switch name used in logs and snapshots.
func (b *Builder) WithSwitch(name string) *Builder {
	b.config.Switch = name
	return b
}

func (b *Builder) WithChannel(ch control.Channel) *Builder {
	b.config.Channel = ch
	return b
}

func (b *Builder) WithEngine(e *forward.Engine) *Builder {
	b.config.Engine = e
	return b
}

// WithSnapshots sets the snapshot sink and its frame cadence.
func (b *Builder) WithSnapshots(sink snapshot.Sink, threshold int) *Builder {
	b.config.Sink = sink
	b.config.SnapshotThreshold = threshold
	return b
}

func (b *Builder) WithReceiveTimeout(d time.Duration) *Builder {
	b.config.ReceiveTimeout = d
	return b
}

func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.config.Metrics = m
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}
