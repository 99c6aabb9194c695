// Package pipeline implements the packet-in processing loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/core/decoder"
	"firestige.xyz/lswitch/internal/forward"
	"firestige.xyz/lswitch/internal/log"
	"firestige.xyz/lswitch/internal/metrics"
	"firestige.xyz/lswitch/internal/snapshot"
)

const defaultReceiveTimeout = time.Second

// Pipeline is a single-threaded receive, decide, send chain for one switch.
// It is the only writer of the engine's learning table.
type Pipeline struct {
	switchName     string
	channel        control.Channel
	engine         *forward.Engine
	sink           snapshot.Sink
	ticker         *snapshot.Ticker
	receiveTimeout time.Duration
	metrics        *Metrics
}

// Config contains pipeline configuration.
type Config struct {
	Switch            string
	Channel           control.Channel
	Engine            *forward.Engine
	Sink              snapshot.Sink // nil disables snapshots
	SnapshotThreshold int
	ReceiveTimeout    time.Duration
	Metrics           *metrics.Metrics // nil keeps counters local
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = defaultReceiveTimeout
	}
	return &Pipeline{
		switchName:     cfg.Switch,
		channel:        cfg.Channel,
		engine:         cfg.Engine,
		sink:           cfg.Sink,
		ticker:         snapshot.NewTicker(cfg.SnapshotThreshold),
		receiveTimeout: cfg.ReceiveTimeout,
		metrics:        NewMetrics(cfg.Metrics),
	}
}

// logger is resolved on every call so a reloaded logger takes effect.
func (p *Pipeline) logger() log.Logger {
	return log.GetLogger().WithField("switch", p.switchName)
}

// Run processes packet-ins until ctx is cancelled (returns nil) or the
// channel fails twice in a row (returns the error). A closed channel ends
// the loop immediately with an error matching core.ErrChannelClosed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger().Info("pipeline starting")
	defer p.logger().Info("pipeline stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		in, err := p.channel.Receive(ctx, p.receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, core.ErrChannelClosed) {
				p.logger().WithError(err).Info("control channel closed")
				return err
			}
			p.metrics.receiveError()
			failures++
			if failures > 1 {
				p.logger().WithError(err).Error("control channel receive failed again, giving up")
				return fmt.Errorf("receive: %w", err)
			}
			p.logger().WithError(err).Warn("control channel receive failed, retrying")
			continue
		}
		failures = 0

		if in == nil {
			continue
		}
		p.processPacket(ctx, in)
	}
}

// processPacket runs one packet-in through decode, decide, encode and send.
func (p *Pipeline) processPacket(ctx context.Context, in *control.PacketIn) {
	start := time.Now()
	logger := p.logger()
	p.metrics.received()

	port, ok := in.IngressPort()
	if !ok {
		p.metrics.malformed()
		logger.Debug("packet-in without ingress port metadata, skipping")
		return
	}
	frame, err := decoder.Decode(port, in.Payload)
	if err != nil {
		p.metrics.malformed()
		logger.WithError(err).Debug("skipping malformed frame")
		return
	}
	p.metrics.decoded()

	if logger.IsDebugEnabled() {
		if desc, ok := decoder.DescribeARP(&frame); ok {
			logger.WithFields(map[string]interface{}{
				"vlan":         frame.VLANID,
				"ingress_port": frame.IngressPort,
			}).Debugf("arp %s", desc)
		}
	}

	d := p.engine.Decide(frame)
	p.metrics.decision(d, p.engine.Table().Len())
	for _, e := range d.Aged {
		logger.WithFields(map[string]interface{}{
			"vlan": e.VLAN,
			"mac":  e.MAC.String(),
			"port": e.Port,
		}).Info("flow entry deleted")
	}
	if d.Learned && logger.IsDebugEnabled() {
		logger.WithFields(map[string]interface{}{
			"vlan": frame.VLANID,
			"mac":  frame.SrcMAC.String(),
			"port": frame.IngressPort,
		}).Debug("flow entry learned")
	}

	if out, ok := forward.Encode(d.Instruction, in.Payload); ok {
		if err := p.channel.Send(ctx, out); err != nil {
			p.metrics.sendError()
			logger.WithError(err).WithField("instruction", d.Instruction.String()).Error("packet-out failed")
		} else {
			p.metrics.sent(time.Since(start).Seconds())
		}
	} else {
		logger.WithFields(map[string]interface{}{
			"vlan":         frame.VLANID,
			"ingress_port": frame.IngressPort,
			"dst":          frame.DstMAC.String(),
		}).Debugf("dropping frame: %s", d.Instruction.Reason)
	}

	if p.ticker.Tick() {
		p.takeSnapshot(ctx)
	}
}

func (p *Pipeline) takeSnapshot(ctx context.Context) {
	if p.sink == nil {
		return
	}
	rec := snapshot.Record{
		Switch: p.switchName,
		Taken:  time.Now(),
		Table:  p.engine.Table().Snapshot(),
	}
	err := p.sink.Write(ctx, rec)
	p.metrics.snapshot(err)
	if err != nil {
		p.logger().WithError(err).Warn("table snapshot failed")
		return
	}
	p.logger().WithField("entries", rec.Table.Len()).Debug("table snapshot written")
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.stats()
}
