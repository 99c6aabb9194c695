// Package daemon implements the controller process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/lswitch/internal/config"
	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/control/p4rt"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/forward"
	"firestige.xyz/lswitch/internal/learning"
	"firestige.xyz/lswitch/internal/log"
	"firestige.xyz/lswitch/internal/metrics"
	"firestige.xyz/lswitch/internal/pipeline"
	"firestige.xyz/lswitch/internal/snapshot"
	"firestige.xyz/lswitch/internal/topology"
)

// Dialer opens the control channel to the configured switch.
type Dialer func(ctx context.Context, cfg *config.SwitchConfig) (control.Channel, error)

// Loader re-reads the configuration on SIGHUP.
type Loader func() (*config.GlobalConfig, error)

// DialP4Runtime is the production Dialer.
func DialP4Runtime(ctx context.Context, cfg *config.SwitchConfig) (control.Channel, error) {
	return p4rt.Dial(ctx, p4rt.Config{
		Addr:       cfg.GRPCAddr,
		DeviceID:   cfg.DeviceID,
		ElectionID: p4rt.ElectionID{High: cfg.ElectionID.High, Low: cfg.ElectionID.Low},
		QueueSize:  cfg.PacketInQueue,
	})
}

// Option customises a Daemon.
type Option func(d *Daemon)

// WithDialer replaces the P4Runtime dialer, e.g. with a replay channel.
func WithDialer(dial Dialer) Option {
	return func(d *Daemon) { d.dial = dial }
}

// WithPIDFile makes the daemon maintain a PID file while running.
func WithPIDFile(path string) Option {
	return func(d *Daemon) { d.pidFile = path }
}

// WithLoader enables SIGHUP configuration reload.
func WithLoader(load Loader) Option {
	return func(d *Daemon) { d.load = load }
}

// Daemon manages one switch controller: topology, channel, multicast
// groups, snapshot sinks, the HTTP endpoint and the processing loop.
type Daemon struct {
	config  *config.GlobalConfig
	pidFile string
	dial    Dialer
	load    Loader

	topo        *topology.Topology
	channel     control.Channel
	provisioned []uint32
	sinks       snapshot.Multi
	memory      *snapshot.MemorySink
	prom        *metrics.Metrics
	httpServer  *metrics.Server
	pipeline    *pipeline.Pipeline

	ctx     context.Context
	cancel  context.CancelFunc
	runDone chan error
	sigChan chan os.Signal

	stopOnce sync.Once
}

// New creates a new Daemon instance.
func New(cfg *config.GlobalConfig, opts ...Option) *Daemon {
	d := &Daemon{
		config: cfg,
		dial:   DialP4Runtime,
		memory: snapshot.NewMemorySink(),
		prom:   metrics.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes all components in order and provisions the switch.
// On failure everything started so far is torn down.
func (d *Daemon) Start(ctx context.Context) (err error) {
	sw := &d.config.Switch
	logger := log.GetLogger().WithField("switch", sw.Name)
	logger.WithFields(map[string]interface{}{
		"grpc_addr": sw.GRPCAddr,
		"topology":  sw.Topology,
	}).Info("starting lswitch controller")

	defer func() {
		if err != nil {
			d.teardown()
		}
	}()

	// 1. PID file
	if err := writePIDFile(d.pidFile); err != nil {
		return err
	}

	// 2. Topology
	d.topo, err = topology.Load(sw.Topology, sw.TopologyKey)
	if err != nil {
		return fmt.Errorf("failed to load topology: %w", err)
	}

	// 3. Control channel
	d.channel, err = d.dial(ctx, sw)
	if err != nil {
		return fmt.Errorf("failed to connect to switch: %w", err)
	}

	// 4. Multicast groups
	results := Provision(ctx, d.channel, d.topo, d.floodCPUPort())
	for _, r := range results {
		r.log(logger)
		if r.Err == nil {
			d.provisioned = append(d.provisioned, r.GroupID)
		}
	}
	if results[0].Err != nil {
		return fmt.Errorf("failed to provision default multicast group: %w", results[0].Err)
	}

	// 5. Snapshot sinks
	if err := d.openSinks(); err != nil {
		return err
	}

	// 6. HTTP endpoint
	if d.config.HTTP.Enabled {
		d.httpServer = metrics.NewServer(d.config.HTTP.Listen, d.prom, d.memory)
		if err := d.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}
	}

	// 7. Processing loop
	engine := forward.NewEngine(learning.NewTable(sw.EntriesThreshold), d.topo)
	d.pipeline = pipeline.NewBuilder().
		WithSwitch(sw.Name).
		WithChannel(d.channel).
		WithEngine(engine).
		WithSnapshots(d.sinks, d.config.Snapshot.Threshold).
		WithReceiveTimeout(sw.ReceiveTimeoutDuration()).
		WithMetrics(d.prom).
		Build()

	d.runDone = make(chan error, 1)
	go func() {
		d.runDone <- d.pipeline.Run(d.ctx)
	}()

	logger.Info("controller started")
	return nil
}

func (d *Daemon) floodCPUPort() *uint16 {
	if !d.config.Switch.FloodToCPU {
		return nil
	}
	p := d.config.Switch.CPUPort
	return &p
}

func (d *Daemon) openSinks() error {
	d.sinks = snapshot.Multi{d.memory}

	fileSink, err := snapshot.NewFileSink(d.config.Snapshot.LogsDir)
	if err != nil {
		return fmt.Errorf("failed to open snapshot directory: %w", err)
	}
	d.sinks = append(d.sinks, fileSink)

	if nc := d.config.Snapshot.NATS; nc.Enabled {
		natsSink, err := snapshot.NewNATSSink(nc.URL, nc.Subject)
		if err != nil {
			// Snapshots are advisory; run without the broker.
			log.GetLogger().WithError(err).WithField("url", nc.URL).Warn("nats snapshot sink disabled")
			return nil
		}
		d.sinks = append(d.sinks, natsSink)
	}
	return nil
}

// Run blocks until SIGINT/SIGTERM, Shutdown, or the processing loop ends,
// then stops the daemon. SIGHUP reloads the log configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)
	defer signal.Stop(d.sigChan)

	for {
		select {
		case sig := <-d.sigChan:
			if sig == unix.SIGHUP {
				if err := d.Reload(); err != nil {
					log.GetLogger().WithError(err).Error("failed to reload config")
				}
				continue
			}
			log.GetLogger().WithField("signal", sig.String()).Info("received shutdown signal")
			return d.Stop()

		case err := <-d.runDone:
			d.runDone <- err
			if err != nil {
				log.GetLogger().WithError(err).Error("processing loop stopped")
			}
			if stopErr := d.Stop(); stopErr != nil && err == nil {
				err = stopErr
			}
			return err
		}
	}
}

// Shutdown requests a graceful stop from another goroutine.
func (d *Daemon) Shutdown() {
	d.cancel()
}

// Stop halts the processing loop and tears everything down. It is safe
// to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		log.GetLogger().Info("initiating graceful shutdown")
		d.cancel()
		if d.runDone != nil {
			if runErr := <-d.runDone; runErr != nil && !errors.Is(runErr, core.ErrChannelClosed) {
				err = runErr
			}
		}
		d.teardown()
		log.GetLogger().Info("controller stopped")
	})
	return err
}

// teardown releases resources in reverse start order, best effort.
func (d *Daemon) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping http server")
		}
		d.httpServer = nil
	}

	if d.channel != nil {
		for _, r := range Unprovision(ctx, d.channel, d.provisioned) {
			r.log(log.GetLogger())
		}
		d.provisioned = nil
	}

	if d.sinks != nil {
		if err := d.sinks.Close(); err != nil {
			log.GetLogger().WithError(err).Warn("error closing snapshot sinks")
		}
		d.sinks = nil
	}

	if d.channel != nil {
		if err := d.channel.Close(); err != nil {
			log.GetLogger().WithError(err).Warn("error closing control channel")
		}
		d.channel = nil
	}

	if err := removePIDFile(d.pidFile); err != nil {
		log.GetLogger().WithError(err).Error("error removing PID file")
	}
}

// Reload re-reads the configuration. Only logging is hot-reloadable;
// changed switch, snapshot or http settings are reported as requiring a
// restart.
func (d *Daemon) Reload() error {
	if d.load == nil {
		return fmt.Errorf("reload not configured")
	}
	newConfig, err := d.load()
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	l, err := log.New(&newConfig.Log)
	if err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	log.SetLogger(l)

	var requiresRestart []string
	if newConfig.Switch != d.config.Switch {
		requiresRestart = append(requiresRestart, "switch")
	}
	if newConfig.Snapshot != d.config.Snapshot {
		requiresRestart = append(requiresRestart, "snapshot")
	}
	if newConfig.HTTP != d.config.HTTP {
		requiresRestart = append(requiresRestart, "http")
	}
	d.config.Log = newConfig.Log

	log.GetLogger().WithField("requires_restart", requiresRestart).Info("configuration reloaded")
	return nil
}

// Table returns the most recent table snapshot.
func (d *Daemon) Table() (snapshot.Record, bool) {
	return d.memory.Latest()
}

// Stats returns processing loop counters, zero before Start.
func (d *Daemon) Stats() pipeline.Stats {
	if d.pipeline == nil {
		return pipeline.Stats{}
	}
	return d.pipeline.Stats()
}
