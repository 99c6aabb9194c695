// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/log"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `lswitch:` root key in YAML.
type GlobalConfig struct {
	Switch   SwitchConfig     `mapstructure:"switch"`
	Snapshot SnapshotConfig   `mapstructure:"snapshot"`
	HTTP     HTTPConfig       `mapstructure:"http"`
	Log      log.LoggerConfig `mapstructure:"log"`
}

// ─── Switch ───

// SwitchConfig identifies the controlled switch and its control channel.
type SwitchConfig struct {
	Name             string         `mapstructure:"name"` // Empty = "switch-<grpc port>"
	GRPCAddr         string         `mapstructure:"grpc_addr"`
	DeviceID         uint64         `mapstructure:"device_id"`
	ElectionID       ElectionConfig `mapstructure:"election_id"`
	CPUPort          uint16         `mapstructure:"cpu_port"`
	FloodToCPU       bool           `mapstructure:"flood_to_cpu"`
	Topology         string         `mapstructure:"topology"`
	TopologyKey      string         `mapstructure:"topology_key"` // Empty = grpc port
	ReceiveTimeout   string         `mapstructure:"receive_timeout"`
	EntriesThreshold int            `mapstructure:"entries_threshold"`
	PacketInQueue    int            `mapstructure:"packet_in_queue"`

	receiveTimeout time.Duration
}

// ElectionConfig is the 128-bit arbitration election id.
type ElectionConfig struct {
	High uint64 `mapstructure:"high"`
	Low  uint64 `mapstructure:"low"`
}

// ReceiveTimeoutDuration returns the parsed receive_timeout.
func (s *SwitchConfig) ReceiveTimeoutDuration() time.Duration {
	return s.receiveTimeout
}

// GRPCPort is the port part of grpc_addr.
func (s *SwitchConfig) GRPCPort() string {
	_, port, err := net.SplitHostPort(s.GRPCAddr)
	if err != nil {
		return ""
	}
	return port
}

// ─── Snapshot ───

type SnapshotConfig struct {
	Threshold int        `mapstructure:"threshold"`
	LogsDir   string     `mapstructure:"logs_dir"`
	NATS      NATSConfig `mapstructure:"nats"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ─── HTTP ───

// HTTPConfig controls the metrics and table inspection endpoint.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type configRoot struct {
	LSwitch GlobalConfig `mapstructure:"lswitch"`
}

// Option adjusts the viper instance before unmarshalling, typically to
// apply command line overrides.
type Option func(v *viper.Viper)

// WithOverride forces key (full dotted path, e.g. "lswitch.switch.grpc_addr") to value.
func WithOverride(key string, value interface{}) Option {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `lswitch:` as root key; env vars use the LSWITCH_ prefix
// (e.g. LSWITCH_SWITCH_GRPC_ADDR).
func Load(path string, opts ...Option) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `lswitch.` key prefix maps to `LSWITCH_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, opt := range opts {
		opt(v)
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.LSwitch

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "lswitch." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Switch defaults
	v.SetDefault("lswitch.switch.name", "")
	v.SetDefault("lswitch.switch.grpc_addr", "127.0.0.1:50001")
	v.SetDefault("lswitch.switch.device_id", 1)
	v.SetDefault("lswitch.switch.election_id.high", 0)
	v.SetDefault("lswitch.switch.election_id.low", 1)
	v.SetDefault("lswitch.switch.cpu_port", 255)
	v.SetDefault("lswitch.switch.flood_to_cpu", false)
	v.SetDefault("lswitch.switch.topology", "topo/topology.json")
	v.SetDefault("lswitch.switch.topology_key", "")
	v.SetDefault("lswitch.switch.receive_timeout", "1s")
	v.SetDefault("lswitch.switch.entries_threshold", 100)
	v.SetDefault("lswitch.switch.packet_in_queue", 1024)

	// Snapshot defaults
	v.SetDefault("lswitch.snapshot.threshold", 10)
	v.SetDefault("lswitch.snapshot.logs_dir", "logs")
	v.SetDefault("lswitch.snapshot.nats.enabled", false)
	v.SetDefault("lswitch.snapshot.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("lswitch.snapshot.nats.subject", "lswitch.table")

	// HTTP defaults
	v.SetDefault("lswitch.http.enabled", true)
	v.SetDefault("lswitch.http.listen", ":9091")

	// Log defaults
	v.SetDefault("lswitch.log.level", "info")
	v.SetDefault("lswitch.log.format", "pattern")
	v.SetDefault("lswitch.log.pattern", log.DefaultPattern)
	v.SetDefault("lswitch.log.time", log.DefaultTimeLayout)
	v.SetDefault("lswitch.log.caller", false)
	v.SetDefault("lswitch.log.file.enabled", false)
	v.SetDefault("lswitch.log.file.path", "logs/lswitch.log")
	v.SetDefault("lswitch.log.file.max_size_mb", 100)
	v.SetDefault("lswitch.log.file.max_backups", 5)
	v.SetDefault("lswitch.log.file.max_age_days", 30)
	v.SetDefault("lswitch.log.file.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "pattern" && cfg.Log.Format != "json" {
		return fmt.Errorf("%w: invalid log format: %s (must be pattern/json)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Switch identity ──
	sw := &cfg.Switch
	port := sw.GRPCPort()
	if port == "" {
		return fmt.Errorf("%w: switch.grpc_addr must be host:port, got %q", core.ErrConfigInvalid, sw.GRPCAddr)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%w: switch.grpc_addr port %q is not a valid port", core.ErrConfigInvalid, port)
	}
	if sw.Name == "" {
		sw.Name = "switch-" + port
	}
	if sw.TopologyKey == "" {
		sw.TopologyKey = port
	}

	d, err := time.ParseDuration(sw.ReceiveTimeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("%w: switch.receive_timeout %q must be a positive duration", core.ErrConfigInvalid, sw.ReceiveTimeout)
	}
	sw.receiveTimeout = d

	if sw.EntriesThreshold <= 0 {
		return fmt.Errorf("%w: switch.entries_threshold must be positive", core.ErrConfigInvalid)
	}
	if sw.PacketInQueue <= 0 {
		return fmt.Errorf("%w: switch.packet_in_queue must be positive", core.ErrConfigInvalid)
	}

	// ── Snapshot ──
	if cfg.Snapshot.Threshold <= 0 {
		return fmt.Errorf("%w: snapshot.threshold must be positive", core.ErrConfigInvalid)
	}
	if cfg.Snapshot.NATS.Enabled {
		if cfg.Snapshot.NATS.URL == "" {
			return fmt.Errorf("%w: snapshot.nats.url is required when snapshot.nats.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.Snapshot.NATS.Subject == "" {
			return fmt.Errorf("%w: snapshot.nats.subject is required when snapshot.nats.enabled=true", core.ErrConfigInvalid)
		}
	}

	// ── HTTP ──
	if cfg.HTTP.Enabled && cfg.HTTP.Listen == "" {
		return fmt.Errorf("%w: http.listen is required when http.enabled=true", core.ErrConfigInvalid)
	}

	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when log.file.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}

// WithGRPCPort keeps the configured gRPC host and replaces its port.
func WithGRPCPort(port int) Option {
	return func(v *viper.Viper) {
		host, _, err := net.SplitHostPort(v.GetString("lswitch.switch.grpc_addr"))
		if err != nil || host == "" {
			host = "127.0.0.1"
		}
		v.Set("lswitch.switch.grpc_addr", net.JoinHostPort(host, strconv.Itoa(port)))
	}
}
