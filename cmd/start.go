package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/lswitch/internal/config"
	"firestige.xyz/lswitch/internal/daemon"
	"firestige.xyz/lswitch/internal/log"
)

var (
	grpcPort   int
	topoConfig string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the controller in foreground",
	Long: `Connect to the switch and run the learning controller in foreground.

The controller will:
  1. Load configuration and the switch topology
  2. Become primary P4Runtime controller for the device
  3. Install the default and per-VLAN multicast groups
  4. Process packet-ins until SIGINT/SIGTERM, reloading logging on SIGHUP
  5. Remove the multicast groups on exit

Examples:
  lswitch start --grpc-port 50001 --topo-config topo/topology.json
  lswitch start -c lswitch.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := log.Init(&cfg.Log); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		d := daemon.New(cfg,
			daemon.WithPIDFile(pidFile),
			daemon.WithLoader(func() (*config.GlobalConfig, error) { return loadConfig(cmd) }),
		)
		if err := d.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start controller: %w", err)
		}
		return d.Run()
	},
}

func init() {
	addSwitchFlags(startCmd)
}

func addSwitchFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&grpcPort, "grpc-port", 0,
		"switch gRPC port (overrides switch.grpc_addr port)")
	cmd.Flags().StringVar(&topoConfig, "topo-config", "",
		"topology file (overrides switch.topology)")
}

// loadConfig applies the command line overrides on top of the config file.
func loadConfig(cmd *cobra.Command) (*config.GlobalConfig, error) {
	var opts []config.Option
	if cmd.Flags().Changed("grpc-port") {
		opts = append(opts, config.WithGRPCPort(grpcPort))
	}
	if cmd.Flags().Changed("topo-config") {
		opts = append(opts, config.WithOverride("lswitch.switch.topology", topoConfig))
	}
	cfg, err := config.Load(configFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
