// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "0.1.0"

var (
	// Global flags
	configFile string
	pidFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lswitch",
	Short: "lswitch - VLAN-aware ARP-learning switch controller",
	Long: `lswitch is a control-plane application for a programmable switch.
It receives frames punted by the switch, learns (VLAN, MAC) -> port bindings
from ARP traffic, and instructs the switch to flood, unicast or drop each frame.

Features:
  - Frame-count aged learning table, isolated per VLAN
  - Per-VLAN multicast groups provisioned at startup
  - Periodic table snapshots to disk, NATS and the HTTP API
  - Offline replay of pcap/pcapng captures`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pid-file", "p", "/tmp/lswitch.pid",
		"PID file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
}
