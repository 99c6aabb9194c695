package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Send SIGHUP to the controller recorded in the PID file.

Logging settings are applied immediately; switch, snapshot and http
settings require a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(signaler, pidFile, cmd.OutOrStdout())
	},
}

func runReload(s Signaler, pidFile string, out io.Writer) error {
	pid, err := s.Reload(pidFile)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintf(out, "✓ Reload signal sent to pid %d\n", pid)
	return nil
}
