package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lswitch/internal/daemon"
)

// Signaler delivers control signals to a running controller.
type Signaler interface {
	Stop(pidFile string) (int, error)
	Reload(pidFile string) (int, error)
}

type pidSignaler struct{}

func (pidSignaler) Stop(pidFile string) (int, error)   { return daemon.SignalStop(pidFile) }
func (pidSignaler) Reload(pidFile string) (int, error) { return daemon.SignalReload(pidFile) }

var signaler Signaler = pidSignaler{}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running controller",
	Long: `Send SIGTERM to the controller recorded in the PID file.

The controller stops processing, removes its multicast groups and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(signaler, pidFile, cmd.OutOrStdout())
	},
}

func runStop(s Signaler, pidFile string, out io.Writer) error {
	pid, err := s.Stop(pidFile)
	if err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintf(out, "✓ Stop signal sent to pid %d\n", pid)
	return nil
}
