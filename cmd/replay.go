package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lswitch/internal/config"
	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/control/pcapchan"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/daemon"
	"firestige.xyz/lswitch/internal/log"
)

var (
	replayInput  string
	replayOutput string
	replayPort   uint16
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run the controller over a capture file",
	Long: `Feed a pcap or pcapng capture through the controller instead of a live switch.

For pcapng input the interface index of each packet is its ingress port;
classic pcap packets all arrive on --port. Packet-outs are written to
--output when given. Snapshots and metrics behave as in 'start'.

Examples:
  lswitch replay -i arp.pcapng -o out.pcap --topo-config topo/topology.json
  lswitch replay -i trace.pcap --port 2 --grpc-port 50002`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.HTTP.Enabled = false
		if err := log.Init(&cfg.Log); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return runReplay(cmd.Context(), cfg, replayInput, replayOutput, replayPort, cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "", "capture to replay (required)")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "pcap file receiving packet-outs")
	replayCmd.Flags().Uint16Var(&replayPort, "port", 1, "ingress port for classic pcap packets")
	addSwitchFlags(replayCmd)
	_ = replayCmd.MarkFlagRequired("input")
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, input, output string, port uint16, out io.Writer) error {
	d := daemon.New(cfg, daemon.WithDialer(func(context.Context, *config.SwitchConfig) (control.Channel, error) {
		ch, err := pcapchan.Open(input, output, port)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}))

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}
	if err := d.Run(); err != nil && !errors.Is(err, core.ErrChannelClosed) {
		return err
	}

	st := d.Stats()
	fmt.Fprintf(out, "replayed %d frame(s): %d malformed, %d flooded, %d unicast, %d dropped, %d sent\n",
		st.Received, st.Malformed, st.Flooded, st.Unicast, st.Dropped, st.Sent)
	if rec, ok := d.Table(); ok {
		fmt.Fprintf(out, "learning table: %d entr(ies)\n", rec.Table.Len())
	}
	return nil
}
