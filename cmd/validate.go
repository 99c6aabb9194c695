package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lswitch/internal/topology"
)

var (
	validateFile      string
	validateSwitchKey string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology file",
	Long: `Validate a topology file (JSON or YAML) without connecting to a switch.

Examples:
  lswitch validate -f topo/topology.json --switch 50001`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(validateFile, validateSwitchKey, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "",
		"topology file to validate (required)")
	validateCmd.Flags().StringVar(&validateSwitchKey, "switch", "50001",
		"switch key inside the topology file (the gRPC port)")
	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(path, key string, out io.Writer) error {
	topo, err := topology.Load(path, key)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "VALID: switch %q, default group %d -> ports %v\n",
		topo.Switch, topo.DefaultGroupID, topo.DefaultFloodPorts)
	for _, vlan := range topo.VLANIDs() {
		fmt.Fprintf(out, "  vlan %d (group %d) -> ports %v\n", vlan, vlan, topo.VLANPorts[vlan])
	}
	return nil
}
