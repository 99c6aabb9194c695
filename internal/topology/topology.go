// Package topology loads the static port/VLAN/multicast layout of a switch.
package topology

import (
	"fmt"
	"os"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"firestige.xyz/lswitch/internal/core"
)

const (
	maxVLANID = 4094
	// Group ids travel in 2-byte packet-out metadata.
	maxGroupID = 0xFFFF
)

// Topology is the read-only layout of one switch.
type Topology struct {
	Switch            string
	DefaultGroupID    uint32
	DefaultFloodPorts []uint16
	VLANPorts         map[uint16][]uint16
}

// fileSchema mirrors the topology file:
//
//	{"switch": {"50001": {"mcast": {"id": 1, "ports": [1, 2]},
//	                      "vlan_id_to_ports": {"1": [1], "2": [2]}}}}
type fileSchema struct {
	Switch map[string]switchSchema `mapstructure:"switch"`
}

type switchSchema struct {
	Mcast struct {
		ID    uint32   `mapstructure:"id"`
		Ports []uint16 `mapstructure:"ports"`
	} `mapstructure:"mcast"`
	VLANIDToPorts map[uint16][]uint16 `mapstructure:"vlan_id_to_ports"`
}

// Load reads the topology file at path and extracts the entry for switchKey
// (the switch's gRPC port in the stock layout).
func Load(path, switchKey string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file %s: %w", path, err)
	}
	topo, err := Parse(data, switchKey)
	if err != nil {
		return nil, fmt.Errorf("topology file %s: %w", path, err)
	}
	return topo, nil
}

// Parse decodes topology data (JSON or YAML) for switchKey and validates it.
func Parse(data []byte, switchKey string) (*Topology, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTopologyInvalid, err)
	}

	var doc fileSchema
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &doc,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTopologyInvalid, err)
	}

	sw, ok := doc.Switch[switchKey]
	if !ok {
		return nil, fmt.Errorf("%w: no entry for switch %q", core.ErrTopologyInvalid, switchKey)
	}

	topo := &Topology{
		Switch:            switchKey,
		DefaultGroupID:    sw.Mcast.ID,
		DefaultFloodPorts: sw.Mcast.Ports,
		VLANPorts:         sw.VLANIDToPorts,
	}
	if topo.VLANPorts == nil {
		topo.VLANPorts = make(map[uint16][]uint16)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

// Validate checks the invariants the forwarding engine relies on. VLAN
// flood groups use the VLAN id as multicast group id, so a VLAN may not
// reuse the default group id.
func (t *Topology) Validate() error {
	if t.DefaultGroupID == 0 || t.DefaultGroupID > maxGroupID {
		return fmt.Errorf("%w: default multicast group id %d out of range 1-%d",
			core.ErrTopologyInvalid, t.DefaultGroupID, maxGroupID)
	}
	if len(t.DefaultFloodPorts) == 0 {
		return fmt.Errorf("%w: default multicast group %d has no ports", core.ErrTopologyInvalid, t.DefaultGroupID)
	}
	for vlan, ports := range t.VLANPorts {
		if vlan == core.UntaggedVLAN || vlan > maxVLANID {
			return fmt.Errorf("%w: vlan id %d out of range 1-%d", core.ErrTopologyInvalid, vlan, maxVLANID)
		}
		if uint32(vlan) == t.DefaultGroupID {
			return fmt.Errorf("%w: vlan %d collides with default multicast group %d",
				core.ErrTopologyInvalid, vlan, t.DefaultGroupID)
		}
		if len(ports) == 0 {
			return fmt.Errorf("%w: vlan %d has no ports", core.ErrTopologyInvalid, vlan)
		}
	}
	return nil
}

// VLANIDs returns the configured VLAN ids in ascending order.
func (t *Topology) VLANIDs() []uint16 {
	ids := make([]uint16, 0, len(t.VLANPorts))
	for id := range t.VLANPorts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasVLAN reports whether vlan has a configured port list.
func (t *Topology) HasVLAN(vlan uint16) bool {
	_, ok := t.VLANPorts[vlan]
	return ok
}
