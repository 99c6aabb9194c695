package daemon

import (
	"context"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/log"
	"firestige.xyz/lswitch/internal/topology"
)

// Op is a multicast provisioning operation.
type Op string

const (
	OpInstall Op = "install"
	OpDelete  Op = "delete"
)

// GroupResult is the explicit outcome of one provisioning call.
type GroupResult struct {
	Op      Op
	GroupID uint32
	VLAN    uint16 // 0 for the default group
	Ports   []uint16
	Err     error
}

func (r GroupResult) log(l log.Logger) {
	entry := l.WithFields(map[string]interface{}{
		"group": r.GroupID,
		"vlan":  r.VLAN,
	})
	if r.Op == OpInstall {
		entry = entry.WithField("ports", r.Ports)
	}
	if r.Err != nil {
		entry.WithError(r.Err).Errorf("multicast group %s failed", r.Op)
		return
	}
	entry.Infof("multicast group %s ok", r.Op)
}

// Provision installs the default flood group (plus cpuPort when non-nil)
// followed by one group per VLAN with group id == VLAN id, in ascending
// VLAN order. The default group's result is always first. A failing call
// does not stop the remaining ones.
func Provision(ctx context.Context, ch control.Channel, topo *topology.Topology, cpuPort *uint16) []GroupResult {
	ports := append([]uint16(nil), topo.DefaultFloodPorts...)
	if cpuPort != nil {
		ports = append(ports, *cpuPort)
	}

	results := make([]GroupResult, 0, 1+len(topo.VLANPorts))
	results = append(results, GroupResult{
		Op:      OpInstall,
		GroupID: topo.DefaultGroupID,
		Ports:   ports,
		Err:     ch.InstallMulticastGroup(ctx, topo.DefaultGroupID, ports),
	})

	for _, vlan := range topo.VLANIDs() {
		vp := topo.VLANPorts[vlan]
		results = append(results, GroupResult{
			Op:      OpInstall,
			GroupID: uint32(vlan),
			VLAN:    vlan,
			Ports:   vp,
			Err:     ch.InstallMulticastGroup(ctx, uint32(vlan), vp),
		})
	}
	return results
}

// Unprovision deletes groups in reverse order, best effort.
func Unprovision(ctx context.Context, ch control.Channel, groups []uint32) []GroupResult {
	results := make([]GroupResult, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		id := groups[i]
		results = append(results, GroupResult{
			Op:      OpDelete,
			GroupID: id,
			Err:     ch.DeleteMulticastGroup(ctx, id),
		})
	}
	return results
}
