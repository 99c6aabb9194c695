package forward

import (
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/core/decoder"
	"firestige.xyz/lswitch/internal/learning"
	"firestige.xyz/lswitch/internal/topology"
)

// Decision is the result of processing one frame.
type Decision struct {
	Instruction Instruction
	// Aged holds entries evicted by the aging step of this frame.
	Aged []learning.Entry
	// Learned is true when the frame refreshed or created a table entry.
	Learned bool
}

// Engine owns the learning table and applies the forwarding rules.
type Engine struct {
	table *learning.Table
	topo  *topology.Topology
}

// NewEngine creates an engine over table and topo. The engine becomes the
// table's only writer.
func NewEngine(table *learning.Table, topo *topology.Topology) *Engine {
	return &Engine{table: table, topo: topo}
}

// Table exposes the learning table for snapshots and inspection.
func (e *Engine) Table() *learning.Table {
	return e.table
}

// Decide ages the table, then learns from ARP and resolves the outbound
// instruction:
//
//   - ARP: learn (vlan, src) -> ingress, flood to the VLAN's group
//     (default group when untagged).
//   - known destination: unicast to the learned port.
//   - unknown destination, untagged: flood to the default group.
//   - unknown destination, tagged: drop.
func (e *Engine) Decide(frame core.Frame) Decision {
	d := Decision{Aged: e.table.AgeAll()}

	if decoder.IsARP(&frame) {
		e.table.Touch(frame.VLANID, frame.SrcMAC, frame.IngressPort)
		d.Learned = true
		d.Instruction = Flood(e.floodGroup(frame.VLANID), frame.IngressPort)
		return d
	}

	if port, ok := e.table.Lookup(frame.VLANID, frame.DstMAC); ok {
		d.Instruction = Unicast(port, frame.IngressPort)
		return d
	}

	// Untagged misses fall back to the default group; this floods every
	// untagged port on each unknown unicast.
	if !frame.Tagged() {
		d.Instruction = Flood(e.topo.DefaultGroupID, frame.IngressPort)
		return d
	}

	d.Instruction = Drop(frame.IngressPort, DropUnknownVLANDestination)
	return d
}

// floodGroup maps a VLAN to its multicast group; VLAN groups are
// provisioned with group id == VLAN id.
func (e *Engine) floodGroup(vlan uint16) uint32 {
	if vlan == core.UntaggedVLAN {
		return e.topo.DefaultGroupID
	}
	return uint32(vlan)
}
