// Package forward decides what to do with each frame and encodes the
// decision as a packet-out.
package forward

import "fmt"

// Kind enumerates the possible forwarding outcomes.
type Kind int

const (
	KindDrop Kind = iota
	KindFlood
	KindUnicast
)

func (k Kind) String() string {
	switch k {
	case KindFlood:
		return "flood"
	case KindUnicast:
		return "unicast"
	default:
		return "drop"
	}
}

// Drop reasons.
const (
	DropUnknownVLANDestination = "unknown-vlan-destination"
)

// Instruction is the outbound action for one frame. Group is set for
// KindFlood, EgressPort for KindUnicast; IngressPort is always carried so
// the pipeline can exclude it.
type Instruction struct {
	Kind        Kind
	Group       uint32
	EgressPort  uint16
	IngressPort uint16
	Reason      string
}

// Flood builds a flood instruction towards multicast group.
func Flood(group uint32, ingress uint16) Instruction {
	return Instruction{Kind: KindFlood, Group: group, IngressPort: ingress}
}

// Unicast builds a single-port forward instruction.
func Unicast(egress, ingress uint16) Instruction {
	return Instruction{Kind: KindUnicast, EgressPort: egress, IngressPort: ingress}
}

// Drop builds a drop instruction.
func Drop(ingress uint16, reason string) Instruction {
	return Instruction{Kind: KindDrop, IngressPort: ingress, Reason: reason}
}

func (i Instruction) String() string {
	switch i.Kind {
	case KindFlood:
		return fmt.Sprintf("flood(group=%d, in=%d)", i.Group, i.IngressPort)
	case KindUnicast:
		return fmt.Sprintf("unicast(out=%d, in=%d)", i.EgressPort, i.IngressPort)
	default:
		return fmt.Sprintf("drop(in=%d, reason=%s)", i.IngressPort, i.Reason)
	}
}
