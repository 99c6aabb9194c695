package forward

import "firestige.xyz/lswitch/internal/control"

// Encode translates instr into the packet-out for payload. Flood carries
// the multicast group and ingress port, Unicast carries the ingress and
// egress ports; the two are never combined. Drop yields ok == false and
// nothing must be sent.
func Encode(instr Instruction, payload []byte) (out control.PacketOut, ok bool) {
	switch instr.Kind {
	case KindFlood:
		return control.PacketOut{
			Payload: payload,
			Metadata: []control.Metadata{
				{ID: control.MetadataMulticastGroup, Value: control.PortBytes(uint16(instr.Group))},
				{ID: control.MetadataIngressPort, Value: control.PortBytes(instr.IngressPort)},
			},
		}, true
	case KindUnicast:
		return control.PacketOut{
			Payload: payload,
			Metadata: []control.Metadata{
				{ID: control.MetadataIngressPort, Value: control.PortBytes(instr.IngressPort)},
				{ID: control.MetadataEgressPort, Value: control.PortBytes(instr.EgressPort)},
			},
		}, true
	default:
		return control.PacketOut{}, false
	}
}
