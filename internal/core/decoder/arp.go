package decoder

import (
	"fmt"

	"github.com/mdlayher/arp"

	"firestige.xyz/lswitch/internal/core"
)

// DescribeARP renders the ARP body of f for debug logs, e.g.
// "who-has 10.0.0.2 tell 10.0.0.1". ok is false when f is not ARP or the
// body cannot be parsed; the forwarding decision never depends on it.
func DescribeARP(f *core.Frame) (desc string, ok bool) {
	if !IsARP(f) {
		return "", false
	}
	var p arp.Packet
	if err := p.UnmarshalBinary(f.Payload()); err != nil {
		return "", false
	}
	switch p.Operation {
	case arp.OperationRequest:
		return fmt.Sprintf("who-has %s tell %s", p.TargetIP, p.SenderIP), true
	case arp.OperationReply:
		return fmt.Sprintf("%s is-at %s", p.SenderIP, p.SenderHardwareAddr), true
	default:
		return fmt.Sprintf("op=%d sender=%s target=%s", p.Operation, p.SenderIP, p.TargetIP), true
	}
}
