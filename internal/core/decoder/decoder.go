// Package decoder turns packet-in payloads into core.Frame values.
package decoder

import "firestige.xyz/lswitch/internal/core"

// Decode builds a Frame from the ingress-port metadata value and the raw
// packet bytes. It fails with core.ErrMalformedFrame when the packet is
// shorter than the headers it announces (14 bytes untagged, 18 tagged).
func Decode(ingressPort []byte, raw []byte) (core.Frame, error) {
	frame, err := decodeEthernet(raw)
	if err != nil {
		return core.Frame{}, err
	}
	frame.IngressPort = decodePort(ingressPort)
	return frame, nil
}

// IsARP reports whether the (encapsulated) EtherType of f is ARP.
func IsARP(f *core.Frame) bool {
	return f.EtherType == core.EtherTypeARP
}
