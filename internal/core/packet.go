// Package core defines core data structures with zero external dependencies.
package core

// Frame is the decoded view of one packet punted to the controller.
// It is created per received packet and never mutated after decode.
type Frame struct {
	IngressPort   uint16
	DstMAC        MAC
	SrcMAC        MAC
	EtherType     uint16 // encapsulated EtherType when VLAN tagged
	VLANID        uint16 // 0 = untagged
	PayloadOffset int    // first byte after Ethernet/VLAN headers
	Raw           []byte // full frame as received, zero-copy
}

// Tagged reports whether the frame carried an 802.1Q tag with a non-zero VLAN id.
func (f *Frame) Tagged() bool {
	return f.VLANID != UntaggedVLAN
}

// Payload returns the bytes following the Ethernet/VLAN headers.
func (f *Frame) Payload() []byte {
	if f.PayloadOffset >= len(f.Raw) {
		return nil
	}
	return f.Raw[f.PayloadOffset:]
}
