// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/lswitch/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	vlanIDMask = 0x0FFF
)

// decodeEthernet decodes the Ethernet header and at most one 802.1Q tag.
// The returned frame has no ingress port; its PayloadOffset points past the
// consumed headers.
func decodeEthernet(data []byte) (core.Frame, error) {
	if len(data) < ethernetHeaderLen {
		return core.Frame{}, fmt.Errorf("%w: %d bytes, need %d", core.ErrMalformedFrame, len(data), ethernetHeaderLen)
	}

	frame := core.Frame{Raw: data}

	// Destination MAC (6 bytes)
	copy(frame.DstMAC[:], data[0:6])

	// Source MAC (6 bytes)
	copy(frame.SrcMAC[:], data[6:12])

	// EtherType (2 bytes)
	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	if etherType == core.EtherTypeVLAN {
		if len(data) < offset+vlanHeaderLen {
			return core.Frame{}, fmt.Errorf("%w: %d bytes, need %d for tagged frame",
				core.ErrMalformedFrame, len(data), offset+vlanHeaderLen)
		}

		// VLAN header: 2 bytes TCI + 2 bytes encapsulated EtherType
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		frame.VLANID = tci & vlanIDMask

		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	frame.EtherType = etherType
	frame.PayloadOffset = offset
	return frame, nil
}

// decodePort interprets a P4Runtime metadata value as a big-endian port number.
// Values shorter than two bytes are treated as left-padded; only the low
// two bytes of longer values are used.
func decodePort(b []byte) uint16 {
	switch len(b) {
	case 0:
		return 0
	case 1:
		return uint16(b[0])
	default:
		return binary.BigEndian.Uint16(b[len(b)-2:])
	}
}
