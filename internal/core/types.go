// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EtherType values the switch cares about.
const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeVLAN = 0x8100
	EtherTypeIPv6 = 0x86DD
)

// UntaggedVLAN is the VLAN id assigned to frames without an 802.1Q tag.
const UntaggedVLAN uint16 = 0

// MAC is a 48-bit Ethernet hardware address, comparable and usable as a map key.
type MAC [6]byte

// String formats the address as lower-case colon-separated hex (aa:bb:cc:dd:ee:ff).
func (m MAC) String() string {
	var b strings.Builder
	b.Grow(17)
	for i, octet := range m {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex.EncodeToString([]byte{octet}))
	}
	return b.String()
}

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MAC) IsBroadcast() bool {
	return m == MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// MarshalText implements encoding.TextMarshaler so MACs can be JSON map keys.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMAC parses a colon or dash separated 6-octet hardware address.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != len(m) {
		return m, fmt.Errorf("invalid MAC address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return m, fmt.Errorf("invalid MAC address %q", s)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return m, fmt.Errorf("invalid MAC address %q: %w", s, err)
		}
		m[i] = b[0]
	}
	return m, nil
}
