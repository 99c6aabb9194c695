// Package control defines the boundary to the switch control plane: the
// packet-in/packet-out stream and multicast group provisioning.
package control

import (
	"context"
	"encoding/binary"
	"time"
)

// Packet metadata ids fixed by the forwarding pipeline's controller header.
const (
	// Packet-in: the port the frame arrived on.
	MetadataPacketInIngressPort uint32 = 1

	// Packet-out.
	MetadataMulticastGroup uint32 = 1
	MetadataIngressPort    uint32 = 2
	MetadataEgressPort     uint32 = 4
)

// Channel is a control-plane connection to one switch.
type Channel interface {
	// Receive waits up to timeout for one packet-in. It returns (nil, nil)
	// when the timeout expires without a packet.
	Receive(ctx context.Context, timeout time.Duration) (*PacketIn, error)

	// Send enqueues one packet-out.
	Send(ctx context.Context, out PacketOut) error

	// InstallMulticastGroup creates a replication group flooding to ports.
	InstallMulticastGroup(ctx context.Context, groupID uint32, ports []uint16) error

	// DeleteMulticastGroup removes a replication group.
	DeleteMulticastGroup(ctx context.Context, groupID uint32) error

	Close() error
}

// Metadata is one controller-header field of a packet-in or packet-out.
type Metadata struct {
	ID    uint32
	Value []byte
}

// PacketIn is a frame punted to the controller.
type PacketIn struct {
	Payload  []byte
	Metadata []Metadata
}

// IngressPort returns the raw ingress-port metadata value.
func (p *PacketIn) IngressPort() ([]byte, bool) {
	return lookup(p.Metadata, MetadataPacketInIngressPort)
}

// PacketOut is a frame injected by the controller.
type PacketOut struct {
	Payload  []byte
	Metadata []Metadata
}

// Get returns the value of metadata id.
func (p *PacketOut) Get(id uint32) ([]byte, bool) {
	return lookup(p.Metadata, id)
}

// Uint16 returns metadata id decoded as a big-endian 16-bit value.
func (p *PacketOut) Uint16(id uint32) (uint16, bool) {
	v, ok := p.Get(id)
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func lookup(md []Metadata, id uint32) ([]byte, bool) {
	for _, m := range md {
		if m.ID == id {
			return m.Value, true
		}
	}
	return nil, false
}

// PortBytes encodes a port or group id as 2 bytes, big-endian.
func PortBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
