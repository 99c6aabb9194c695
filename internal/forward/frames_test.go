package forward

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/core/decoder"
)

var (
	hostA     = core.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	hostB     = core.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x0b}
	broadcast = core.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// buildFrame serializes an Ethernet frame (802.1Q tagged when vlan != 0)
// carrying an ARP request when arp is true, an IPv4 stub otherwise.
func buildFrame(t *testing.T, vlan uint16, src, dst core.MAC, arp bool) []byte {
	t.Helper()

	inner := layers.EthernetTypeIPv4
	if arp {
		inner = layers.EthernetTypeARP
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(src[:]),
		DstMAC:       net.HardwareAddr(dst[:]),
		EthernetType: inner,
	}
	stack := []gopacket.SerializableLayer{eth}
	if vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{VLANIdentifier: vlan, Type: inner})
	}
	if arp {
		stack = append(stack, &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   src[:],
			SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    []byte{10, 0, 0, 2},
		})
	} else {
		stack = append(stack, gopacket.Payload([]byte{0x45, 0x00, 0x00, 0x14}))
	}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, stack...))
	return buf.Bytes()
}

func decodeFrame(t *testing.T, port uint16, raw []byte) core.Frame {
	t.Helper()
	frame, err := decoder.Decode(control.PortBytes(port), raw)
	require.NoError(t, err)
	return frame
}
