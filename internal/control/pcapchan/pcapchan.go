// Package pcapchan replays a capture file through control.Channel, so the
// forwarding pipeline can run offline.
//
// Each captured frame becomes one packet-in. For pcapng input the
// interface index of the packet is used as the ingress port; classic pcap
// has no interfaces and uses a fixed port. Packet-outs are written to an
// optional pcap output.
package pcapchan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/core"
)

const snapLen = 65535

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Channel is a file-backed control.Channel.
type Channel struct {
	mu sync.Mutex

	src         packetSource
	ng          bool
	defaultPort uint16

	out    *pcapgo.Writer
	sent   int
	groups map[uint32][]uint16

	closers []io.Closer
	closed  bool
}

var _ control.Channel = (*Channel)(nil)

// New reads packet-ins from r and, when w is non-nil, writes packet-outs
// to w as Ethernet pcap. defaultPort is the ingress port of classic pcap
// records.
func New(r io.Reader, w io.Writer, defaultPort uint16) (*Channel, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: read capture header: %w", core.ErrChannel, err)
	}

	c := &Channel{
		defaultPort: defaultPort,
		groups:      make(map[uint32][]uint16),
	}
	if string(magic) == string(ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: open pcapng: %w", core.ErrChannel, err)
		}
		c.src, c.ng = ng, true
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: open pcap: %w", core.ErrChannel, err)
		}
		if pr.LinkType() != layers.LinkTypeEthernet {
			return nil, fmt.Errorf("%w: unsupported link type %s", core.ErrChannel, pr.LinkType())
		}
		c.src = pr
	}

	if w != nil {
		c.out = pcapgo.NewWriter(w)
		if err := c.out.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("%w: write output header: %w", core.ErrChannel, err)
		}
	}
	return c, nil
}

// Open opens the input capture and, if output is not empty, creates the
// output pcap.
func Open(input, output string, defaultPort uint16) (*Channel, error) {
	in, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrChannel, err)
	}
	closers := []io.Closer{in}

	var w io.Writer
	if output != "" {
		f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("%w: %w", core.ErrChannel, err)
		}
		closers = append(closers, f)
		w = f
	}

	c, err := New(in, w, defaultPort)
	if err != nil {
		for _, cl := range closers {
			cl.Close()
		}
		return nil, err
	}
	c.closers = closers
	return c, nil
}

// Receive implements control.Channel. The end of the capture is reported
// as core.ErrChannelClosed; timeout is unused.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (*control.PacketIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.ErrChannelClosed
	}

	data, ci, err := c.src.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("end of capture: %w", core.ErrChannelClosed)
		}
		return nil, fmt.Errorf("%w: read packet: %w", core.ErrChannel, err)
	}

	port := c.defaultPort
	if c.ng {
		port = uint16(ci.InterfaceIndex)
	}
	payload := make([]byte, len(data))
	copy(payload, data)

	return &control.PacketIn{
		Payload: payload,
		Metadata: []control.Metadata{
			{ID: control.MetadataPacketInIngressPort, Value: control.PortBytes(port)},
		},
	}, nil
}

// Send implements control.Channel.
func (c *Channel) Send(ctx context.Context, out control.PacketOut) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	c.sent++
	if c.out == nil {
		return nil
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(out.Payload),
		Length:        len(out.Payload),
	}
	if err := c.out.WritePacket(ci, out.Payload); err != nil {
		return fmt.Errorf("%w: write packet-out: %w", core.ErrChannel, err)
	}
	return nil
}

// InstallMulticastGroup implements control.Channel.
func (c *Channel) InstallMulticastGroup(ctx context.Context, groupID uint32, ports []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[groupID]; ok {
		return fmt.Errorf("%w: multicast group %d already exists", core.ErrChannel, groupID)
	}
	c.groups[groupID] = append([]uint16(nil), ports...)
	return nil
}

// DeleteMulticastGroup implements control.Channel.
func (c *Channel) DeleteMulticastGroup(ctx context.Context, groupID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[groupID]; !ok {
		return fmt.Errorf("%w: multicast group %d not found", core.ErrChannel, groupID)
	}
	delete(c.groups, groupID)
	return nil
}

// Groups returns the installed group ids, ascending.
func (c *Channel) Groups() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sent returns the number of packet-outs accepted so far.
func (c *Channel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Close implements control.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
