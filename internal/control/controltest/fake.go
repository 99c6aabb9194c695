// Package controltest provides an in-memory control.Channel for tests.
package controltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/core"
)

// Fake is a scripted control.Channel. Queued packets are returned by
// Receive in order; an empty queue behaves like a receive timeout, and
// once Exhausted is set the channel reports core.ErrChannelClosed instead.
type Fake struct {
	mu sync.Mutex

	queue   []step
	sent    []control.PacketOut
	groups  map[uint32][]uint16
	deleted []uint32
	closed  bool

	// Exhausted makes Receive fail with ErrChannelClosed on an empty queue.
	Exhausted bool
	// SendErr, InstallErr and DeleteErr are returned by the matching calls.
	SendErr    error
	InstallErr map[uint32]error
	DeleteErr  error
	// OnEmpty is called once the queue drains, before Receive returns.
	OnEmpty func()
}

type step struct {
	pkt *control.PacketIn
	err error
}

// NewFake returns an empty fake channel.
func NewFake() *Fake {
	return &Fake{
		groups:     make(map[uint32][]uint16),
		InstallErr: make(map[uint32]error),
	}
}

// Push queues a packet-in carrying port as 2-byte ingress metadata.
func (f *Fake) Push(port uint16, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, step{pkt: &control.PacketIn{
		Payload: payload,
		Metadata: []control.Metadata{
			{ID: control.MetadataPacketInIngressPort, Value: control.PortBytes(port)},
		},
	}})
}

// PushTimeout queues one receive that times out.
func (f *Fake) PushTimeout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, step{})
}

// PushError queues one receive that fails with err.
func (f *Fake) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, step{err: err})
}

// Receive implements control.Channel.
func (f *Fake) Receive(ctx context.Context, timeout time.Duration) (*control.PacketIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if len(f.queue) == 0 {
		onEmpty, exhausted := f.OnEmpty, f.Exhausted
		f.OnEmpty = nil
		f.mu.Unlock()
		if onEmpty != nil {
			onEmpty()
		}
		if exhausted {
			return nil, fmt.Errorf("fake: %w", core.ErrChannelClosed)
		}
		return nil, nil
	}
	s := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()
	return s.pkt, s.err
}

// Send implements control.Channel.
func (f *Fake) Send(ctx context.Context, out control.PacketOut) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, out)
	return nil
}

// InstallMulticastGroup implements control.Channel.
func (f *Fake) InstallMulticastGroup(ctx context.Context, groupID uint32, ports []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.InstallErr[groupID]; err != nil {
		return err
	}
	if _, ok := f.groups[groupID]; ok {
		return fmt.Errorf("fake: group %d already exists: %w", groupID, core.ErrChannel)
	}
	f.groups[groupID] = append([]uint16(nil), ports...)
	return nil
}

// DeleteMulticastGroup implements control.Channel.
func (f *Fake) DeleteMulticastGroup(ctx context.Context, groupID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.groups[groupID]; !ok {
		return fmt.Errorf("fake: group %d not found: %w", groupID, core.ErrChannel)
	}
	delete(f.groups, groupID)
	f.deleted = append(f.deleted, groupID)
	return nil
}

// Close implements control.Channel.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fake: already closed")
	}
	f.closed = true
	return nil
}

// Sent returns a copy of all packet-outs so far.
func (f *Fake) Sent() []control.PacketOut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]control.PacketOut(nil), f.sent...)
}

// Groups returns a copy of the installed multicast groups.
func (f *Fake) Groups() map[uint32][]uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint32][]uint16, len(f.groups))
	for id, ports := range f.groups {
		out[id] = append([]uint16(nil), ports...)
	}
	return out
}

// Deleted returns the group ids deleted so far, in order.
func (f *Fake) Deleted() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.deleted...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ control.Channel = (*Fake)(nil)
