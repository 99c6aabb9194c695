// Package p4rt implements control.Channel over a P4Runtime gRPC stream.
package p4rt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/protoadapt"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/log"
)

const (
	defaultQueueSize       = 1024
	defaultArbitrationWait = 5 * time.Second
)

// Config describes the switch to connect to.
type Config struct {
	Addr       string
	DeviceID   uint64
	ElectionID ElectionID
	// QueueSize bounds packet-ins buffered between the stream reader and
	// Receive. Packet-ins arriving on a full queue are dropped.
	QueueSize int
	// ArbitrationTimeout bounds the wait for the primary election reply.
	ArbitrationTimeout time.Duration
	// DialOptions are appended to the default (insecure) options.
	DialOptions []grpc.DialOption
}

// ElectionID is the 128-bit controller election id.
type ElectionID struct {
	High uint64
	Low  uint64
}

func (e ElectionID) proto() *p4v1.Uint128 {
	return &p4v1.Uint128{High: e.High, Low: e.Low}
}

// Client is a primary P4Runtime controller session for one device.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	client p4v1.P4RuntimeClient
	stream p4v1.P4Runtime_StreamChannelClient
	cancel context.CancelFunc

	sendMu sync.Mutex

	packets chan *control.PacketIn
	done    chan struct{}
	errMu   sync.Mutex
	err     error

	dropped   uint64
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ control.Channel = (*Client)(nil)

// Dial connects to the switch, opens the stream channel and becomes primary
// controller for cfg.DeviceID.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ArbitrationTimeout <= 0 {
		cfg.ArbitrationTimeout = defaultArbitrationWait
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", core.ErrChannel, cfg.Addr, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		client:  p4v1.NewP4RuntimeClient(conn),
		cancel:  cancel,
		packets: make(chan *control.PacketIn, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	stream, err := c.client.StreamChannel(streamCtx)
	if err != nil {
		c.teardown()
		return nil, fmt.Errorf("%w: failed to open stream channel: %w", core.ErrChannel, err)
	}
	c.stream = stream

	if err := c.arbitrate(ctx); err != nil {
		c.teardown()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	log.GetLogger().WithFields(map[string]interface{}{
		"addr":      cfg.Addr,
		"device_id": cfg.DeviceID,
	}).Info("p4runtime session established")
	return c, nil
}

func (c *Client) arbitrate(ctx context.Context) error {
	req := &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   c.cfg.DeviceID,
				ElectionId: c.cfg.ElectionID.proto(),
			},
		},
	}
	if err := c.stream.Send(req); err != nil {
		return fmt.Errorf("%w: failed to send arbitration: %w", core.ErrChannel, err)
	}

	type result struct {
		resp *p4v1.StreamMessageResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := c.stream.Recv()
		ch <- result{resp, err}
	}()

	timer := time.NewTimer(c.cfg.ArbitrationTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("%w: arbitration failed: %w", core.ErrChannel, r.err)
		}
		arb := r.resp.GetArbitration()
		if arb == nil {
			return fmt.Errorf("%w: expected arbitration reply, got %T", core.ErrChannel, r.resp.GetUpdate())
		}
		if st := arb.GetStatus(); st != nil && codes.Code(st.GetCode()) != codes.OK {
			return fmt.Errorf("%w: not primary controller for device %d: %s",
				core.ErrChannel, c.cfg.DeviceID, st.GetMessage())
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: arbitration timed out after %s", core.ErrChannel, c.cfg.ArbitrationTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: arbitration: %w", core.ErrChannel, ctx.Err())
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	for {
		resp, err := c.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = core.ErrChannelClosed
			}
			c.setErr(err)
			return
		}

		switch u := resp.GetUpdate().(type) {
		case *p4v1.StreamMessageResponse_Packet:
			in := fromProto(u.Packet)
			select {
			case c.packets <- in:
			default:
				c.dropped++
				log.GetLogger().WithField("dropped", c.dropped).Warn("packet-in queue full, dropping packet")
			}
		case *p4v1.StreamMessageResponse_Arbitration:
			if st := u.Arbitration.GetStatus(); st != nil && codes.Code(st.GetCode()) != codes.OK {
				log.GetLogger().WithField("status", st.GetMessage()).Warn("lost primary arbitration")
			}
		case *p4v1.StreamMessageResponse_Error:
			log.GetLogger().WithField("code", u.Error.GetCanonicalCode()).
				Warnf("stream error from switch: %s", u.Error.GetMessage())
		default:
			if log.GetLogger().IsDebugEnabled() {
				log.GetLogger().Debugf("ignoring stream message: %s", prototext.Format(protoadapt.MessageV2Of(resp)))
			}
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) streamErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if errors.Is(c.err, core.ErrChannelClosed) {
		return c.err
	}
	return fmt.Errorf("%w: %w", core.ErrChannel, c.err)
}

// Receive implements control.Channel. Buffered packet-ins are drained
// before a stream failure is reported.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (*control.PacketIn, error) {
	select {
	case in := <-c.packets:
		return in, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case in := <-c.packets:
		return in, nil
	case <-c.done:
		select {
		case in := <-c.packets:
			return in, nil
		default:
		}
		return nil, c.streamErr()
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements control.Channel.
func (c *Client) Send(ctx context.Context, out control.PacketOut) error {
	req := &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Packet{Packet: toProto(out)},
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.Send(req); err != nil {
		return fmt.Errorf("%w: packet-out: %w", core.ErrChannel, err)
	}
	return nil
}

// InstallMulticastGroup implements control.Channel.
func (c *Client) InstallMulticastGroup(ctx context.Context, groupID uint32, ports []uint16) error {
	return c.writeGroup(ctx, p4v1.Update_INSERT, groupID, ports)
}

// DeleteMulticastGroup implements control.Channel.
func (c *Client) DeleteMulticastGroup(ctx context.Context, groupID uint32) error {
	return c.writeGroup(ctx, p4v1.Update_DELETE, groupID, nil)
}

func (c *Client) writeGroup(ctx context.Context, op p4v1.Update_Type, groupID uint32, ports []uint16) error {
	replicas := make([]*p4v1.Replica, 0, len(ports))
	for _, p := range ports {
		replicas = append(replicas, &p4v1.Replica{EgressPort: uint32(p), Instance: 1})
	}

	req := &p4v1.WriteRequest{
		DeviceId:   c.cfg.DeviceID,
		ElectionId: c.cfg.ElectionID.proto(),
		Updates: []*p4v1.Update{{
			Type: op,
			Entity: &p4v1.Entity{
				Entity: &p4v1.Entity_PacketReplicationEngineEntry{
					PacketReplicationEngineEntry: &p4v1.PacketReplicationEngineEntry{
						Type: &p4v1.PacketReplicationEngineEntry_MulticastGroupEntry{
							MulticastGroupEntry: &p4v1.MulticastGroupEntry{
								MulticastGroupId: groupID,
								Replicas:         replicas,
							},
						},
					},
				},
			},
		}},
		Atomicity: p4v1.WriteRequest_CONTINUE_ON_ERROR,
	}

	if _, err := c.client.Write(ctx, req); err != nil {
		return fmt.Errorf("%w: %s multicast group %d: %w", core.ErrChannel, op, groupID, err)
	}
	return nil
}

// Close implements control.Channel.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()
		err = c.teardown()
		c.wg.Wait()
	})
	return err
}

func (c *Client) teardown() error {
	c.cancel()
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("%w: close connection: %w", core.ErrChannel, err)
	}
	return nil
}

func fromProto(p *p4v1.PacketIn) *control.PacketIn {
	in := &control.PacketIn{Payload: p.GetPayload()}
	for _, md := range p.GetMetadata() {
		in.Metadata = append(in.Metadata, control.Metadata{ID: md.GetMetadataId(), Value: md.GetValue()})
	}
	return in
}

func toProto(out control.PacketOut) *p4v1.PacketOut {
	p := &p4v1.PacketOut{Payload: out.Payload}
	for _, md := range out.Metadata {
		p.Metadata = append(p.Metadata, &p4v1.PacketMetadata{MetadataId: md.ID, Value: md.Value})
	}
	return p
}
