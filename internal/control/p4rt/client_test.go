package p4rt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/log"
)

// fakeSwitch is a minimal P4Runtime server for one controller.
type fakeSwitch struct {
	p4v1.UnimplementedP4RuntimeServer

	notPrimary bool

	mu       sync.Mutex
	arb      *p4v1.MasterArbitrationUpdate
	outs     []*p4v1.PacketOut
	updates  []*p4v1.Update
	writeErr error

	toController chan *p4v1.StreamMessageResponse
	gotOut       chan struct{}
}

func newFakeSwitch() *fakeSwitch {
	return &fakeSwitch{
		toController: make(chan *p4v1.StreamMessageResponse, 16),
		gotOut:       make(chan struct{}, 16),
	}
}

func (s *fakeSwitch) StreamChannel(stream p4v1.P4Runtime_StreamChannelServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}
	arb := req.GetArbitration()
	if arb == nil {
		return status.Error(codes.InvalidArgument, "arbitration expected first")
	}
	s.mu.Lock()
	s.arb = arb
	s.mu.Unlock()

	code := int32(codes.OK)
	if s.notPrimary {
		code = int32(codes.AlreadyExists)
	}
	reply := &p4v1.MasterArbitrationUpdate{
		DeviceId:   arb.DeviceId,
		ElectionId: arb.ElectionId,
		Status:     &rpcstatus.Status{Code: code, Message: "arbitration"},
	}
	if err := stream.Send(&p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Arbitration{Arbitration: reply},
	}); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		for {
			req, err := stream.Recv()
			if err != nil {
				errc <- err
				return
			}
			if p := req.GetPacket(); p != nil {
				s.mu.Lock()
				s.outs = append(s.outs, p)
				s.mu.Unlock()
				s.gotOut <- struct{}{}
			}
		}
	}()

	for {
		select {
		case msg, ok := <-s.toController:
			if !ok {
				return nil
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *fakeSwitch) Write(ctx context.Context, req *p4v1.WriteRequest) (*p4v1.WriteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	s.updates = append(s.updates, req.Updates...)
	return &p4v1.WriteResponse{}, nil
}

func (s *fakeSwitch) packetIn(port uint16, payload []byte) {
	s.toController <- &p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Packet{Packet: &p4v1.PacketIn{
			Payload: payload,
			Metadata: []*p4v1.PacketMetadata{
				{MetadataId: control.MetadataPacketInIngressPort, Value: control.PortBytes(port)},
			},
		}},
	}
}

func startSwitch(t *testing.T, sw *fakeSwitch) Config {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	p4v1.RegisterP4RuntimeServer(srv, sw)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return Config{
		Addr:               "passthrough:///bufnet",
		DeviceID:           1,
		ElectionID:         ElectionID{High: 0, Low: 1},
		ArbitrationTimeout: 2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
				return lis.Dial()
			}),
		},
	}
}

func dial(t *testing.T, cfg Config) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialArbitration(t *testing.T) {
	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))
	require.NotNil(t, c)

	sw.mu.Lock()
	defer sw.mu.Unlock()
	require.NotNil(t, sw.arb)
	assert.Equal(t, uint64(1), sw.arb.DeviceId)
	assert.Equal(t, uint64(1), sw.arb.ElectionId.Low)
}

func TestDialNotPrimary(t *testing.T) {
	sw := newFakeSwitch()
	sw.notPrimary = true
	cfg := startSwitch(t, sw)

	_, err := Dial(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrChannel)
}

func TestReceivePacketIn(t *testing.T) {
	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))

	sw.packetIn(3, []byte{0xde, 0xad})

	in, err := c.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, []byte{0xde, 0xad}, in.Payload)
	port, ok := in.IngressPort()
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x03}, port)
}

func TestReceiveSkipsUnhandledStreamMessages(t *testing.T) {
	prev := log.GetLogger()
	t.Cleanup(func() { log.SetLogger(prev) })
	var buf bytes.Buffer
	cfg := log.DefaultConfig()
	cfg.Level = "debug"
	l, err := log.NewWithWriter(cfg, &buf)
	require.NoError(t, err)
	log.SetLogger(l)

	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))

	sw.toController <- &p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Digest{Digest: &p4v1.DigestList{DigestId: 7}},
	}
	sw.packetIn(2, []byte{0x01})

	in, err := c.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, []byte{0x01}, in.Payload)
	assert.Contains(t, buf.String(), "ignoring stream message")
	assert.Contains(t, buf.String(), "digest_id")
}

func TestReceiveTimeout(t *testing.T) {
	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))

	in, err := c.Receive(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, in)
}

func TestReceiveStreamClosed(t *testing.T) {
	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))

	close(sw.toController)

	_, err := c.Receive(context.Background(), 2*time.Second)
	require.Error(t, err)
}

func TestSendPacketOut(t *testing.T) {
	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))

	err := c.Send(context.Background(), control.PacketOut{
		Payload: []byte{1, 2, 3},
		Metadata: []control.Metadata{
			{ID: control.MetadataIngressPort, Value: control.PortBytes(1)},
			{ID: control.MetadataEgressPort, Value: control.PortBytes(2)},
		},
	})
	require.NoError(t, err)

	select {
	case <-sw.gotOut:
	case <-time.After(2 * time.Second):
		t.Fatal("packet-out not delivered")
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	require.Len(t, sw.outs, 1)
	assert.Equal(t, []byte{1, 2, 3}, sw.outs[0].Payload)
	require.Len(t, sw.outs[0].Metadata, 2)
	assert.Equal(t, control.MetadataEgressPort, sw.outs[0].Metadata[1].MetadataId)
	assert.Equal(t, []byte{0, 2}, sw.outs[0].Metadata[1].Value)
}

func TestMulticastGroups(t *testing.T) {
	sw := newFakeSwitch()
	c := dial(t, startSwitch(t, sw))
	ctx := context.Background()

	require.NoError(t, c.InstallMulticastGroup(ctx, 1, []uint16{1, 2, 3}))
	require.NoError(t, c.DeleteMulticastGroup(ctx, 1))

	sw.mu.Lock()
	defer sw.mu.Unlock()
	require.Len(t, sw.updates, 2)

	insert := sw.updates[0]
	assert.Equal(t, p4v1.Update_INSERT, insert.Type)
	group := insert.GetEntity().GetPacketReplicationEngineEntry().GetMulticastGroupEntry()
	require.NotNil(t, group)
	assert.Equal(t, uint32(1), group.MulticastGroupId)
	require.Len(t, group.Replicas, 3)
	assert.Equal(t, uint32(3), group.Replicas[2].EgressPort)

	assert.Equal(t, p4v1.Update_DELETE, sw.updates[1].Type)
}

func TestWriteError(t *testing.T) {
	sw := newFakeSwitch()
	sw.writeErr = status.Error(codes.AlreadyExists, "group exists")
	c := dial(t, startSwitch(t, sw))

	err := c.InstallMulticastGroup(context.Background(), 10, []uint16{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrChannel)
}
