package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/mdlayher/arp"
	"github.com/mdlayher/ethernet"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"firestige.xyz/lswitch/internal/control"
	"firestige.xyz/lswitch/internal/control/controltest"
	"firestige.xyz/lswitch/internal/core"
	"firestige.xyz/lswitch/internal/forward"
	"firestige.xyz/lswitch/internal/learning"
	"firestige.xyz/lswitch/internal/log"
	"firestige.xyz/lswitch/internal/metrics"
	"firestige.xyz/lswitch/internal/snapshot"
	"firestige.xyz/lswitch/internal/topology"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	macA = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x0a}
	macB = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x0b}
)

func arpFrame(t *testing.T, vlan uint16, src net.HardwareAddr) []byte {
	t.Helper()
	req, err := arp.NewPacket(arp.OperationRequest, src, netip.MustParseAddr("10.0.0.1"),
		ethernet.Broadcast, netip.MustParseAddr("10.0.0.2"))
	require.NoError(t, err)
	body, err := req.MarshalBinary()
	require.NoError(t, err)
	return frame(t, vlan, src, ethernet.Broadcast, ethernet.EtherTypeARP, body)
}

func ipFrame(t *testing.T, vlan uint16, src, dst net.HardwareAddr) []byte {
	t.Helper()
	return frame(t, vlan, src, dst, ethernet.EtherTypeIPv4, []byte{0x45, 0x00})
}

func frame(t *testing.T, vlan uint16, src, dst net.HardwareAddr, et ethernet.EtherType, payload []byte) []byte {
	t.Helper()
	f := &ethernet.Frame{
		Destination: dst,
		Source:      src,
		EtherType:   et,
		Payload:     payload,
	}
	if vlan != 0 {
		f.VLAN = &ethernet.VLAN{ID: vlan}
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	return b
}

func testTopology() *topology.Topology {
	return &topology.Topology{
		Switch:            "50001",
		DefaultGroupID:    1,
		DefaultFloodPorts: []uint16{1, 2, 3},
		VLANPorts:         map[uint16][]uint16{10: {1, 2}, 20: {3}},
	}
}

type harness struct {
	fake     *controltest.Fake
	engine   *forward.Engine
	mem      *snapshot.MemorySink
	prom     *metrics.Metrics
	pipeline *Pipeline
}

func newHarness(t *testing.T, threshold int) *harness {
	t.Helper()
	h := &harness{
		fake:   controltest.NewFake(),
		engine: forward.NewEngine(learning.NewTable(learning.DefaultTTL), testTopology()),
		mem:    snapshot.NewMemorySink(),
		prom:   metrics.New(),
	}
	h.pipeline = NewBuilder().
		WithSwitch("switch-50001").
		WithChannel(h.fake).
		WithEngine(h.engine).
		WithSnapshots(h.mem, threshold).
		WithReceiveTimeout(10 * time.Millisecond).
		WithMetrics(h.prom).
		Build()
	return h
}

// runUntilDrained runs the pipeline until the fake queue is empty.
func (h *harness) runUntilDrained(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fake.OnEmpty = cancel
	require.NoError(t, h.pipeline.Run(ctx))
}

func metaValue(t *testing.T, out control.PacketOut, id uint32) uint16 {
	t.Helper()
	v, ok := out.Uint16(id)
	require.True(t, ok, "metadata %d missing", id)
	return v
}

func TestARPFloodsAndLearns(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.Push(2, arpFrame(t, 0, macA))
	h.runUntilDrained(t)

	sent := h.fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint16(1), metaValue(t, sent[0], control.MetadataMulticastGroup))
	assert.Equal(t, uint16(2), metaValue(t, sent[0], control.MetadataIngressPort))
	_, hasEgress := sent[0].Get(control.MetadataEgressPort)
	assert.False(t, hasEgress)

	var a core.MAC
	copy(a[:], macA)
	port, ok := h.engine.Table().Lookup(0, a)
	require.True(t, ok)
	assert.Equal(t, uint16(2), port)

	stats := h.pipeline.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Flooded)
	assert.Equal(t, uint64(1), stats.Learned)
	assert.Equal(t, uint64(1), stats.Sent)
}

func TestUnicastAfterLearning(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.Push(2, arpFrame(t, 10, macA))
	h.fake.Push(1, ipFrame(t, 10, macB, macA))
	h.runUntilDrained(t)

	sent := h.fake.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, uint16(10), metaValue(t, sent[0], control.MetadataMulticastGroup))

	assert.Equal(t, uint16(1), metaValue(t, sent[1], control.MetadataIngressPort))
	assert.Equal(t, uint16(2), metaValue(t, sent[1], control.MetadataEgressPort))
	_, hasGroup := sent[1].Get(control.MetadataMulticastGroup)
	assert.False(t, hasGroup)
}

func TestTaggedMissDropped(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.Push(1, ipFrame(t, 20, macB, macA))
	h.runUntilDrained(t)

	assert.Empty(t, h.fake.Sent())
	assert.Equal(t, uint64(1), h.pipeline.Stats().Dropped)
}

func TestReloadedLoggerReceivesOutput(t *testing.T) {
	prev := log.GetLogger()
	t.Cleanup(func() { log.SetLogger(prev) })

	h := newHarness(t, 10)

	var buf bytes.Buffer
	cfg := log.DefaultConfig()
	cfg.Level = "debug"
	l, err := log.NewWithWriter(cfg, &buf)
	require.NoError(t, err)
	log.SetLogger(l)

	h.fake.Push(1, ipFrame(t, 20, macB, macA))
	h.runUntilDrained(t)

	assert.Contains(t, buf.String(), "dropping frame: unknown-vlan-destination")
	assert.Contains(t, buf.String(), "switch-50001")
}

func TestUntaggedMissFloodsDefaultGroup(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.Push(3, ipFrame(t, 0, macB, macA))
	h.runUntilDrained(t)

	sent := h.fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint16(1), metaValue(t, sent[0], control.MetadataMulticastGroup))
}

func TestMalformedSkipped(t *testing.T) {
	h := newHarness(t, 1)
	h.fake.Push(1, []byte{0x01, 0x02, 0x03})
	h.fake.Push(1, arpFrame(t, 0, macA))
	h.runUntilDrained(t)

	stats := h.pipeline.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Decoded)
	assert.Len(t, h.fake.Sent(), 1)
	// Only the decoded frame ticks the snapshot counter.
	assert.Equal(t, uint64(1), stats.Snapshots)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.prom.FramesTotal.WithLabelValues("malformed")))
}

func TestMissingIngressMetadataIsMalformed(t *testing.T) {
	h := newHarness(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.pipeline.processPacket(ctx, &control.PacketIn{Payload: arpFrame(t, 0, macA)})
	assert.Equal(t, uint64(1), h.pipeline.Stats().Malformed)
	assert.Empty(t, h.fake.Sent())
}

func TestSnapshotCadence(t *testing.T) {
	h := newHarness(t, 3)
	for i := 0; i < 7; i++ {
		h.fake.Push(1, arpFrame(t, 0, macA))
	}
	h.runUntilDrained(t)

	assert.Equal(t, uint64(2), h.pipeline.Stats().Snapshots)
	rec, ok := h.mem.Latest()
	require.True(t, ok)
	assert.Equal(t, "switch-50001", rec.Switch)
	assert.Equal(t, 1, rec.Table.Len())
}

type failingSink struct{}

func (failingSink) Write(context.Context, snapshot.Record) error {
	return errors.New("disk full")
}
func (failingSink) Close() error { return nil }

func TestSnapshotFailureDoesNotStopForwarding(t *testing.T) {
	fake := controltest.NewFake()
	p := New(Config{
		Switch:            "switch-50001",
		Channel:           fake,
		Engine:            forward.NewEngine(learning.NewTable(learning.DefaultTTL), testTopology()),
		Sink:              snapshot.Multi{failingSink{}},
		SnapshotThreshold: 1,
	})
	fake.Push(1, arpFrame(t, 0, macA))
	fake.Push(1, arpFrame(t, 0, macB))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.OnEmpty = cancel
	require.NoError(t, p.Run(ctx))

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, uint64(2), stats.SnapshotErrors)
}

func TestSendErrorContinues(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.SendErr = errors.New("stream broken")
	h.fake.Push(1, arpFrame(t, 0, macA))
	h.fake.Push(1, arpFrame(t, 0, macB))
	h.runUntilDrained(t)

	stats := h.pipeline.Stats()
	assert.Equal(t, uint64(2), stats.SendErrors)
	assert.Equal(t, uint64(0), stats.Sent)
	// Learning still happened.
	assert.Equal(t, 2, h.engine.Table().Len())
}

func TestReceiveRetriedOnce(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.PushError(core.ErrChannel)
	h.fake.Push(1, arpFrame(t, 0, macA))
	h.runUntilDrained(t)

	stats := h.pipeline.Stats()
	assert.Equal(t, uint64(1), stats.ReceiveErrors)
	assert.Equal(t, uint64(1), stats.Sent)
}

func TestReceiveFailsTwice(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.PushError(core.ErrChannel)
	h.fake.PushError(core.ErrChannel)
	h.fake.Push(1, arpFrame(t, 0, macA))

	err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrChannel)
	assert.Empty(t, h.fake.Sent())
}

func TestTimeoutResetsFailureCount(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.PushError(core.ErrChannel)
	h.fake.PushTimeout()
	h.fake.PushError(core.ErrChannel)
	h.fake.Push(1, arpFrame(t, 0, macA))
	h.runUntilDrained(t)

	assert.Equal(t, uint64(2), h.pipeline.Stats().ReceiveErrors)
	assert.Len(t, h.fake.Sent(), 1)
}

func TestChannelClosedEndsRun(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.Exhausted = true
	h.fake.Push(1, arpFrame(t, 0, macA))

	err := h.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrChannelClosed)
	assert.Len(t, h.fake.Sent(), 1)
}

func TestAgingRunsPerFrame(t *testing.T) {
	fake := controltest.NewFake()
	engine := forward.NewEngine(learning.NewTable(2), testTopology())
	p := New(Config{Switch: "s", Channel: fake, Engine: engine})

	fake.Push(1, arpFrame(t, 0, macA))
	fake.Push(2, ipFrame(t, 0, macB, macA))
	fake.Push(2, ipFrame(t, 0, macB, macA))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.OnEmpty = cancel
	require.NoError(t, p.Run(ctx))

	sent := fake.Sent()
	require.Len(t, sent, 3)
	// ttl 2: the entry survives one aging pass, then expires before the third frame.
	_, unicast := sent[1].Get(control.MetadataEgressPort)
	assert.True(t, unicast)
	_, flood := sent[2].Get(control.MetadataMulticastGroup)
	assert.True(t, flood)
	assert.Equal(t, uint64(1), p.Stats().Aged)
	assert.Equal(t, 0, engine.Table().Len())
}

func TestCancelledContextStopsImmediately(t *testing.T) {
	h := newHarness(t, 10)
	h.fake.Push(1, arpFrame(t, 0, macA))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.pipeline.Run(ctx))
	assert.Empty(t, h.fake.Sent())
	assert.Equal(t, 0, h.engine.Table().Len())
}
