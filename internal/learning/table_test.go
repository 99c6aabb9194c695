package learning

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lswitch/internal/core"
)

var (
	macA = core.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	macB = core.MAC{0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func TestNewTableDefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewTable(0).TTL())
	assert.Equal(t, DefaultTTL, NewTable(-3).TTL())
	assert.Equal(t, 5, NewTable(5).TTL())
}

func TestTouchAndLookup(t *testing.T) {
	tbl := NewTable(3)
	tbl.Touch(0, macA, 3)

	port, ok := tbl.Lookup(0, macA)
	require.True(t, ok)
	assert.Equal(t, uint16(3), port)

	_, ok = tbl.Lookup(0, macB)
	assert.False(t, ok)
}

func TestAgingDecrementsOncePerCall(t *testing.T) {
	tbl := NewTable(3)
	tbl.Touch(0, macA, 1)

	for want := 2; want >= 1; want-- {
		removed := tbl.AgeAll()
		assert.Empty(t, removed)
		e, ok := tbl.Get(0, macA)
		require.True(t, ok)
		assert.Equal(t, want, e.TTL)
	}

	removed := tbl.AgeAll()
	require.Len(t, removed, 1)
	assert.Equal(t, Entry{VLAN: 0, MAC: macA, Port: 1, TTL: 0}, removed[0])

	_, ok := tbl.Lookup(0, macA)
	assert.False(t, ok, "entry must be absent once its TTL reaches zero")
	assert.Equal(t, 0, tbl.Len())
}

func TestAgingAppliesToAllEntries(t *testing.T) {
	tbl := NewTable(2)
	tbl.Touch(0, macA, 1)
	tbl.Touch(5, macB, 2)

	tbl.AgeAll()
	for _, e := range tbl.Entries() {
		assert.Equal(t, 1, e.TTL, "%v", e)
	}

	removed := tbl.AgeAll()
	require.Len(t, removed, 2)
	assert.Equal(t, uint16(0), removed[0].VLAN)
	assert.Equal(t, uint16(5), removed[1].VLAN)
}

func TestTouchIsIdempotent(t *testing.T) {
	tbl := NewTable(4)
	tbl.Touch(1, macA, 7)
	tbl.AgeAll()
	tbl.AgeAll()

	tbl.Touch(1, macA, 7)
	assert.Equal(t, 1, tbl.Len())

	e, ok := tbl.Get(1, macA)
	require.True(t, ok)
	assert.Equal(t, 4, e.TTL, "refresh resets TTL to the threshold")
	assert.Equal(t, uint16(7), e.Port)
}

func TestTouchMovesPort(t *testing.T) {
	tbl := NewTable(4)
	tbl.Touch(1, macA, 7)
	tbl.Touch(1, macA, 9)

	port, ok := tbl.Lookup(1, macA)
	require.True(t, ok)
	assert.Equal(t, uint16(9), port)
	assert.Equal(t, 1, tbl.Len())
}

func TestVLANIsolation(t *testing.T) {
	tbl := NewTable(10)
	tbl.Touch(5, macA, 3)

	_, ok := tbl.Lookup(0, macA)
	assert.False(t, ok)
	_, ok = tbl.Lookup(6, macA)
	assert.False(t, ok)

	port, ok := tbl.Lookup(5, macA)
	require.True(t, ok)
	assert.Equal(t, uint16(3), port)
}

func TestEmptyVLANPruned(t *testing.T) {
	tbl := NewTable(1)
	tbl.Touch(3, macA, 1)
	tbl.Touch(9, macB, 1)
	assert.Equal(t, []uint16{3, 9}, tbl.VLANs())

	tbl.AgeAll()
	assert.Empty(t, tbl.VLANs())
	assert.Empty(t, tbl.Snapshot())

	tbl.Touch(9, macB, 1)
	assert.Equal(t, []uint16{9}, tbl.VLANs())
}

func TestEntriesOrdered(t *testing.T) {
	tbl := NewTable(10)
	tbl.Touch(2, macA, 1)
	tbl.Touch(1, macA, 2)
	tbl.Touch(1, macB, 3)

	got := tbl.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, Key{1, macB}, Key{got[0].VLAN, got[0].MAC})
	assert.Equal(t, Key{1, macA}, Key{got[1].VLAN, got[1].MAC})
	assert.Equal(t, Key{2, macA}, Key{got[2].VLAN, got[2].MAC})
}

func TestSnapshotIsDetached(t *testing.T) {
	tbl := NewTable(10)
	tbl.Touch(0, macA, 3)
	tbl.Touch(7, macB, 4)

	snap := tbl.Snapshot()
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, PortBinding{Port: 3}, snap[0][macA])

	tbl.Touch(0, macA, 8)
	assert.Equal(t, uint16(3), snap[0][macA].Port)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0":{"aa:bb:cc:dd:ee:ff":{"port":3}},"7":{"00:00:00:00:00:02":{"port":4}}}`, string(data))
}
