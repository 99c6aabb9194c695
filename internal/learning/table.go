// Package learning implements the frame-count aged (VLAN, MAC) -> port table.
//
// Aging is driven by processed frames, not wall-clock time: every call to
// AgeAll decrements all entries by one, so a quiescent link never expires
// its learned entries.
package learning

import (
	"bytes"
	"sort"

	"firestige.xyz/lswitch/internal/core"
)

// DefaultTTL is the number of processed frames a learned entry survives
// without being refreshed.
const DefaultTTL = 100

// Key identifies one learned binding.
type Key struct {
	VLAN uint16
	MAC  core.MAC
}

// Entry is one learned (VLAN, MAC) -> port binding with its remaining TTL.
type Entry struct {
	VLAN uint16
	MAC  core.MAC
	Port uint16
	TTL  int
}

// Table is the learning table. It has exactly one writer and is not safe
// for concurrent use.
type Table struct {
	ttl     int
	entries map[Key]*Entry
}

// NewTable creates an empty table whose entries start with the given TTL.
// A non-positive ttl selects DefaultTTL.
func NewTable(ttl int) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Table{
		ttl:     ttl,
		entries: make(map[Key]*Entry),
	}
}

// TTL returns the threshold new and refreshed entries start with.
func (t *Table) TTL() int {
	return t.ttl
}

// Touch inserts or overwrites the entry for (vlan, mac), resetting its TTL.
func (t *Table) Touch(vlan uint16, mac core.MAC, port uint16) {
	k := Key{VLAN: vlan, MAC: mac}
	if e, ok := t.entries[k]; ok {
		e.Port = port
		e.TTL = t.ttl
		return
	}
	t.entries[k] = &Entry{VLAN: vlan, MAC: mac, Port: port, TTL: t.ttl}
}

// AgeAll decrements every entry by one and removes those reaching zero.
// The removed entries are returned ordered by VLAN then MAC.
func (t *Table) AgeAll() []Entry {
	var removed []Entry
	for k, e := range t.entries {
		e.TTL--
		if e.TTL <= 0 {
			e.TTL = 0
			removed = append(removed, *e)
			delete(t.entries, k)
		}
	}
	sortEntries(removed)
	return removed
}

// Lookup returns the port learned for (vlan, mac).
func (t *Table) Lookup(vlan uint16, mac core.MAC) (uint16, bool) {
	e, ok := t.entries[Key{VLAN: vlan, MAC: mac}]
	if !ok {
		return 0, false
	}
	return e.Port, true
}

// Get returns a copy of the entry for (vlan, mac).
func (t *Table) Get(vlan uint16, mac core.MAC) (Entry, bool) {
	e, ok := t.entries[Key{VLAN: vlan, MAC: mac}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of learned entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// VLANs returns the VLANs holding at least one entry, ascending.
func (t *Table) VLANs() []uint16 {
	seen := make(map[uint16]struct{})
	for k := range t.entries {
		seen[k.VLAN] = struct{}{}
	}
	vlans := make([]uint16, 0, len(seen))
	for v := range seen {
		vlans = append(vlans, v)
	}
	sort.Slice(vlans, func(i, j int) bool { return vlans[i] < vlans[j] })
	return vlans
}

// Entries returns copies of all entries ordered by VLAN then MAC.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].VLAN != es[j].VLAN {
			return es[i].VLAN < es[j].VLAN
		}
		return bytes.Compare(es[i].MAC[:], es[j].MAC[:]) < 0
	})
}
