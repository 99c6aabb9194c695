package learning

import "firestige.xyz/lswitch/internal/core"

// PortBinding is the persisted view of one entry.
type PortBinding struct {
	Port uint16 `json:"port"`
}

// Snapshot is a point-in-time copy of the table, VLAN -> MAC -> port.
// It shares nothing with the table it was taken from.
type Snapshot map[uint16]map[core.MAC]PortBinding

// Snapshot copies the current table contents.
func (t *Table) Snapshot() Snapshot {
	snap := make(Snapshot)
	for k, e := range t.entries {
		bucket, ok := snap[k.VLAN]
		if !ok {
			bucket = make(map[core.MAC]PortBinding)
			snap[k.VLAN] = bucket
		}
		bucket[k.MAC] = PortBinding{Port: e.Port}
	}
	return snap
}

// Len returns the number of bindings in the snapshot.
func (s Snapshot) Len() int {
	n := 0
	for _, bucket := range s {
		n += len(bucket)
	}
	return n
}
