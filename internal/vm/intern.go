package vm

import "vela/internal/value"

// InternTable deduplicates string content: CopyString/TakeString probe
// by (hash, length, bytes) rather than reference identity — the one
// place in the system that compares string bytes at all. It wraps the
// same open-addressed Table used for globals and fields, using
// Table.findStringEntry for the byte-wise probe and Table.Set/Delete
// (keyed by the now-unique *ObjString) for membership.
type InternTable struct {
	table *Table
}

func NewInternTable() *InternTable {
	return &InternTable{table: NewTable()}
}

// find returns the existing interned ObjString with this exact content,
// or nil if none exists yet.
func (it *InternTable) find(chars string, hash uint32) *ObjString {
	return it.table.findStringEntry(chars, hash)
}

func (it *InternTable) register(s *ObjString) {
	it.table.Set(s, value.Bool(true))
}

// removeUnmarked deletes every interned entry whose ObjString is
// unmarked, run by the GC just before sweep so that unreachable
// interned strings don't get resurrected by a later lookup.
func (it *InternTable) removeUnmarked() {
	for _, key := range it.table.Keys() {
		if !key.Marked {
			it.table.Delete(key)
		}
	}
}
