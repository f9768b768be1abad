// Package buffer implements the LSM tree's in-memory write buffer: a
// bounded-capacity, unique-key sorted set backed by the memtable package's
// skip list. It is the only component touched before a run ever exists.
package buffer

import (
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/memtable"
)

// Buffer is a sorted set of entries keyed by Key, bounded to maxEntries
// unique keys. A duplicate-key Put replaces the value in place rather than
// counting against the limit.
type Buffer struct {
	sl         *memtable.SkipList[int64, int64]
	maxEntries int
}

// New returns an empty buffer bounded to maxEntries unique keys.
func New(maxEntries int) *Buffer {
	return &Buffer{
		sl:         memtable.NewSkipListMemtable[int64, int64](),
		maxEntries: maxEntries,
	}
}

// Put inserts or overwrites the entry for key. Returns false without
// modification if the buffer is at capacity and key is not already present.
func (b *Buffer) Put(key, value int64) bool {
	if _, exists := b.sl.Get(key); !exists && b.sl.Len() >= b.maxEntries {
		return false
	}
	b.sl.Put(key, value)
	return true
}

// Get returns the current value for key (which may be entry.Tombstone), or
// false if the key is absent.
func (b *Buffer) Get(key int64) (int64, bool) {
	return b.sl.Get(key)
}

// Range returns every entry with a key in [lo, hi], in ascending key order.
func (b *Buffer) Range(lo, hi int64) []entry.Entry {
	records := b.sl.Range(lo, hi)
	out := make([]entry.Entry, len(records))
	for i, rec := range records {
		out[i] = entry.Entry{Key: rec.Key, Value: rec.Value}
	}
	return out
}

// Entries returns every entry currently buffered, in ascending key order —
// the order a flush must write them to a new run in.
func (b *Buffer) Entries() []entry.Entry {
	out := make([]entry.Entry, 0, b.sl.Len())
	for rec := range b.sl.Iterator() {
		out = append(out, entry.Entry{Key: rec.Key, Value: rec.Value})
	}
	return out
}

// Len reports the number of unique keys currently buffered.
func (b *Buffer) Len() int {
	return b.sl.Len()
}

// Empty clears every entry from the buffer.
func (b *Buffer) Empty() {
	b.sl.Reset()
}
