// Package merge implements a K-way merge over already-sorted entry slices,
// enforcing key order and, on key ties, recency order via a precedence rank
// assigned at Add time (lower precedence = newer; earlier-added sources are
// newer — callers must Add newest-first).
package merge

import (
	"container/heap"

	"github.com/flashkv/flashkv/entry"
)

// MergeContext merges an arbitrary number of sorted entry sources,
// collapsing same-key duplicates across sources down to the newest one.
type MergeContext struct {
	sources sourceHeap
}

// New returns an empty MergeContext.
func New() *MergeContext {
	return &MergeContext{}
}

// Add registers entries as a new source. Sources must be added newest-first:
// the precedence assigned is the number of sources the context holds at the
// time of the call, so the first non-empty Add gets precedence 0 (newest). A
// source with no entries is ignored and not counted.
func (m *MergeContext) Add(entries []entry.Entry) {
	if len(entries) == 0 {
		return
	}
	heap.Push(&m.sources, &source{
		entries:    entries,
		precedence: len(m.sources),
	})
}

// Done reports whether every source has been fully consumed.
func (m *MergeContext) Done() bool {
	return len(m.sources) == 0
}

// Next returns the next entry in the merged order: the smallest key across
// all sources, breaking ties in favor of the lowest (newest) precedence.
// Every other source whose current head shares that key is advanced past it
// (and dropped if exhausted), so a key's older duplicates are consumed
// without ever being emitted.
func (m *MergeContext) Next() entry.Entry {
	top := m.sources[0]
	result := top.head()
	key := result.Key

	for len(m.sources) > 0 && m.sources[0].head().Key == key {
		s := heap.Pop(&m.sources).(*source)
		s.idx++
		if !s.done() {
			heap.Push(&m.sources, s)
		}
	}

	return result
}

type source struct {
	entries    []entry.Entry
	precedence int
	idx        int
}

func (s *source) head() entry.Entry { return s.entries[s.idx] }
func (s *source) done() bool        { return s.idx >= len(s.entries) }

// sourceHeap orders by key ascending, then by precedence ascending (newer
// first) on key ties.
type sourceHeap []*source

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	hi, hj := h[i].head(), h[j].head()
	if hi.Key != hj.Key {
		return hi.Key < hj.Key
	}
	return h[i].precedence < h[j].precedence
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x any) {
	*h = append(*h, x.(*source))
}

func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
