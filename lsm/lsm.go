// Package lsm orchestrates the full tree: the in-memory buffer, the leveled
// run hierarchy, cascade merge, and parallel search.
package lsm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/flashkv/flashkv/buffer"
	"github.com/flashkv/flashkv/config"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/level"
	"github.com/flashkv/flashkv/merge"
	"github.com/flashkv/flashkv/pool"
	"github.com/flashkv/flashkv/run"
	"github.com/flashkv/flashkv/spinlock"
)

// Tree is a single-node, in-process LSM tree over int64 keys and values.
type Tree struct {
	buffer         *buffer.Buffer
	levels         []*level.Level
	pool           *pool.Pool
	bfBitsPerEntry float64
}

// New builds a Tree from cfg: depth levels with per-run capacities
// BufferMaxEntries × Fanout^i, a buffer bounded to BufferMaxEntries keys,
// and a worker pool of ThreadCount workers.
func New(cfg config.Config) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	levels := make([]*level.Level, cfg.Depth)
	maxRunSize := cfg.BufferMaxEntries
	for i := 0; i < cfg.Depth; i++ {
		levels[i] = level.New(cfg.Fanout, maxRunSize)
		maxRunSize *= cfg.Fanout
	}

	return &Tree{
		buffer:         buffer.New(cfg.BufferMaxEntries),
		levels:         levels,
		pool:           pool.New(cfg.ThreadCount),
		bfBitsPerEntry: cfg.BFBitsPerEntry,
	}, nil
}

// Close stops the tree's worker pool. The tree must not be used afterward.
func (t *Tree) Close() {
	t.pool.Close()
}

// Put writes (key, value), flushing the buffer to a new level-0 run (after
// making room via a cascade merge, if necessary) when the buffer is full.
func (t *Tree) Put(key, value int64) {
	if t.buffer.Put(key, value) {
		return
	}

	t.mergeDown(0)

	l0 := t.levels[0]
	r, err := run.New(l0.MaxRunSize, t.bfBitsPerEntry)
	if err != nil {
		panic(fmt.Sprintf("lsm: put: %v", err))
	}
	if err := r.MapWrite(); err != nil {
		panic(fmt.Sprintf("lsm: put: %v", err))
	}
	for _, e := range t.buffer.Entries() {
		r.Put(e)
	}
	if err := r.Unmap(); err != nil {
		panic(fmt.Sprintf("lsm: put: %v", err))
	}
	l0.PushFront(r)

	t.buffer.Empty()
	if !t.buffer.Put(key, value) {
		panic("lsm: put: re-insertion into emptied buffer failed")
	}
}

// Delete marks key as deleted by writing the tombstone sentinel.
func (t *Tree) Delete(key int64) {
	t.Put(key, entry.Tombstone)
}

// mergeDown ensures levels[idx] has a free run slot, recursively cascading
// into deeper levels first if necessary. Panics if the deepest level is
// already full.
func (t *Tree) mergeDown(idx int) {
	current := t.levels[idx]
	if current.Remaining() > 0 {
		return
	}
	if idx == len(t.levels)-1 {
		panic("lsm: merge_down: no more space in tree")
	}

	next := t.levels[idx+1]
	if next.Remaining() == 0 {
		t.mergeDown(idx + 1)
	}

	mc := merge.New()
	for _, r := range current.Runs {
		entries, err := r.MapReadEntries()
		if err != nil {
			panic(fmt.Sprintf("lsm: merge_down: %v", err))
		}
		mc.Add(entries)
	}

	newRun, err := run.New(next.MaxRunSize, t.bfBitsPerEntry)
	if err != nil {
		panic(fmt.Sprintf("lsm: merge_down: %v", err))
	}
	if err := newRun.MapWrite(); err != nil {
		panic(fmt.Sprintf("lsm: merge_down: %v", err))
	}

	isFinalLevel := idx+1 == len(t.levels)-1
	for !mc.Done() {
		e := mc.Next()
		if isFinalLevel && e.Value == entry.Tombstone {
			continue // the only point tombstones are garbage-collected
		}
		newRun.Put(e)
	}

	if err := newRun.Unmap(); err != nil {
		panic(fmt.Sprintf("lsm: merge_down: %v", err))
	}
	next.PushFront(newRun)

	for _, r := range current.Runs {
		if err := r.Destroy(); err != nil {
			panic(fmt.Sprintf("lsm: merge_down: %v", err))
		}
	}
	current.Clear()
}

// getRun returns the run at global index idx, enumerating levels newest-
// first, or nil past the last run in the tree.
func (t *Tree) getRun(idx int) *run.Run {
	for _, lvl := range t.levels {
		if idx < len(lvl.Runs) {
			return lvl.Runs[idx]
		}
		idx -= len(lvl.Runs)
	}
	return nil
}

// Get returns the current value for key, or false if it is absent or
// deleted. The buffer is consulted first; a miss there launches a parallel
// search across every run, newest-first, short-circuiting once any worker
// has observed a hit.
func (t *Tree) Get(key int64) (int64, bool) {
	if v, ok := t.buffer.Get(key); ok {
		if v == entry.Tombstone {
			return 0, false
		}
		return v, true
	}

	var counter int64 = -1
	var latestRun atomic.Int32
	latestRun.Store(-1)
	var latestVal int64
	var lock spinlock.SpinLock

	search := func() {
		for {
			// Advisory check outside the lock: a worker already
			// inside run.Get completes that call before observing
			// this flag.
			if latestRun.Load() >= 0 {
				return
			}

			current := int(atomic.AddInt64(&counter, 1))
			r := t.getRun(current)
			if r == nil {
				return
			}

			val, found := r.Get(key)
			if !found {
				continue
			}

			lock.Lock()
			if latestRun.Load() < 0 || int32(current) < latestRun.Load() {
				latestRun.Store(int32(current))
				latestVal = val
			}
			lock.Unlock()
			return
		}
	}

	t.pool.Launch(search)
	t.pool.WaitAll()

	if latestRun.Load() >= 0 && latestVal != entry.Tombstone {
		return latestVal, true
	}
	return 0, false
}

// Range returns every live (non-tombstone) entry with a key in
// [start, endExclusive), in ascending key order, reflecting the most
// recent value for each key.
func (t *Tree) Range(start, endExclusive int64) []entry.Entry {
	if endExclusive <= start {
		return nil
	}
	end := endExclusive - 1

	var counter int64 = -1
	var lock spinlock.SpinLock
	ranges := map[int][]entry.Entry{
		0: t.buffer.Range(start, end),
	}

	search := func() {
		for {
			current := int(atomic.AddInt64(&counter, 1))
			r := t.getRun(current)
			if r == nil {
				return
			}

			sub := r.Range(start, end)

			lock.Lock()
			ranges[current+1] = sub
			lock.Unlock()
		}
	}

	t.pool.Launch(search)
	t.pool.WaitAll()

	keys := make([]int, 0, len(ranges))
	for k := range ranges {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	mc := merge.New()
	for _, k := range keys {
		mc.Add(ranges[k])
	}

	var out []entry.Entry
	for !mc.Done() {
		e := mc.Next()
		if e.Value != entry.Tombstone {
			out = append(out, e)
		}
	}
	return out
}

// Load reads a flat binary stream of little-endian (key, value) int64 pairs
// and Puts each in sequence.
func (t *Tree) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("lsm: load: could not locate file %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, entry.Size)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("lsm: load: %w", err)
		}

		key := decodeInt64(buf[:entry.KeySize])
		value := decodeInt64(buf[entry.KeySize:])
		t.Put(key, value)
	}
}

func decodeInt64(b []byte) int64 {
	u := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	return int64(u)
}
