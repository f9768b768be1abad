// Package run implements an immutable, memory-mapped, sorted on-disk run,
// the unit of storage that each level of the LSM tree's hierarchy holds. A run owns a temp file sized for
// its capacity, a Bloom filter over every key it holds, and a sparse index
// of fence pointers — the key at the first entry of every page-aligned
// block — that lets Get and Range touch only the page(s) that can possibly
// contain a hit.
//
// A run holds at most one memory mapping at a time: write mappings are
// established once during construction (flush or cascade merge) and torn
// down before the run is handed back to the steady state; read mappings are
// opened and closed per call by Get and Range, so concurrent reads of
// different runs never contend. The mapping is stored on the Run itself, so
// a Run is not safe for concurrent use: two overlapping calls on the same run
// find a mapping already held and panic.
package run

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/flashkv/flashkv/bloomfilter"
	"github.com/flashkv/flashkv/entry"
)

// Run is an immutable, key-sorted sequence of entries backed by a temp file.
type Run struct {
	maxSize int
	size    int

	fencePointers []int64
	maxKey        int64
	hasMaxKey     bool

	bloom *bloomfilter.Filter

	tmpFile string

	f        *os.File
	data     []byte
	mapped   bool
	writable bool
}

// New allocates a run with capacity for maxSize entries and creates its
// backing temp file. The run starts empty and unmapped.
func New(maxSize int, bitsPerEntry float64) (*Run, error) {
	f, err := os.CreateTemp("", "lsm-run-*")
	if err != nil {
		return nil, fmt.Errorf("run: create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("run: close temp file: %w", err)
	}

	return &Run{
		maxSize:       maxSize,
		fencePointers: make([]int64, 0, maxSize/entry.EntriesPerPage+1),
		bloom:         bloomfilter.New(maxSize, bitsPerEntry),
		tmpFile:       name,
	}, nil
}

// Size reports the number of entries currently written to the run.
func (r *Run) Size() int { return r.size }

// MaxSize reports the run's fixed capacity in entries.
func (r *Run) MaxSize() int { return r.maxSize }

// MaxKey reports the largest key written to the run. Only meaningful when
// Size() > 0.
func (r *Run) MaxKey() int64 { return r.maxKey }

// MapWrite opens the run's temp file read-write, truncates it to its full
// capacity, and establishes a writable mapping. Panics if a mapping is
// already held.
func (r *Run) MapWrite() error {
	if r.mapped {
		panic("run: map_write: a mapping is already held")
	}

	f, err := os.OpenFile(r.tmpFile, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("run: open for write: %w", err)
	}

	length := r.maxSize * entry.Size
	if length == 0 {
		length = 1
	}

	if err := f.Truncate(int64(length)); err != nil {
		f.Close()
		return fmt.Errorf("run: truncate: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("run: mmap write: %w", err)
	}

	r.f = f
	r.data = data
	r.mapped = true
	r.writable = true

	return nil
}

// MapRead opens the run's temp file read-only and establishes a shared read
// mapping over [offset, offset+length). Panics if a mapping is already held.
func (r *Run) MapRead(length int, offset int64) ([]byte, error) {
	if r.mapped {
		panic("run: map_read: a mapping is already held")
	}
	if length <= 0 {
		return nil, nil
	}

	f, err := os.Open(r.tmpFile)
	if err != nil {
		return nil, fmt.Errorf("run: open for read: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), offset, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("run: mmap read: %w", err)
	}

	r.f = f
	r.data = data
	r.mapped = true
	r.writable = false

	return data, nil
}

// MapReadAll maps the run's entire written extent for read.
func (r *Run) MapReadAll() ([]byte, error) {
	return r.MapRead(r.size*entry.Size, 0)
}

// Unmap releases the current mapping and closes its file descriptor. Panics
// if no mapping is held.
func (r *Run) Unmap() error {
	if !r.mapped {
		panic("run: unmap: no mapping is held")
	}

	var mmapErr, closeErr error
	if len(r.data) > 0 {
		mmapErr = unix.Munmap(r.data)
	}
	closeErr = r.f.Close()

	r.data = nil
	r.f = nil
	r.mapped = false
	r.writable = false

	if mmapErr != nil {
		return fmt.Errorf("run: munmap: %w", mmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("run: close: %w", closeErr)
	}
	return nil
}

// Put appends e to the run. Requires a live write mapping, remaining
// capacity, and a key strictly greater than every previously-put key.
func (r *Run) Put(e entry.Entry) {
	if !r.mapped || !r.writable {
		panic("run: put: requires a live write mapping")
	}
	if r.size >= r.maxSize {
		panic("run: put: capacity exhausted")
	}
	if r.size > 0 && e.Key <= r.maxKey {
		panic("run: put: keys must be strictly ascending")
	}

	r.bloom.Set(e.Key)

	if r.size%entry.EntriesPerPage == 0 {
		r.fencePointers = append(r.fencePointers, e.Key)
	}

	r.maxKey = e.Key
	r.hasMaxKey = true

	writeEntry(r.data, r.size*entry.Size, e)
	r.size++
}

// Get returns the value stored for key, if the run holds it. A Bloom-filter
// miss or an out-of-range key short-circuits without any I/O.
func (r *Run) Get(key int64) (int64, bool) {
	if r.size == 0 {
		return 0, false
	}
	if key < r.fencePointers[0] || key > r.maxKey || !r.bloom.IsSet(key) {
		return 0, false
	}

	pageIndex := upperBound(r.fencePointers, key) - 1

	offset := int64(pageIndex) * entry.PageSize
	length := pageByteLength(pageIndex, r.size)

	data, err := r.MapRead(length, offset)
	if err != nil {
		panic(fmt.Sprintf("run: get: %v", err))
	}
	defer func() {
		if err := r.Unmap(); err != nil {
			panic(fmt.Sprintf("run: get: %v", err))
		}
	}()

	n := length / entry.Size
	for i := 0; i < n; i++ {
		e := readEntry(data, i*entry.Size)
		if e.Key == key {
			return e.Value, true
		}
	}

	return 0, false
}

// Range returns every entry in [start, end] held by the run, in ascending
// key order. Returns nil if the request does not overlap the run's extent.
func (r *Run) Range(start, end int64) []entry.Entry {
	if r.size == 0 || start > r.maxKey || r.fencePointers[0] > end {
		return nil
	}

	var startPage int
	if start < r.fencePointers[0] {
		startPage = 0
	} else {
		startPage = upperBound(r.fencePointers, start) - 1
	}

	var endPage int
	if end > r.maxKey {
		endPage = len(r.fencePointers)
	} else {
		endPage = upperBound(r.fencePointers, end)
	}

	offset := int64(startPage) * entry.PageSize
	length := 0
	for p := startPage; p < endPage; p++ {
		length += pageByteLength(p, r.size)
	}

	data, err := r.MapRead(length, offset)
	if err != nil {
		panic(fmt.Sprintf("run: range: %v", err))
	}
	defer func() {
		if err := r.Unmap(); err != nil {
			panic(fmt.Sprintf("run: range: %v", err))
		}
	}()

	n := length / entry.Size
	result := make([]entry.Entry, 0, n)
	for i := 0; i < n; i++ {
		e := readEntry(data, i*entry.Size)
		if e.Key >= start && e.Key <= end {
			result = append(result, e)
		}
	}

	return result
}

// MapReadEntries maps the run's full written extent, decodes every entry
// into an owned slice, and unmaps before returning, rather than keeping the
// mapping alive for a cascade merge's whole drain: nothing downstream needs
// the mapping to outlive this call, and an owned slice is simpler to reason
// about across the merge package's longer-lived use.
func (r *Run) MapReadEntries() ([]entry.Entry, error) {
	if r.size == 0 {
		return nil, nil
	}
	data, err := r.MapReadAll()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Unmap(); err != nil {
			panic(fmt.Sprintf("run: map_read_entries: %v", err))
		}
	}()

	entries := make([]entry.Entry, r.size)
	for i := range entries {
		entries[i] = readEntry(data, i*entry.Size)
	}
	return entries, nil
}

// Destroy removes the run's backing temp file. Panics if a mapping is
// still held.
func (r *Run) Destroy() error {
	if r.mapped {
		panic("run: destroy: a mapping is still held")
	}
	if err := os.Remove(r.tmpFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("run: destroy: %w", err)
	}
	return nil
}

// pageByteLength returns the number of live bytes occupying page p, given
// size live entries total. The final page is typically partial.
func pageByteLength(p int, size int) int {
	remainingEntries := size - p*entry.EntriesPerPage
	if remainingEntries > entry.EntriesPerPage {
		remainingEntries = entry.EntriesPerPage
	}
	if remainingEntries < 0 {
		remainingEntries = 0
	}
	return remainingEntries * entry.Size
}

// upperBound returns the index of the first element strictly greater than
// key, i.e. len(fence) if no such element exists.
func upperBound(fence []int64, key int64) int {
	return sort.Search(len(fence), func(i int) bool {
		return fence[i] > key
	})
}

func writeEntry(data []byte, offset int, e entry.Entry) {
	putInt64(data[offset:], e.Key)
	putInt64(data[offset+entry.KeySize:], e.Value)
}

func readEntry(data []byte, offset int) entry.Entry {
	return entry.Entry{
		Key:   getInt64(data[offset:]),
		Value: getInt64(data[offset+entry.KeySize:]),
	}
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	b[0] = byte(u)
	b[1] = byte(u >> 8)
	b[2] = byte(u >> 16)
	b[3] = byte(u >> 24)
	b[4] = byte(u >> 32)
	b[5] = byte(u >> 40)
	b[6] = byte(u >> 48)
	b[7] = byte(u >> 56)
}

func getInt64(b []byte) int64 {
	u := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	return int64(u)
}
