// Package level implements one level of the LSM tree's run hierarchy: a
// fixed-capacity, newest-first ordered collection of runs.
package level

import "github.com/flashkv/flashkv/run"

// Level holds up to MaxRuns runs, each with capacity MaxRunSize entries,
// with Runs[0] always the newest.
type Level struct {
	MaxRuns    int
	MaxRunSize int
	Runs       []*run.Run
}

// New returns an empty level with the given run-count and per-run
// capacities.
func New(maxRuns, maxRunSize int) *Level {
	return &Level{
		MaxRuns:    maxRuns,
		MaxRunSize: maxRunSize,
		Runs:       make([]*run.Run, 0, maxRuns),
	}
}

// Remaining reports how many more runs this level can hold.
func (l *Level) Remaining() int {
	return l.MaxRuns - len(l.Runs)
}

// PushFront inserts r as the newest run in the level.
func (l *Level) PushFront(r *run.Run) {
	l.Runs = append(l.Runs, nil)
	copy(l.Runs[1:], l.Runs[:len(l.Runs)-1])
	l.Runs[0] = r
}

// Clear empties the level's run list. Callers are responsible for
// destroying the runs' backing temp files first.
func (l *Level) Clear() {
	l.Runs = l.Runs[:0]
}
