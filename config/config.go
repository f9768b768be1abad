// Package config holds the LSM tree's tunable parameters and their
// defaults, built as a plain struct plus functional options.
package config

import "fmt"

// Config holds the LSM tree's five tunables, defaulting to the values the
// source recommends: 1000, 5, 10, 4, 0.5.
type Config struct {
	BufferMaxEntries int
	Depth            int
	Fanout           int
	ThreadCount      int
	BFBitsPerEntry   float64
}

// DefaultConfig returns the recommended default tunables.
func DefaultConfig() Config {
	return Config{
		BufferMaxEntries: 1000,
		Depth:            5,
		Fanout:           10,
		ThreadCount:      4,
		BFBitsPerEntry:   0.5,
	}
}

// Option mutates a Config being built by New.
type Option func(*Config)

// WithBufferMaxEntries overrides the write buffer's capacity.
func WithBufferMaxEntries(n int) Option {
	return func(c *Config) { c.BufferMaxEntries = n }
}

// WithDepth overrides the number of levels in the tree.
func WithDepth(n int) Option {
	return func(c *Config) { c.Depth = n }
}

// WithFanout overrides the per-level run-count and size fanout.
func WithFanout(n int) Option {
	return func(c *Config) { c.Fanout = n }
}

// WithThreadCount overrides the worker pool size.
func WithThreadCount(n int) Option {
	return func(c *Config) { c.ThreadCount = n }
}

// WithBFBitsPerEntry overrides the Bloom filter's bits-per-entry budget.
func WithBFBitsPerEntry(bits float64) Option {
	return func(c *Config) { c.BFBitsPerEntry = bits }
}

// New builds a Config starting from DefaultConfig and applying opts in
// order.
func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate rejects a Config with any non-positive tunable.
func (c Config) Validate() error {
	if c.BufferMaxEntries <= 0 {
		return fmt.Errorf("config: buffer_max_entries must be positive, got %d", c.BufferMaxEntries)
	}
	if c.Depth <= 0 {
		return fmt.Errorf("config: depth must be positive, got %d", c.Depth)
	}
	if c.Fanout <= 0 {
		return fmt.Errorf("config: fanout must be positive, got %d", c.Fanout)
	}
	if c.ThreadCount <= 0 {
		return fmt.Errorf("config: thread_count must be positive, got %d", c.ThreadCount)
	}
	if c.BFBitsPerEntry <= 0 {
		return fmt.Errorf("config: bf_bits_per_entry must be positive, got %f", c.BFBitsPerEntry)
	}
	return nil
}
