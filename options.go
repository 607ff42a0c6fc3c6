// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package dwheel

import (
	"time"
)

// Runner defaults.
const (
	// DefaultTickInterval is ~4.2ms (2^22 ns; the wheel resolution must
	// be a power-of-two number of nanoseconds).
	DefaultTickInterval = time.Duration(1 << 22)

	DefaultTicksPerWheel = 1024

	// DefaultExpiryLimit bounds how many timers a single wheel poll may
	// fire. A runner tick drains the wheel in polls of this size and
	// keeps the runner lock held across all of them.
	DefaultExpiryLimit = 256
)

// Options configure a Runner.
type Options struct {
	// TickInterval is the wall-clock ticker period. It is rounded up to
	// the next power-of-two number of nanoseconds and doubles as the
	// wheel tick resolution.
	TickInterval time.Duration
	// TicksPerWheel is the number of spokes (power of 2).
	TicksPerWheel int
	// InitialAllocation is the initial slots per spoke (power of 2).
	InitialAllocation int
	// ExpiryLimit caps the timers fired by one wheel poll.
	ExpiryLimit int
}

// Option is a function used to set runner options.
type Option func(*Options)

// NewOptions applies opts on top of the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		TickInterval:      DefaultTickInterval,
		TicksPerWheel:     DefaultTicksPerWheel,
		InitialAllocation: DefaultAllocation,
		ExpiryLimit:       DefaultExpiryLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTickInterval sets the ticker period (and wheel resolution).
// Note that intervals that are too low cause high idle cpu usage from the
// wakeups alone.
func WithTickInterval(d time.Duration) Option {
	return func(o *Options) {
		o.TickInterval = d
	}
}

// WithTicksPerWheel sets the number of spokes.
func WithTicksPerWheel(n int) Option {
	return func(o *Options) {
		o.TicksPerWheel = n
	}
}

// WithInitialAllocation sets the initial slots per spoke.
func WithInitialAllocation(n int) Option {
	return func(o *Options) {
		o.InitialAllocation = n
	}
}

// WithExpiryLimit sets the per-poll expiry cap.
func WithExpiryLimit(n int) Option {
	return func(o *Options) {
		o.ExpiryLimit = n
	}
}
