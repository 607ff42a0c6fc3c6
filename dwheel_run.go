// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package dwheel

import (
	"math/bits"
	"sync"
	"time"

	"github.com/intuitivelabs/timestamp"
	"github.com/pingcap/errors"
)

// Runner drives a Wheel from the wall clock. The wheel itself has no
// internal synchronisation, so the Runner serialises every operation
// behind a mutex and owns the single ticker goroutine that polls due
// timers.
//
// The wheel time axis starts at 0 when Init is called; wall time is
// mapped onto it as nanoseconds elapsed since then. Use Start right after
// Init, otherwise the first tick has to catch up with the gap.
type Runner[C any] struct {
	mu    sync.Mutex
	wheel Wheel[C]

	client  C
	handler TimerHandlerF[C]
	opts    Options

	refTS   timestamp.TS // wall-clock origin of the wheel time axis
	lastT   timestamp.TS // last ticker wake-up
	badTime uint32       // consecutive time-going-backwards events

	wg     sync.WaitGroup
	cancel chan struct{}
}

// Init prepares the runner. handler is invoked for every expired timer
// with the given client value; it runs on the ticker goroutine with the
// runner lock held, so it must be fast, must not block and must not call
// back into the Runner (returning false to retry the timer on the next
// tick is fine). For re-entrant scheduling from handlers use a bare Wheel
// instead.
func (r *Runner[C]) Init(client C, handler TimerHandlerF[C],
	opts ...Option) error {

	if handler == nil {
		return errors.Annotate(ErrInvalidParameters, "nil handler")
	}
	o := NewOptions(opts...)
	if o.TickInterval < time.Microsecond {
		return errors.Annotatef(ErrInvalidParameters,
			"tick interval %s too small", o.TickInterval)
	}
	if o.TickInterval > time.Hour*24 {
		// probably an error
		return errors.Annotatef(ErrInvalidParameters,
			"tick interval %s too high", o.TickInterval)
	}
	if o.ExpiryLimit < 1 {
		return errors.Annotatef(ErrInvalidParameters,
			"expiry limit %d", o.ExpiryLimit)
	}
	res := ceilPow2(int64(o.TickInterval))
	if err := r.wheel.InitAlloc(0, res, o.TicksPerWheel,
		o.InitialAllocation); err != nil {
		return err
	}
	o.TickInterval = time.Duration(res)
	r.client = client
	r.handler = handler
	r.opts = o
	r.refTS = timestamp.Now()
	r.lastT = r.refTS
	return nil
}

// Start starts the ticker goroutine. No timers fire before Start is
// called. In most cases it should be used right after Init.
func (r *Runner[C]) Start() {
	r.cancel = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if DBGon() {
			DBG("starting ticker with %s\n", r.opts.TickInterval)
		}
		ticker := time.NewTicker(r.opts.TickInterval)
	loop:
		for {
			select {
			case <-r.cancel:
				break loop
			case _, ok := <-ticker.C:
				if !ok {
					break loop
				}
				r.tick()
			}
		}
		ticker.Stop()
	}()
}

// Shutdown signals the ticker goroutine to stop and waits for it to
// finish. Scheduled timers that did not fire yet are kept but will not
// run (there is no Restart).
func (r *Runner[C]) Shutdown() {
	if r.cancel != nil {
		close(r.cancel)
	}
	r.wg.Wait()
}

// Schedule adds a one-shot timer firing after d and returns its id.
// Negative durations are treated as 0 (fire on the next tick).
func (r *Runner[C]) Schedule(d time.Duration) (TimerId, error) {
	if d < 0 {
		d = 0
	}
	deadline := timestamp.Now().Sub(r.refTS).Nanoseconds() + d.Nanoseconds()
	r.mu.Lock()
	id, err := r.wheel.Schedule(deadline)
	r.mu.Unlock()
	return id, err
}

// ScheduleAt adds a one-shot timer firing at an absolute position on the
// wheel time axis (nanoseconds since Init).
func (r *Runner[C]) ScheduleAt(deadline int64) (TimerId, error) {
	r.mu.Lock()
	id, err := r.wheel.Schedule(deadline)
	r.mu.Unlock()
	return id, err
}

// Cancel removes a scheduled timer. It returns false for timers that
// already fired or were cancelled before.
func (r *Runner[C]) Cancel(id TimerId) bool {
	r.mu.Lock()
	ok := r.wheel.Cancel(id)
	r.mu.Unlock()
	return ok
}

// Count returns the number of scheduled timers.
func (r *Runner[C]) Count() int64 {
	r.mu.Lock()
	n := r.wheel.Count()
	r.mu.Unlock()
	return n
}

// tick maps the wall clock onto the wheel time axis and polls everything
// due. It is only ever called from the ticker goroutine, never in
// parallel.
func (r *Runner[C]) tick() {
	now := timestamp.Now()
	if now.Before(r.lastT) {
		// time going backwards
		r.badTime++
		if r.badTime > 10 {
			if ERRon() {
				ERR("trying to recover after time going backward"+
					" %d times with %s\n",
					r.badTime, r.lastT.Sub(now))
			}
			r.lastT = now
		} else if DBGon() {
			DBG("tick: time going backward with %s (%d times)\n",
				r.lastT.Sub(now), r.badTime)
		}
		return
	}
	r.badTime = 0
	r.lastT = now
	wnow := now.Sub(r.refTS).Nanoseconds()

	r.mu.Lock()
	for {
		tick := r.wheel.currentTick
		n := r.wheel.Poll(wnow, r.client, r.handler, r.opts.ExpiryLimit)
		if n >= r.opts.ExpiryLimit {
			continue // spoke still draining
		}
		if r.wheel.currentTick == tick {
			// caught up with wnow, or a handler rejected its timer:
			// either way resume on the next wall tick
			break
		}
	}
	r.mu.Unlock()
}

// ceilPow2 rounds v up to the next power of two (v <= 1 yields 1).
func ceilPow2(v int64) int64 {
	if v <= 1 {
		return 1
	}
	return int64(1) << (64 - bits.LeadingZeros64(uint64(v-1)))
}
