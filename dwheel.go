// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package dwheel provides a flat hashed timer wheel indexed by absolute
// deadlines, optimised for very high numbers of timers (100k+) with
// O(1) cancel and bounded work per poll.
//
// The wheel stores one int64 deadline per slot in a single contiguous
// array of ticksPerWheel x tickAllocation cells; a timer is nothing but an
// occupied slot and its identity is its position (see TimerId). There is
// no per-timer allocation, no internal locking and no internal clock: the
// caller supplies the current time on each Poll (or uses Runner, which
// drives a wheel from a time.Ticker).
package dwheel

import (
	"math"
	"math/bits"

	"github.com/pingcap/errors"
)

const NAME = "dwheel"

const (
	// NullDeadline is the sentinel stored in empty slots. It is also what
	// Deadline returns for unknown or already cleared timer ids.
	NullDeadline int64 = math.MaxInt64

	// DefaultAllocation is the per-spoke slot count used by Init.
	DefaultAllocation = 16

	// maxSlots caps the total slot-address space: growing a wheel past
	// ticksPerWheel * tickAllocation == 2^31 slots fails with
	// ErrCapacityExceeded (slot offsets must fit the id encoding).
	maxSlots = int64(math.MaxInt32) + 1
)

// A TimerHandlerF is the callback invoked by Poll for each expired timer.
// It receives the caller supplied client value (forwarded, never
// inspected), the "now" that was passed to Poll and the id of the expired
// timer. Returning true consumes the timer. Returning false rejects the
// expiry: the slot is restored with its original deadline, the timer keeps
// its id and Poll returns immediately (see Poll for the retry semantics).
//
// The handler may call Schedule and Cancel on the wheel it was invoked
// from (including cancelling slots not yet visited by the running poll).
// Calling Clear, ResetStartTime, Advance or another Poll from inside a
// handler is undefined behaviour.
type TimerHandlerF[C any] func(client C, now int64, id TimerId) bool

// Wheel is a single-threaded deadline timer wheel.
//
// A spoke is the column of tickAllocation slots for tick % ticksPerWheel;
// scheduling writes the deadline into the first free slot of the target
// spoke and polling scans the spoke of the current tick. All three wheel
// dimensions are powers of two so that tick, spoke and address arithmetic
// reduce to masks and shifts.
//
// The zero value is not usable; call Init or InitAlloc first.
// A Wheel must not be mutated concurrently (use Runner for that).
type Wheel[C any] struct {
	startTime      int64 // origin of the time axis
	tickResolution int64 // time units per tick, power of 2
	resolutionBits uint8 // trailing zeros of tickResolution

	ticksPerWheel int   // number of spokes, power of 2
	tickMask      int64 // ticksPerWheel - 1

	tickAllocation int   // slots per spoke, power of 2, grows on demand
	allocationBits uint8 // trailing zeros of tickAllocation

	currentTick int64 // tick cursor, never decreased (except ResetStartTime)
	pollIndex   int   // resume slot within the spoke at currentTick
	timerCount  int64 // occupied slots

	slots []int64 // ticksPerWheel * tickAllocation deadlines
}

// Init initialises the wheel with DefaultAllocation slots per spoke.
// startTime is the origin of the time axis; deadlines passed to Schedule
// and the "now" passed to Poll are absolute values on the same axis.
// tickResolution (time units per tick) and ticksPerWheel must both be
// powers of two.
func (w *Wheel[C]) Init(startTime, tickResolution int64, ticksPerWheel int) error {
	return w.InitAlloc(startTime, tickResolution, ticksPerWheel,
		DefaultAllocation)
}

// InitAlloc is Init with an explicit initial per-spoke allocation
// (a power of two >= 1). Sizing the allocation to the expected number of
// timers per tick avoids growth re-allocations later.
func (w *Wheel[C]) InitAlloc(startTime, tickResolution int64,
	ticksPerWheel, initialAllocation int) error {

	if !powerOfTwo(tickResolution) {
		return errors.Annotatef(ErrInvalidParameters,
			"tick resolution %d is not a power of 2", tickResolution)
	}
	if !powerOfTwo(int64(ticksPerWheel)) {
		return errors.Annotatef(ErrInvalidParameters,
			"ticks per wheel %d is not a power of 2", ticksPerWheel)
	}
	if !powerOfTwo(int64(initialAllocation)) {
		return errors.Annotatef(ErrInvalidParameters,
			"tick allocation %d is not a power of 2", initialAllocation)
	}
	if int64(ticksPerWheel)*int64(initialAllocation) > maxSlots {
		return errors.Annotatef(ErrCapacityExceeded,
			"%d spokes x %d slots", ticksPerWheel, initialAllocation)
	}

	w.startTime = startTime
	w.tickResolution = tickResolution
	w.resolutionBits = uint8(bits.TrailingZeros64(uint64(tickResolution)))
	w.ticksPerWheel = ticksPerWheel
	w.tickMask = int64(ticksPerWheel) - 1
	w.tickAllocation = initialAllocation
	w.allocationBits = uint8(bits.TrailingZeros64(uint64(initialAllocation)))
	w.currentTick = 0
	w.pollIndex = 0
	w.timerCount = 0
	w.slots = newSlots(ticksPerWheel * initialAllocation)
	return nil
}

// Schedule adds a timer expiring at the absolute deadline and returns its
// id. A deadline already in the past is snapped up to the current tick, so
// the timer is guaranteed to be visible to the next poll.
// It fails with ErrCapacityExceeded if the target spoke is full and
// doubling the allocation would overflow the slot-address space.
func (w *Wheel[C]) Schedule(deadline int64) (TimerId, error) {
	deadlineTick := (deadline - w.startTime) >> w.resolutionBits
	if deadlineTick < w.currentTick {
		deadlineTick = w.currentTick
	}
	spoke := int(deadlineTick & w.tickMask)
	base := spoke << w.allocationBits
	for slot := 0; slot < w.tickAllocation; slot++ {
		if w.slots[base+slot] == NullDeadline {
			w.slots[base+slot] = deadline
			w.timerCount++
			return timerIdForSlot(spoke, slot), nil
		}
	}
	return w.increaseCapacity(spoke, deadline)
}

// increaseCapacity doubles the per-spoke allocation and re-installs every
// spoke at its old relative offsets, so slot indices (and with them every
// previously returned id) stay valid. The deadline that did not fit is
// placed in the first slot opened up by the growth. currentTick and
// pollIndex are untouched: pollIndex <= old allocation <= new allocation,
// so a poll in progress resumes correctly.
func (w *Wheel[C]) increaseCapacity(spoke int, deadline int64) (TimerId, error) {
	newAllocation := w.tickAllocation * 2
	if int64(w.ticksPerWheel)*int64(newAllocation) > maxSlots {
		return 0, errors.Annotatef(ErrCapacityExceeded,
			"%d spokes x %d slots", w.ticksPerWheel, newAllocation)
	}
	if w.pollIndex > w.tickAllocation {
		BUG("poll index %d past the allocation %d\n",
			w.pollIndex, w.tickAllocation)
		w.pollIndex = 0
	}
	newBits := w.allocationBits + 1
	slots := newSlots(w.ticksPerWheel * newAllocation)
	for i := 0; i < w.ticksPerWheel; i++ {
		copy(slots[i<<newBits:i<<newBits+w.tickAllocation],
			w.slots[i<<w.allocationBits:(i+1)<<w.allocationBits])
	}
	slots[spoke<<newBits+w.tickAllocation] = deadline
	id := timerIdForSlot(spoke, w.tickAllocation)
	w.timerCount++

	w.slots = slots
	w.tickAllocation = newAllocation
	w.allocationBits = newBits
	return id, nil
}

// Cancel removes the timer with the given id and returns whether it was
// still active. Unknown ids, already expired timers and repeated cancels
// return false; Cancel never fails.
func (w *Wheel[C]) Cancel(id TimerId) bool {
	spoke, slot := id.spoke(), id.slot()
	if uint64(spoke) >= uint64(w.ticksPerWheel) ||
		uint64(slot) >= uint64(w.tickAllocation) {
		return false
	}
	addr := int(spoke)<<w.allocationBits + int(slot)
	if w.slots[addr] == NullDeadline {
		return false
	}
	w.slots[addr] = NullDeadline
	w.timerCount--
	if w.timerCount < 0 {
		BUG("timer count went negative cancelling %s\n", id)
	}
	return true
}

// Deadline returns the deadline scheduled for id, or NullDeadline if the
// id is out of range or its slot is empty.
func (w *Wheel[C]) Deadline(id TimerId) int64 {
	spoke, slot := id.spoke(), id.slot()
	if uint64(spoke) >= uint64(w.ticksPerWheel) ||
		uint64(slot) >= uint64(w.tickAllocation) {
		return NullDeadline
	}
	return w.slots[int(spoke)<<w.allocationBits+int(slot)]
}

// Clear empties every slot without running any handler. The tick cursor
// and the start time are kept.
func (w *Wheel[C]) Clear() {
	for i := range w.slots {
		w.slots[i] = NullDeadline
	}
	w.timerCount = 0
}

// ResetStartTime re-bases the time axis and rewinds the tick cursor to 0.
// Only an empty wheel can be re-based; it fails with ErrNotEmpty
// otherwise.
func (w *Wheel[C]) ResetStartTime(startTime int64) error {
	if w.timerCount > 0 {
		return errors.Annotatef(ErrNotEmpty, "%d active timers", w.timerCount)
	}
	w.startTime = startTime
	w.currentTick = 0
	w.pollIndex = 0
	return nil
}

// Advance moves the tick cursor forward to cover now without expiring
// anything. Timers in the spokes that were skipped over stay scheduled and
// fire once the cursor comes around to their spoke again. The cursor never
// moves backwards.
func (w *Wheel[C]) Advance(now int64) {
	t := (now - w.startTime) >> w.resolutionBits
	if t > w.currentTick {
		w.currentTick = t
	}
	w.pollIndex = 0
}

// CurrentTickTime returns the exclusive upper bound of the current tick on
// the wheel time axis.
func (w *Wheel[C]) CurrentTickTime() int64 {
	return ((w.currentTick + 1) << w.resolutionBits) + w.startTime
}

// Count returns the number of scheduled timers.
func (w *Wheel[C]) Count() int64 {
	return w.timerCount
}

// TickResolution returns the configured time units per tick.
func (w *Wheel[C]) TickResolution() int64 {
	return w.tickResolution
}

// TicksPerWheel returns the number of spokes.
func (w *Wheel[C]) TicksPerWheel() int {
	return w.ticksPerWheel
}

// StartTime returns the origin of the wheel time axis.
func (w *Wheel[C]) StartTime() int64 {
	return w.startTime
}

func newSlots(n int) []int64 {
	s := make([]int64, n)
	for i := range s {
		s[i] = NullDeadline
	}
	return s
}

func powerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}
