// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package dwheel

// Iterator walks the active timers of a wheel in storage-address order
// without expiring them. It is finite and cheap (no allocation).
// Mutating the wheel invalidates the iterator: continuing afterwards is
// memory safe but the remaining yielded set is unspecified.
type Iterator[C any] struct {
	w   *Wheel[C]
	pos int
}

// Iter returns an iterator positioned before the first active timer.
func (w *Wheel[C]) Iter() Iterator[C] {
	return Iterator[C]{w: w}
}

// Len returns how many timers a freshly created iterator yields.
func (it *Iterator[C]) Len() int64 {
	return it.w.timerCount
}

// Next returns the next (deadline, id) pair. ok is false once the
// iterator is exhausted (deadline is NullDeadline then).
func (it *Iterator[C]) Next() (deadline int64, id TimerId, ok bool) {
	for it.pos < len(it.w.slots) {
		addr := it.pos
		it.pos++
		if d := it.w.slots[addr]; d != NullDeadline {
			return d, timerIdForSlot(addr>>it.w.allocationBits,
				addr&(it.w.tickAllocation-1)), true
		}
	}
	return NullDeadline, 0, false
}

// ForEach calls f for every active (deadline, id) pair in storage-address
// order. It stops immediately if f returns false.
// The wheel must not be mutated from f.
func (w *Wheel[C]) ForEach(f func(deadline int64, id TimerId) bool) {
	cont := true
	for addr := 0; addr < len(w.slots) && cont; addr++ {
		if d := w.slots[addr]; d != NullDeadline {
			cont = f(d, timerIdForSlot(addr>>w.allocationBits,
				addr&(w.tickAllocation-1)))
		}
	}
}
