// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package dwheel

// Poll expires due timers incrementally and returns how many were
// consumed by the handler in this call.
//
// Each call scans at most one spoke: the one belonging to currentTick.
// The scan starts at the saved resume position and walks all slots of the
// spoke circularly, firing every slot whose deadline is <= now, at most
// expiryLimit of them. The cursor moves to the next tick only once the
// spoke has been fully scanned, fewer than expiryLimit timers expired and
// now has passed the end of the current tick. A subsequent call therefore
// resumes exactly where this one stopped; callers are expected to poll at
// least once per tick resolution.
//
// A timer whose deadline D lies inside tick T is observed by the first
// poll that runs with the cursor on T and now >= D; with tick-cadence
// polling that is the poll right after the end of T, never a poll inside
// T itself.
//
// If the handler returns false the expiry is rejected: the slot is
// restored with its original deadline, the resume position is advanced
// past it and Poll returns at once with the rejected timer not counted.
// Since the spoke scan is circular, the rejected slot is visited again on
// the next call while the cursor is still on the same tick, so a
// rejecting handler delays a timer by one poll call, not by a wheel
// rotation.
//
// A caller that stops polling for more than a full rotation would make
// the wheel lap itself and alias spokes; that is detected here, logged as
// a warning and recovered from by resyncing the cursor to now (the
// skipped timers stay scheduled and fire when their spoke is reached
// again). The recovery is deliberately not an error: the polling contract
// was already broken at the caller and the wheel has no way to report
// which timers were late.
//
// The client value is forwarded to the handler untouched. A handler panic
// propagates unchanged; the slot of the timer being fired has already
// been cleared at that point and stays cleared.
func (w *Wheel[C]) Poll(now int64, client C, f TimerHandlerF[C],
	expiryLimit int) int {

	targetTick := (now - w.startTime) >> w.resolutionBits
	if targetTick < w.currentTick {
		targetTick = w.currentTick
	}
	if targetTick-w.currentTick > int64(w.ticksPerWheel) {
		if WARNon() {
			WARN("slow poller: %d ticks behind on a %d spoke wheel,"+
				" resyncing\n",
				targetTick-w.currentTick, w.ticksPerWheel)
		}
		w.currentTick = targetTick
		w.pollIndex = 0
		return 0
	}
	if w.timerCount == 0 {
		w.currentTick = targetTick
		w.pollIndex = 0
		return 0
	}

	expired := 0
	spoke := int(w.currentTick & w.tickMask)
	// w.slots, w.tickAllocation and w.allocationBits are re-read on every
	// iteration: a handler may Schedule and grow the wheel mid-scan
	// (growth keeps slot offsets, so spoke<<allocationBits+slot stays the
	// same cell) and may Cancel slots the scan has not reached yet.
	for i := 0; i < w.tickAllocation && expired < expiryLimit; i++ {
		slot := w.pollIndex
		addr := spoke<<w.allocationBits + slot
		d := w.slots[addr]
		if d != NullDeadline && now >= d {
			w.slots[addr] = NullDeadline
			w.timerCount--
			expired++
			if !f(client, now, timerIdForSlot(spoke, slot)) {
				w.slots[addr] = d
				w.timerCount++
				w.pollIndex = nextSlot(slot, w.tickAllocation)
				return expired - 1
			}
		}
		w.pollIndex = nextSlot(slot, w.tickAllocation)
	}

	if expired < expiryLimit && now >= w.CurrentTickTime() {
		w.currentTick++
		w.pollIndex = 0
	}
	return expired
}

func nextSlot(slot, allocation int) int {
	if slot+1 >= allocation {
		return 0
	}
	return slot + 1
}
