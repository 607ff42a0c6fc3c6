package dwheel

import (
	"math/rand"
	"testing"
)

func TestTimerIdRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10000; i++ {
		spoke := int(rng.Int31())
		slot := int(rng.Int31())
		id := timerIdForSlot(spoke, slot)
		if id.spoke() != int64(spoke) || id.slot() != int64(slot) {
			t.Fatalf("round trip failed for %d/%d: got %d/%d\n",
				spoke, slot, id.spoke(), id.slot())
		}
	}
	boundaries := [][2]int{
		{0, 0},
		{0, 1<<31 - 1},
		{1<<31 - 1, 0},
		{1<<31 - 1, 1<<31 - 1},
	}
	for _, c := range boundaries {
		id := timerIdForSlot(c[0], c[1])
		if id.spoke() != int64(c[0]) || id.slot() != int64(c[1]) {
			t.Errorf("round trip failed for %d/%d: got %d/%d\n",
				c[0], c[1], id.spoke(), id.slot())
		}
	}
}

func TestTimerIdAddressesItsSlot(t *testing.T) {
	var w Wheel[int]

	if err := w.InitAlloc(0, 8, 16, 4); err != nil {
		t.Fatalf("wheel init failure: %s\n", err)
	}
	// deadline 100 -> tick 12, spoke 12, first free slot 0
	id, err := w.Schedule(100)
	if err != nil {
		t.Fatalf("schedule failed: %s\n", err)
	}
	if id.spoke() != 12 || id.slot() != 0 {
		t.Errorf("unexpected placement: %s\n", id)
	}
	addr := int(id.spoke())<<w.allocationBits + int(id.slot())
	if w.slots[addr] != 100 {
		t.Errorf("id does not address its slot: slots[%d] = %d\n",
			addr, w.slots[addr])
	}
}

func TestTimerIdString(t *testing.T) {
	if s := timerIdForSlot(5, 7).String(); s != "5:7" {
		t.Errorf("wrong string form: %q\n", s)
	}
}
