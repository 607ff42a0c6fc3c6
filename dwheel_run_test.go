package dwheel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingcap/errors"
)

func countingHandler(c *uint64, now int64, id TimerId) bool {
	atomic.AddUint64(c, 1)
	return true
}

func TestRunnerInitInvalid(t *testing.T) {
	var fired uint64

	var r Runner[*uint64]
	err := r.Init(&fired, nil)
	if err == nil || errors.Cause(err) != ErrInvalidParameters {
		t.Errorf("nil handler accepted: %v\n", err)
	}
	if err = r.Init(&fired, countingHandler,
		WithTickInterval(time.Nanosecond)); err == nil {
		t.Errorf("too small tick interval accepted\n")
	}
	if err = r.Init(&fired, countingHandler,
		WithTickInterval(48*time.Hour)); err == nil {
		t.Errorf("too high tick interval accepted\n")
	}
	if err = r.Init(&fired, countingHandler,
		WithTicksPerWheel(100)); err == nil {
		t.Errorf("non power of 2 spokes accepted\n")
	}
	if err = r.Init(&fired, countingHandler,
		WithInitialAllocation(5)); err == nil {
		t.Errorf("non power of 2 allocation accepted\n")
	}
	if err = r.Init(&fired, countingHandler,
		WithExpiryLimit(0)); err == nil {
		t.Errorf("zero expiry limit accepted\n")
	}
}

func TestRunnerFire(t *testing.T) {
	var fired uint64

	var r Runner[*uint64]
	err := r.Init(&fired, countingHandler,
		WithTickInterval(2*time.Millisecond),
		WithTicksPerWheel(256))
	if err != nil {
		t.Fatalf("runner init failure: %s\n", err)
	}
	r.Start()
	start := time.Now()
	if _, err = r.Schedule(20 * time.Millisecond); err != nil {
		t.Fatalf("schedule failed: %s\n", err)
	}
	giveUp := time.Now().Add(2 * time.Second)
	for atomic.LoadUint64(&fired) == 0 && time.Now().Before(giveUp) {
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(start)
	if n := atomic.LoadUint64(&fired); n != 1 {
		t.Fatalf("timer fired %d times (after %s)\n", n, elapsed)
	}
	if elapsed < 15*time.Millisecond {
		t.Errorf("timer fired too early: %s\n", elapsed)
	}
	t.Logf("timer fired after %s\n", elapsed)
	if n := r.Count(); n != 0 {
		t.Errorf("%d timers left scheduled\n", n)
	}
	r.Shutdown()
}

func TestRunnerCancel(t *testing.T) {
	var fired uint64

	var r Runner[*uint64]
	err := r.Init(&fired, countingHandler,
		WithTickInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("runner init failure: %s\n", err)
	}
	r.Start()
	id, err := r.Schedule(80 * time.Millisecond)
	if err != nil {
		t.Fatalf("schedule failed: %s\n", err)
	}
	if n := r.Count(); n != 1 {
		t.Errorf("wrong timer count: %d\n", n)
	}
	if !r.Cancel(id) {
		t.Errorf("cancel failed\n")
	}
	if r.Cancel(id) {
		t.Errorf("double cancel succeeded\n")
	}
	time.Sleep(150 * time.Millisecond)
	if n := atomic.LoadUint64(&fired); n != 0 {
		t.Errorf("cancelled timer fired %d times\n", n)
	}
	if n := r.Count(); n != 0 {
		t.Errorf("wrong timer count: %d\n", n)
	}
	r.Shutdown()
}

// a rejecting handler gets the same timer again on the next tick
func TestRunnerRetryOnReject(t *testing.T) {
	var calls uint64

	h := func(c *uint64, now int64, id TimerId) bool {
		return atomic.AddUint64(c, 1) >= 3
	}
	var r Runner[*uint64]
	err := r.Init(&calls, h, WithTickInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("runner init failure: %s\n", err)
	}
	r.Start()
	if _, err = r.Schedule(10 * time.Millisecond); err != nil {
		t.Fatalf("schedule failed: %s\n", err)
	}
	giveUp := time.Now().Add(2 * time.Second)
	for atomic.LoadUint64(&calls) < 3 && time.Now().Before(giveUp) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadUint64(&calls); n != 3 {
		t.Errorf("handler called %d times, expected 3\n", n)
	}
	if n := r.Count(); n != 0 {
		t.Errorf("wrong timer count: %d\n", n)
	}
	r.Shutdown()
}

func TestRunnerScheduleAt(t *testing.T) {
	var fired uint64

	var r Runner[*uint64]
	err := r.Init(&fired, countingHandler,
		WithTickInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("runner init failure: %s\n", err)
	}
	r.Start()
	// absolute position on the wheel axis: ~15ms after Init
	if _, err = r.ScheduleAt(15 * int64(time.Millisecond)); err != nil {
		t.Fatalf("schedule failed: %s\n", err)
	}
	giveUp := time.Now().Add(2 * time.Second)
	for atomic.LoadUint64(&fired) == 0 && time.Now().Before(giveUp) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadUint64(&fired); n != 1 {
		t.Fatalf("timer fired %d times\n", n)
	}
	r.Shutdown()
}
