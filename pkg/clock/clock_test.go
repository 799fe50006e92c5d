package clock

import (
	"testing"
	"time"
)

func TestNowMonotonic(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	if !b.After(a) {
		t.Fatalf("Now went backwards: %d then %d", a, b)
	}
	if b.Sub(a) < time.Millisecond {
		t.Fatalf("expected at least 1ms elapsed, got %v", b.Sub(a))
	}
}

func TestCoarseNow(t *testing.T) {
	// coarse readings still have to move forward eventually
	a := CoarseNow()
	time.Sleep(20 * time.Millisecond)
	b := CoarseNow()
	if b.Before(a) {
		t.Fatalf("CoarseNow went backwards: %d then %d", a, b)
	}
}

func TestArithmetic(t *testing.T) {
	a := Instant(time.Second)
	b := a.Add(500 * time.Millisecond)

	if got := b.Sub(a); got != 500*time.Millisecond {
		t.Fatalf("Sub = %v, want 500ms", got)
	}
	// durations never go negative; an earlier minus a later clamps to zero
	if got := a.Sub(b); got != 0 {
		t.Fatalf("Sub of an earlier instant = %v, want 0", got)
	}
	if !a.Before(b) || !b.After(a) {
		t.Fatal("ordering predicates disagree with Add")
	}
	if a.Before(a) || a.After(a) {
		t.Fatal("an instant is neither before nor after itself")
	}
}

func TestAddUnderflow(t *testing.T) {
	a := Instant(time.Millisecond)
	if got := a.Add(-time.Hour); got != 0 {
		t.Fatalf("Add past the epoch should clamp to zero, got %d", got)
	}
	if got := a.Add(-500 * time.Microsecond); got != Instant(500*time.Microsecond) {
		t.Fatalf("in-range negative Add = %d, want 500µs", got)
	}
}

func TestAtomicInstant(t *testing.T) {
	var at AtomicInstant
	at.Store(Instant(42))
	if got := at.Load(); got != Instant(42) {
		t.Fatalf("Load = %d, want 42", got)
	}
	if !at.CompareAndSwap(Instant(42), Instant(43)) {
		t.Fatal("CAS with the current value should succeed")
	}
	if at.CompareAndSwap(Instant(42), Instant(44)) {
		t.Fatal("CAS with a stale value should fail")
	}
	if got := at.Load(); got != Instant(43) {
		t.Fatalf("Load = %d, want 43", got)
	}
}
