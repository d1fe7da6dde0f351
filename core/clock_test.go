package core

import (
	"context"
	"testing"
	"time"
)

func TestSlotClockSlotIndexAndTimestamp(t *testing.T) {
	c := NewSlotClock(10*time.Second, time.Millisecond)
	t0 := time.UnixMilli(0)
	t25 := time.UnixMilli(25_000)

	if got := c.SlotIndex(t0); got != 0 {
		t.Fatalf("SlotIndex(t0) = %d, want 0", got)
	}
	if got := c.SlotIndex(t25); got != 2 {
		t.Fatalf("SlotIndex(t25) = %d, want 2", got)
	}
	if got := c.SlotTimestamp(2); got != 20_000 {
		t.Fatalf("SlotTimestamp(2) = %d, want 20000", got)
	}
}

func TestSlotClockCurrentSlotUsesInjectedNow(t *testing.T) {
	c := NewSlotClock(time.Second, time.Millisecond)
	c.now = func() time.Time { return time.UnixMilli(3_500) }
	if got := c.CurrentSlot(); got != 3 {
		t.Fatalf("CurrentSlot() = %d, want 3", got)
	}
}

func TestForgerForSlotRotatesByModulo(t *testing.T) {
	delegates := []Address{"ldposA", "ldposB", "ldposC"}

	forger, ok := ForgerForSlot(4, delegates)
	if !ok || forger != "ldposB" {
		t.Fatalf("slot 4: got (%s, %v), want (ldposB, true)", forger, ok)
	}

	if _, ok := ForgerForSlot(0, nil); ok {
		t.Fatal("expected ok=false for empty delegate set")
	}
}

func TestWaitUntilNextBlockTimeSlotAdvances(t *testing.T) {
	c := NewSlotClock(50*time.Millisecond, time.Millisecond)
	start := time.Now()
	c.now = func() time.Time { return start }

	done := make(chan struct{})
	var gotSlot int64
	var gotErr error
	go func() {
		gotSlot, gotErr = c.WaitUntilNextBlockTimeSlot(context.Background(), c.SlotIndex(start))
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	c.now = func() time.Time { return start.Add(50 * time.Millisecond) }

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntilNextBlockTimeSlot did not return after slot advanced")
	}
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotSlot != c.SlotIndex(start)+1 {
		t.Fatalf("got slot %d, want %d", gotSlot, c.SlotIndex(start)+1)
	}
}

func TestWaitUntilNextBlockTimeSlotRespectsCancellation(t *testing.T) {
	c := NewSlotClock(time.Hour, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.WaitUntilNextBlockTimeSlot(ctx, c.CurrentSlot()); err == nil {
		t.Fatal("expected context.Canceled error")
	}
}
