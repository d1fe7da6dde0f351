package core

import (
	"context"
	"time"
)

// SlotClock computes the slot-aligned forging schedule of spec.md §4.1.
// Modeled after the teacher's ticker-driven consensus loops in
// consensus.go, but polling rather than ticking: the distilled behavior
// (`waitUntilNextBlockTimeSlot`) is explicitly poll-based.
type SlotClock struct {
	forgingInterval  time.Duration
	timePollInterval time.Duration
	now              func() time.Time
}

// NewSlotClock builds a SlotClock from the configured forging interval
// and time-poll interval.
func NewSlotClock(forgingInterval, timePollInterval time.Duration) *SlotClock {
	return &SlotClock{
		forgingInterval:  forgingInterval,
		timePollInterval: timePollInterval,
		now:              time.Now,
	}
}

// SlotIndex returns ⌊now / forgingInterval⌋ (spec.md §4.1).
func (c *SlotClock) SlotIndex(t time.Time) int64 {
	return t.UnixMilli() / c.forgingInterval.Milliseconds()
}

// SlotTimestamp returns the aligned timestamp (in ms) for a slot index.
func (c *SlotClock) SlotTimestamp(slot int64) int64 {
	return slot * c.forgingInterval.Milliseconds()
}

// CurrentSlot returns SlotIndex(now).
func (c *SlotClock) CurrentSlot() int64 {
	return c.SlotIndex(c.now())
}

// ForgerForSlot picks activeDelegates[slot mod len(activeDelegates)]; the
// caller is responsible for supplying activeDelegates already ordered by
// descending voteWeight with ascending-address tie-break (DelegateCache).
func ForgerForSlot(slot int64, activeDelegates []Address) (Address, bool) {
	n := len(activeDelegates)
	if n == 0 {
		return "", false
	}
	idx := slot % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return activeDelegates[idx], true
}

// WaitUntilNextBlockTimeSlot polls every timePollInterval until the slot
// index advances past fromSlot, yielding cooperatively via ctx (spec.md
// §4.1). It returns the new slot index, or ctx.Err() if cancelled first.
func (c *SlotClock) WaitUntilNextBlockTimeSlot(ctx context.Context, fromSlot int64) (int64, error) {
	ticker := time.NewTicker(c.timePollInterval)
	defer ticker.Stop()

	for {
		if cur := c.CurrentSlot(); cur > fromSlot {
			return cur, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
