package engine

import (
	"time"

	"github.com/efreitasn/seathold/internal/domain"
)

// Timer is a cancellable deferred action. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d has elapsed.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// realScheduler schedules on the runtime timer heap.
type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// scheduleExpiry arms the timer for one hold instance. The callback captures
// only the key and the hold ID, never the entry itself.
// Caller must hold t.mu.
func (t *HoldTable) scheduleExpiry(key domain.SeatKey, holdID string) Timer {
	return t.sched.AfterFunc(t.ttl, func() {
		t.expire(key, holdID)
	})
}

// expire removes the entry at key if it is still the hold instance the timer
// was scheduled for. A timer that lost a race with release, commit, renewal
// or a re-grant finds a different (or no) entry and does nothing.
func (t *HoldTable) expire(key domain.SeatKey, holdID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.hold.HoldID != holdID {
		return
	}

	t.removeLocked(key)
	t.notifier.HoldUnlocked(key, domain.ReleaseReasonExpired)
}

// Close stops every pending expiry timer and drops all holds without
// notifying anyone. Further hold requests are denied. It returns the number
// of holds dropped. Holds are advisory, so nothing is persisted.
func (t *HoldTable) Close() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}
	t.closed = true

	dropped := len(t.entries)
	for key, e := range t.entries {
		e.timer.Stop()
		t.removeLocked(key)
	}
	return dropped
}
