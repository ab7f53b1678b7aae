package engine

import (
	"sync"
	"time"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/google/btree"
	"github.com/google/uuid"
)

// Notifier receives hold state transitions. The table calls it while still
// holding its lock so that events for one key are enqueued in the order the
// mutations happened. Implementations must only enqueue and never block.
type Notifier interface {
	HoldLocked(hold domain.Hold)
	HoldUnlocked(key domain.SeatKey, reason domain.ReleaseReason)
}

// holdEntry is one row of the table: the hold and the timer that will
// expire it. The timer lives exactly as long as the entry.
type holdEntry struct {
	hold  domain.Hold
	timer Timer
}

// HoldTable is the authoritative in-memory map of held seats and the only
// place hold state is mutated. A single mutex covers lookup, mutation and
// timer schedule/cancel, so operations on one key are totally ordered.
type HoldTable struct {
	ttl      time.Duration
	now      func() time.Time
	sched    Scheduler
	notifier Notifier

	mu         sync.Mutex
	entries    map[domain.SeatKey]*holdEntry
	byShowtime map[string]*btree.BTreeG[string] // showtime_id → held seat codes
	closed     bool
}

// Option configures a HoldTable.
type Option func(*HoldTable)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *HoldTable) { t.now = now }
}

// WithScheduler overrides how expiry timers are scheduled. Used by tests.
func WithScheduler(s Scheduler) Option {
	return func(t *HoldTable) { t.sched = s }
}

// NewHoldTable creates an empty table whose holds live for ttl.
func NewHoldTable(ttl time.Duration, notifier Notifier, opts ...Option) *HoldTable {
	t := &HoldTable{
		ttl:        ttl,
		now:        time.Now,
		sched:      realScheduler{},
		notifier:   notifier,
		entries:    make(map[domain.SeatKey]*holdEntry),
		byShowtime: make(map[string]*btree.BTreeG[string]),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the hold time-to-live.
func (t *HoldTable) TTL() time.Duration {
	return t.ttl
}

// RequestHold grants a hold on a free or stale seat and denies it on a live
// one, including when the requester already holds it. Renewal goes through
// Renew. Empty arguments are denied.
func (t *HoldTable) RequestHold(showtimeID, seatCode, holderID string) (domain.Hold, domain.HoldOutcome) {
	if showtimeID == "" || seatCode == "" || holderID == "" {
		return domain.Hold{}, domain.HoldDenied
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return domain.Hold{}, domain.HoldDenied
	}

	key := domain.SeatKey{ShowtimeID: showtimeID, SeatCode: seatCode}
	now := t.now()
	if e, ok := t.entries[key]; ok {
		if e.hold.Live(now) {
			return domain.Hold{}, domain.HoldDenied
		}
		// Stale: its timer has not fired yet. Retire it as an expiry.
		e.timer.Stop()
		t.removeLocked(key)
		t.notifier.HoldUnlocked(key, domain.ReleaseReasonExpired)
	}

	return t.grantLocked(key, holderID, now), domain.HoldGranted
}

// Renew extends a live hold owned by holderID to now+TTL. The old timer is
// stopped and the new one scheduled under the same lock, so one key never
// has two timers. A live hold owned by someone else is denied; a free or
// stale seat is treated like RequestHold.
func (t *HoldTable) Renew(showtimeID, seatCode, holderID string) (domain.Hold, domain.HoldOutcome) {
	if showtimeID == "" || seatCode == "" || holderID == "" {
		return domain.Hold{}, domain.HoldDenied
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return domain.Hold{}, domain.HoldDenied
	}

	key := domain.SeatKey{ShowtimeID: showtimeID, SeatCode: seatCode}
	now := t.now()
	if e, ok := t.entries[key]; ok {
		if e.hold.Live(now) {
			if e.hold.HolderID != holderID {
				return domain.Hold{}, domain.HoldDenied
			}
			e.timer.Stop()
			e.hold.HoldID = uuid.New().String()
			e.hold.ExpiresAt = now.Add(t.ttl)
			e.timer = t.scheduleExpiry(key, e.hold.HoldID)
			t.notifier.HoldLocked(e.hold)
			return e.hold, domain.HoldGranted
		}
		e.timer.Stop()
		t.removeLocked(key)
		t.notifier.HoldUnlocked(key, domain.ReleaseReasonExpired)
	}

	return t.grantLocked(key, holderID, now), domain.HoldGranted
}

// Release removes the hold on a seat if holderID owns it. A missing entry or
// a different owner is a no-op. It reports whether a hold was removed.
func (t *HoldTable) Release(showtimeID, seatCode, holderID string) bool {
	if holderID == "" {
		return false
	}
	return t.release(domain.SeatKey{ShowtimeID: showtimeID, SeatCode: seatCode}, holderID, domain.ReleaseReasonReleased)
}

// ForceRelease removes the hold on a seat regardless of owner.
func (t *HoldTable) ForceRelease(showtimeID, seatCode string) bool {
	return t.release(domain.SeatKey{ShowtimeID: showtimeID, SeatCode: seatCode}, "", domain.ReleaseReasonReleased)
}

// Commit force-releases every listed seat of a showtime once a booking for
// them has been persisted. It returns the number of holds removed.
func (t *HoldTable) Commit(showtimeID string, seatCodes []string) int {
	released := 0
	for _, code := range seatCodes {
		if t.release(domain.SeatKey{ShowtimeID: showtimeID, SeatCode: code}, "", domain.ReleaseReasonCommitted) {
			released++
		}
	}
	return released
}

// release removes the entry at key. An empty holderID skips the owner check.
func (t *HoldTable) release(key domain.SeatKey, holderID string, reason domain.ReleaseReason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	if holderID != "" && e.hold.HolderID != holderID {
		return false
	}

	e.timer.Stop()
	t.removeLocked(key)
	t.notifier.HoldUnlocked(key, reason)
	return true
}

// IsHeld reports whether the seat has a live hold owned by anyone other than
// byOtherThan. An empty byOtherThan matches any owner.
func (t *HoldTable) IsHeld(showtimeID, seatCode, byOtherThan string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[domain.SeatKey{ShowtimeID: showtimeID, SeatCode: seatCode}]
	if !ok || !e.hold.Live(t.now()) {
		return false
	}
	return byOtherThan == "" || e.hold.HolderID != byOtherThan
}

// Get returns the live hold on a seat, if any.
func (t *HoldTable) Get(showtimeID, seatCode string) (domain.Hold, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[domain.SeatKey{ShowtimeID: showtimeID, SeatCode: seatCode}]
	if !ok || !e.hold.Live(t.now()) {
		return domain.Hold{}, false
	}
	return e.hold, true
}

// Snapshot returns the live holds of a showtime ordered by seat code.
func (t *HoldTable) Snapshot(showtimeID string) []domain.Hold {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(showtimeID)
}

// Observe calls fn with the showtime's live holds while the table lock is
// held, so no transition of that showtime can happen between the snapshot
// and whatever fn enqueues. fn must not block or call back into the table.
func (t *HoldTable) Observe(showtimeID string, fn func(holds []domain.Hold)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.snapshotLocked(showtimeID))
}

func (t *HoldTable) snapshotLocked(showtimeID string) []domain.Hold {
	codes, ok := t.byShowtime[showtimeID]
	if !ok {
		return []domain.Hold{}
	}

	now := t.now()
	result := make([]domain.Hold, 0, codes.Len())
	codes.Ascend(func(code string) bool {
		e := t.entries[domain.SeatKey{ShowtimeID: showtimeID, SeatCode: code}]
		if e != nil && e.hold.Live(now) {
			result = append(result, e.hold)
		}
		return true
	})
	return result
}

// Len returns the number of entries in the table, including stale ones whose
// timers have not fired yet.
func (t *HoldTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// LiveLen returns the number of holds that have not reached their deadline.
func (t *HoldTable) LiveLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for _, e := range t.entries {
		if e.hold.Live(now) {
			n++
		}
	}
	return n
}

// Closed reports whether Close has been called.
func (t *HoldTable) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// grantLocked installs a new hold at key and schedules its expiry.
// Caller must hold t.mu and have cleared any previous entry.
func (t *HoldTable) grantLocked(key domain.SeatKey, holderID string, now time.Time) domain.Hold {
	h := domain.Hold{
		HoldID:     uuid.New().String(),
		ShowtimeID: key.ShowtimeID,
		SeatCode:   key.SeatCode,
		HolderID:   holderID,
		ExpiresAt:  now.Add(t.ttl),
		CreatedAt:  now,
	}
	e := &holdEntry{hold: h}
	t.entries[key] = e

	codes, ok := t.byShowtime[key.ShowtimeID]
	if !ok {
		const degree = 16
		codes = btree.NewOrderedG[string](degree)
		t.byShowtime[key.ShowtimeID] = codes
	}
	codes.ReplaceOrInsert(key.SeatCode)

	e.timer = t.scheduleExpiry(key, h.HoldID)
	t.notifier.HoldLocked(h)
	return h
}

// removeLocked deletes the entry at key from both indexes.
// Caller must hold t.mu.
func (t *HoldTable) removeLocked(key domain.SeatKey) {
	delete(t.entries, key)
	if codes, ok := t.byShowtime[key.ShowtimeID]; ok {
		codes.Delete(key.SeatCode)
		if codes.Len() == 0 {
			delete(t.byShowtime, key.ShowtimeID)
		}
	}
}
