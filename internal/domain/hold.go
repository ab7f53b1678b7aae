package domain

import "time"

// SeatKey identifies one seat on one showtime. At most one live hold
// exists per key.
type SeatKey struct {
	ShowtimeID string
	SeatCode   string
}

// HoldOutcome is the result of a hold or renewal request.
type HoldOutcome string

const (
	HoldGranted HoldOutcome = "granted"
	HoldDenied  HoldOutcome = "denied"
)

// ReleaseReason records why a hold left the table.
type ReleaseReason string

const (
	ReleaseReasonReleased  ReleaseReason = "released"
	ReleaseReasonCommitted ReleaseReason = "committed"
	ReleaseReasonExpired   ReleaseReason = "expired"
)

// Hold is a temporary, non-durable reservation of a seat.
// HoldID changes on every grant and renewal, so an expiry timer can tell
// whether the entry it was scheduled for is still the one in the table.
type Hold struct {
	HoldID     string
	ShowtimeID string
	SeatCode   string
	HolderID   string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Key returns the seat key the hold applies to.
func (h Hold) Key() SeatKey {
	return SeatKey{ShowtimeID: h.ShowtimeID, SeatCode: h.SeatCode}
}

// Live reports whether the hold is still valid at now.
func (h Hold) Live(now time.Time) bool {
	return h.ExpiresAt.After(now)
}
