package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/efreitasn/seathold/internal/engine"
	"github.com/efreitasn/seathold/internal/observability"
	"github.com/efreitasn/seathold/internal/store"
)

// HoldService is the entry point for every hold operation coming from the
// gateway, the REST API and the commit consumer. It adds the booked-seat
// check and metrics around the HoldTable, which stays the only place hold
// state changes.
type HoldService struct {
	table         *engine.HoldTable
	hub           *Broadcaster
	bookings      store.BookingStore
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewHoldService creates a new HoldService with the given dependencies.
func NewHoldService(
	table *engine.HoldTable,
	hub *Broadcaster,
	bookings store.BookingStore,
	lookupTimeout time.Duration,
	logger *slog.Logger,
) *HoldService {
	return &HoldService{
		table:         table,
		hub:           hub,
		bookings:      bookings,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// RequestHold grants a hold on a free seat. Seats that are booked or held
// live by anyone, the requester included, are denied.
func (s *HoldService) RequestHold(ctx context.Context, showtimeID, seatCode, holderID string) (domain.Hold, domain.HoldOutcome) {
	if s.isBooked(ctx, showtimeID, seatCode) {
		observability.HoldsDenied.WithLabelValues(observability.DeniedBooked).Inc()
		return domain.Hold{}, domain.HoldDenied
	}

	h, outcome := s.table.RequestHold(showtimeID, seatCode, holderID)
	s.countOutcome(outcome, observability.HoldsGranted)
	return h, outcome
}

// Renew extends the requester's own live hold. Anything else behaves like
// RequestHold.
func (s *HoldService) Renew(ctx context.Context, showtimeID, seatCode, holderID string) (domain.Hold, domain.HoldOutcome) {
	if s.isBooked(ctx, showtimeID, seatCode) {
		observability.HoldsDenied.WithLabelValues(observability.DeniedBooked).Inc()
		return domain.Hold{}, domain.HoldDenied
	}

	h, outcome := s.table.Renew(showtimeID, seatCode, holderID)
	s.countOutcome(outcome, observability.HoldsRenewed)
	return h, outcome
}

// Release removes the requester's own hold. Releasing someone else's hold or
// a free seat is a silent no-op.
func (s *HoldService) Release(showtimeID, seatCode, holderID string) bool {
	return s.table.Release(showtimeID, seatCode, holderID)
}

// ForceRelease removes a hold regardless of owner.
func (s *HoldService) ForceRelease(showtimeID, seatCode string) bool {
	released := s.table.ForceRelease(showtimeID, seatCode)
	if released {
		s.logger.Info("hold force-released",
			slog.String("showtime_id", showtimeID),
			slog.String("seat_code", seatCode),
		)
	}
	return released
}

// Commit stops holding seats whose booking has been persisted. It returns
// the number of holds removed.
func (s *HoldService) Commit(showtimeID string, seatCodes []string) int {
	released := s.table.Commit(showtimeID, seatCodes)
	s.logger.Info("booking committed",
		slog.String("showtime_id", showtimeID),
		slog.Int("seats", len(seatCodes)),
		slog.Int("released", released),
	)
	return released
}

// IsHeld reports whether a seat is held live by anyone other than
// byOtherThan. An empty byOtherThan matches any holder.
func (s *HoldService) IsHeld(showtimeID, seatCode, byOtherThan string) bool {
	return s.table.IsHeld(showtimeID, seatCode, byOtherThan)
}

// Snapshot returns the live holds of a showtime and its booked seats.
func (s *HoldService) Snapshot(ctx context.Context, showtimeID string) ([]domain.Hold, []string) {
	return s.table.Snapshot(showtimeID), s.bookedSeats(ctx, showtimeID)
}

// Join subscribes sub to a showtime and sends it a seat:snapshot. The
// snapshot is taken and enqueued under the table lock, so the subscriber
// sees every later transition after it and none before.
func (s *HoldService) Join(ctx context.Context, sub *Subscriber, showtimeID string) {
	booked := s.bookedSeats(ctx, showtimeID)
	s.table.Observe(showtimeID, func(holds []domain.Hold) {
		s.hub.JoinWith(sub, showtimeID, EncodeSnapshot(showtimeID, holds, booked))
	})
}

// Leave unsubscribes sub from a showtime. Holds are left alone.
func (s *HoldService) Leave(sub *Subscriber, showtimeID string) {
	s.hub.Leave(sub, showtimeID)
}

// Deny sends seat:hold-denied to the requester only.
func (s *HoldService) Deny(sub *Subscriber, showtimeID, seatCode string) {
	s.hub.SendTo(sub, EncodeDenied(showtimeID, seatCode))
}

// ActiveHolds returns the number of live holds. Entries past their deadline
// whose timers have not fired yet are not counted.
func (s *HoldService) ActiveHolds() int {
	return s.table.LiveLen()
}

func (s *HoldService) countOutcome(outcome domain.HoldOutcome, granted interface{ Inc() }) {
	if outcome == domain.HoldGranted {
		granted.Inc()
		return
	}
	observability.HoldsDenied.WithLabelValues(s.denialReason()).Inc()
}

// denialReason labels a denial coming back from the table.
func (s *HoldService) denialReason() string {
	if s.table.Closed() {
		return observability.DeniedClosed
	}
	return observability.DeniedHeld
}

// isBooked consults the booking store. Lookup failures are logged and
// treated as "not booked": holds are advisory and the booking path rejects
// double bookings on its own.
func (s *HoldService) isBooked(ctx context.Context, showtimeID, seatCode string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	booked, err := s.bookings.IsBooked(ctx, showtimeID, seatCode)
	if err != nil {
		s.logger.Warn("booking lookup failed",
			slog.String("showtime_id", showtimeID),
			slog.String("seat_code", seatCode),
			slog.String("error", err.Error()),
		)
		return false
	}
	return booked
}

func (s *HoldService) bookedSeats(ctx context.Context, showtimeID string) []string {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	codes, err := s.bookings.BookedSeats(ctx, showtimeID)
	if err != nil {
		s.logger.Warn("booked seats lookup failed",
			slog.String("showtime_id", showtimeID),
			slog.String("error", err.Error()),
		)
		return []string{}
	}
	return codes
}

// MetricsNotifier counts hold removals by reason before passing every
// event on.
type MetricsNotifier struct {
	next engine.Notifier
}

// NewMetricsNotifier wraps next.
func NewMetricsNotifier(next engine.Notifier) *MetricsNotifier {
	return &MetricsNotifier{next: next}
}

// HoldLocked forwards a grant or renewal.
func (n *MetricsNotifier) HoldLocked(h domain.Hold) {
	n.next.HoldLocked(h)
}

// HoldUnlocked counts the removal under its reason and forwards it.
func (n *MetricsNotifier) HoldUnlocked(key domain.SeatKey, reason domain.ReleaseReason) {
	observability.HoldsReleased.WithLabelValues(string(reason)).Inc()
	n.next.HoldUnlocked(key, reason)
}
