package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seathold_holds_granted_total",
			Help: "Total number of seat holds granted",
		},
	)

	HoldsRenewed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seathold_holds_renewed_total",
			Help: "Total number of seat holds renewed by their holder",
		},
	)

	HoldsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seathold_holds_denied_total",
			Help: "Total number of hold requests denied",
		},
		[]string{"reason"},
	)

	HoldsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seathold_holds_released_total",
			Help: "Total number of holds removed",
		},
		[]string{"reason"},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seathold_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	SubscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seathold_subscribers_evicted_total",
			Help: "Total number of connections dropped for not keeping up with events",
		},
	)

	CommitMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seathold_commit_messages_total",
			Help: "Total number of booking-finalized messages consumed",
		},
		[]string{"result"},
	)
)

// Denial reasons.
const (
	DeniedHeld    = "held"
	DeniedBooked  = "booked"
	DeniedInvalid = "invalid"
	DeniedClosed  = "closed"
)

// RegisterActiveHolds exposes the number of live holds, read from fn at
// scrape time. It must be called once per process.
func RegisterActiveHolds(fn func() int) prometheus.GaugeFunc {
	return promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "seathold_holds_active",
			Help: "Number of seat holds that have not reached their deadline",
		},
		func() float64 { return float64(fn()) },
	)
}
