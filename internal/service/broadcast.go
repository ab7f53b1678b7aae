package service

import (
	"log/slog"
	"sync"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/efreitasn/seathold/internal/observability"
	"github.com/google/uuid"
)

// Subscriber is one connection's view of the hub: a bounded outbound queue.
// The hub closes the queue when the subscriber is unregistered, evicted or
// the hub shuts down; the connection's writer treats that as "hang up".
type Subscriber struct {
	ID   string
	send chan []byte

	// Guarded by Broadcaster.mu.
	topics map[string]struct{}
	closed bool
}

// NewSubscriber creates a subscriber whose queue holds up to buffer frames.
func NewSubscriber(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		ID:     uuid.New().String(),
		send:   make(chan []byte, buffer),
		topics: make(map[string]struct{}),
	}
}

// Messages returns the outbound queue. It is closed when the subscriber is
// dropped by the hub.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Broadcaster fans hold events out to the connections subscribed to a
// showtime. Every enqueue happens under one mutex and never blocks: a
// subscriber whose queue is full is evicted instead of skipped, so any
// subscriber still registered has seen every event of a topic in order.
//
// Broadcaster implements engine.Notifier.
type Broadcaster struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	topics map[string]map[*Subscriber]struct{} // showtime_id → members
	closed bool
}

// NewBroadcaster creates an empty hub.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
		topics: make(map[string]map[*Subscriber]struct{}),
	}
}

// Register adds a subscriber to the hub. It returns false, and closes the
// subscriber's queue, if the hub has been closed.
func (b *Broadcaster) Register(sub *Subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.closeLocked(sub)
		return false
	}
	b.subs[sub] = struct{}{}
	observability.ConnectionsActive.Inc()
	return true
}

// Unregister removes a subscriber from every topic and closes its queue.
// Calling it for an evicted or already unregistered subscriber is a no-op.
func (b *Broadcaster) Unregister(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

// Join subscribes sub to a showtime's topic. Joining twice is a no-op.
func (b *Broadcaster) Join(sub *Subscriber, showtimeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joinLocked(sub, showtimeID)
}

// JoinWith subscribes sub to a showtime's topic and enqueues msg to it in
// the same critical section, so msg precedes any later topic event.
func (b *Broadcaster) JoinWith(sub *Subscriber, showtimeID string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joinLocked(sub, showtimeID) {
		b.sendLocked(sub, msg)
	}
}

// Leave removes sub from a showtime's topic. It does not touch holds.
func (b *Broadcaster) Leave(sub *Subscriber, showtimeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(sub.topics, showtimeID)
	b.removeFromTopicLocked(sub, showtimeID)
}

// Publish enqueues msg to every member of a showtime's topic.
func (b *Broadcaster) Publish(showtimeID string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.topics[showtimeID] {
		b.sendLocked(sub, msg)
	}
}

// SendTo enqueues msg to one subscriber only.
func (b *Broadcaster) SendTo(sub *Subscriber, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		b.sendLocked(sub, msg)
	}
}

// HoldLocked broadcasts seat:locked to the hold's showtime.
func (b *Broadcaster) HoldLocked(h domain.Hold) {
	b.Publish(h.ShowtimeID, EncodeLocked(h))
}

// HoldUnlocked broadcasts seat:unlocked to the seat's showtime.
func (b *Broadcaster) HoldUnlocked(key domain.SeatKey, _ domain.ReleaseReason) {
	b.Publish(key.ShowtimeID, EncodeUnlocked(key))
}

// Subscribers returns the number of members of a showtime's topic.
func (b *Broadcaster) Subscribers(showtimeID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[showtimeID])
}

// Close drops every subscriber and refuses new ones. It returns the number
// of subscribers dropped.
func (b *Broadcaster) Close() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	b.closed = true

	n := len(b.subs)
	for sub := range b.subs {
		b.dropLocked(sub)
	}
	return n
}

// joinLocked reports whether sub is registered and now a member.
func (b *Broadcaster) joinLocked(sub *Subscriber, showtimeID string) bool {
	if _, ok := b.subs[sub]; !ok {
		return false
	}
	sub.topics[showtimeID] = struct{}{}
	members, ok := b.topics[showtimeID]
	if !ok {
		members = make(map[*Subscriber]struct{})
		b.topics[showtimeID] = members
	}
	members[sub] = struct{}{}
	return true
}

// sendLocked enqueues without blocking and evicts sub if its queue is full.
func (b *Broadcaster) sendLocked(sub *Subscriber, msg []byte) {
	select {
	case sub.send <- msg:
	default:
		b.logger.Warn("evicting slow subscriber",
			slog.String("subscriber_id", sub.ID),
			slog.Int("queued", len(sub.send)),
		)
		observability.SubscribersEvicted.Inc()
		b.dropLocked(sub)
	}
}

// dropLocked removes sub from the hub and closes its queue.
func (b *Broadcaster) dropLocked(sub *Subscriber) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	for showtimeID := range sub.topics {
		b.removeFromTopicLocked(sub, showtimeID)
	}
	sub.topics = make(map[string]struct{})
	delete(b.subs, sub)
	observability.ConnectionsActive.Dec()
	b.closeLocked(sub)
}

func (b *Broadcaster) removeFromTopicLocked(sub *Subscriber, showtimeID string) {
	members, ok := b.topics[showtimeID]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(b.topics, showtimeID)
	}
}

func (b *Broadcaster) closeLocked(sub *Subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
}
