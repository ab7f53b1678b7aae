package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// BookingStore is the read side of the external booking store: which seats
// of a showtime are permanently booked. The seat-hold core never writes it.
type BookingStore interface {
	IsBooked(ctx context.Context, showtimeID, seatCode string) (bool, error)
	BookedSeats(ctx context.Context, showtimeID string) ([]string, error)
}

// RedisBookingStore reads booked seats from one Redis set per showtime,
// keyed "booked:{showtime_id}", which the booking service maintains.
type RedisBookingStore struct {
	client *redis.Client
}

// NewRedisBookingStore creates a RedisBookingStore over an existing client.
func NewRedisBookingStore(client *redis.Client) *RedisBookingStore {
	return &RedisBookingStore{client: client}
}

// BookedKey returns the Redis key holding the booked seat codes of a showtime.
func BookedKey(showtimeID string) string {
	return "booked:" + showtimeID
}

// IsBooked reports whether the seat is in the showtime's booked set.
func (s *RedisBookingStore) IsBooked(ctx context.Context, showtimeID, seatCode string) (bool, error) {
	booked, err := s.client.SIsMember(ctx, BookedKey(showtimeID), seatCode).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", BookedKey(showtimeID), err)
	}
	return booked, nil
}

// BookedSeats returns the booked seat codes of a showtime in ascending order.
// A showtime with no bookings yields an empty slice.
func (s *RedisBookingStore) BookedSeats(ctx context.Context, showtimeID string) ([]string, error) {
	codes, err := s.client.SMembers(ctx, BookedKey(showtimeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", BookedKey(showtimeID), err)
	}
	sort.Strings(codes)
	return codes, nil
}

// NopBookingStore reports every seat as unbooked. It is used when no booking
// store is configured.
type NopBookingStore struct{}

// IsBooked always reports false.
func (NopBookingStore) IsBooked(context.Context, string, string) (bool, error) {
	return false, nil
}

// BookedSeats always returns an empty list.
func (NopBookingStore) BookedSeats(context.Context, string) ([]string, error) {
	return []string{}, nil
}
