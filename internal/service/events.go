package service

import (
	"encoding/json"

	"github.com/efreitasn/seathold/internal/domain"
)

// Wire event names.
const (
	EventJoin     = "showtime:join"
	EventLeave    = "showtime:leave"
	EventHold     = "seat:hold"
	EventRelease  = "seat:release"
	EventRenew    = "seat:renew"
	EventLocked   = "seat:locked"
	EventUnlocked = "seat:unlocked"
	EventDenied   = "seat:hold-denied"
	EventSnapshot = "seat:snapshot"
)

// Envelope is the frame every message travels in, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SeatPayload is the body of inbound seat requests.
type SeatPayload struct {
	ShowtimeID string `json:"showtimeId" validate:"required,ident"`
	Code       string `json:"code" validate:"required,seat_code"`
	UserID     string `json:"userId" validate:"required,ident"`
}

// ShowtimePayload is the body of showtime:join and showtime:leave.
type ShowtimePayload struct {
	ShowtimeID string `json:"showtimeId" validate:"required,ident"`
}

type lockedPayload struct {
	ShowtimeID string `json:"showtimeId"`
	Code       string `json:"code"`
	UserID     string `json:"userId"`
	ExpiresAt  int64  `json:"expiresAt"`
}

type seatRef struct {
	ShowtimeID string `json:"showtimeId"`
	Code       string `json:"code"`
}

type snapshotHold struct {
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

type snapshotPayload struct {
	ShowtimeID string         `json:"showtimeId"`
	Holds      []snapshotHold `json:"holds"`
	Booked     []string       `json:"booked"`
}

// outbound is the encoding-side twin of Envelope.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encode(event string, data any) []byte {
	// Payloads are plain structs of strings and ints; Marshal cannot fail.
	b, _ := json.Marshal(outbound{Event: event, Data: data})
	return b
}

// EncodeLocked builds the seat:locked frame for a hold. expiresAt is in
// unix milliseconds.
func EncodeLocked(h domain.Hold) []byte {
	return encode(EventLocked, lockedPayload{
		ShowtimeID: h.ShowtimeID,
		Code:       h.SeatCode,
		UserID:     h.HolderID,
		ExpiresAt:  h.ExpiresAt.UnixMilli(),
	})
}

// EncodeUnlocked builds the seat:unlocked frame. The reason is not sent:
// clients render release, commit and expiry the same way.
func EncodeUnlocked(key domain.SeatKey) []byte {
	return encode(EventUnlocked, seatRef{ShowtimeID: key.ShowtimeID, Code: key.SeatCode})
}

// EncodeDenied builds the seat:hold-denied frame.
func EncodeDenied(showtimeID, seatCode string) []byte {
	return encode(EventDenied, seatRef{ShowtimeID: showtimeID, Code: seatCode})
}

// EncodeSnapshot builds the seat:snapshot frame sent to a connection right
// after it joins a showtime.
func EncodeSnapshot(showtimeID string, holds []domain.Hold, booked []string) []byte {
	p := snapshotPayload{
		ShowtimeID: showtimeID,
		Holds:      make([]snapshotHold, 0, len(holds)),
		Booked:     booked,
	}
	if p.Booked == nil {
		p.Booked = []string{}
	}
	for _, h := range holds {
		p.Holds = append(p.Holds, snapshotHold{
			Code:      h.SeatCode,
			UserID:    h.HolderID,
			ExpiresAt: h.ExpiresAt.UnixMilli(),
		})
	}
	return encode(EventSnapshot, p)
}
