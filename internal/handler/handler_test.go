package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/efreitasn/seathold/internal/engine"
	"github.com/efreitasn/seathold/internal/service"
	"github.com/efreitasn/seathold/internal/store"
	"github.com/efreitasn/seathold/internal/validator"
)

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router  http.Handler
	holdSvc *service.HoldService
	hub     *service.Broadcaster
	table   *engine.HoldTable
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, 2*time.Minute, store.NopBookingStore{})
}

func newTestEnvWith(t *testing.T, ttl time.Duration, bookings store.BookingStore) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validate := validator.NewValidator()

	hub := service.NewBroadcaster(logger)
	table := engine.NewHoldTable(ttl, service.NewMetricsNotifier(hub))
	holdSvc := service.NewHoldService(table, hub, bookings, time.Second, logger)
	gateway := NewGateway(holdSvc, hub, validate, GatewayConfig{
		WriteWait:       time.Second,
		PongWait:        10 * time.Second,
		SendBuffer:      64,
		MaxMessageBytes: 4096,
	}, logger)

	t.Cleanup(func() {
		table.Close()
		hub.Close()
	})

	return &testEnv{
		router:  NewRouter(holdSvc, gateway, validate, logger),
		holdSvc: holdSvc,
		hub:     hub,
		table:   table,
	}
}

// doJSON sends a JSON request and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

// hold grants a hold through the service and fails the test otherwise.
func (env *testEnv) hold(t *testing.T, showtimeID, seatCode, holderID string) domain.Hold {
	t.Helper()
	h, outcome := env.holdSvc.RequestHold(context.Background(), showtimeID, seatCode, holderID)
	if outcome != domain.HoldGranted {
		t.Fatalf("hold %s/%s for %s: %s", showtimeID, seatCode, holderID, outcome)
	}
	return h
}

// --- Healthz / metrics ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestMetrics_ExposesHoldCounters(t *testing.T) {
	env := newTestEnv(t)
	env.hold(t, "S1", "A1", "u1")

	rr := env.doJSON(t, "GET", "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "seathold_holds_granted_total") {
		t.Error("metrics output should include seathold_holds_granted_total")
	}
}

// --- Commit ---

func TestCommit_ReleasesHeldSeats(t *testing.T) {
	env := newTestEnv(t)
	env.hold(t, "S1", "A1", "x")
	env.hold(t, "S1", "A2", "x")
	env.hold(t, "S2", "A1", "x")

	rr := env.doJSON(t, "POST", "/showtimes/S1/commit", map[string]any{
		"seat_codes": []string{"A1", "A2", "A3"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["released"] != float64(2) {
		t.Errorf("released = %v, want 2", resp["released"])
	}

	// Commit bypasses ownership and frees the seat for another holder.
	if _, outcome := env.holdSvc.RequestHold(context.Background(), "S1", "A1", "y"); outcome != domain.HoldGranted {
		t.Errorf("hold after commit = %s, want granted", outcome)
	}
	if !env.holdSvc.IsHeld("S2", "A1", "") {
		t.Error("commit must not touch other showtimes")
	}
}

func TestCommit_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"empty list", "/showtimes/S1/commit", `{"seat_codes":[]}`, "validation_error"},
		{"missing list", "/showtimes/S1/commit", `{}`, "validation_error"},
		{"blank code", "/showtimes/S1/commit", `{"seat_codes":["A1",""]}`, "validation_error"},
		{"bad code", "/showtimes/S1/commit", `{"seat_codes":["A 1"]}`, "validation_error"},
		{"unknown field", "/showtimes/S1/commit", `{"seat_codes":["A1"],"extra":1}`, "invalid_request"},
		{"malformed json", "/showtimes/S1/commit", `{"seat_codes":`, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doRaw(t, "POST", tt.path, "application/json", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp map[string]string
			decodeJSON(t, rr, &resp)
			if resp["error"] != tt.want {
				t.Errorf("error = %q, want %q", resp["error"], tt.want)
			}
		})
	}
}

func TestCommit_RequiresJSONContentType(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/showtimes/S1/commit", "text/plain", `{"seat_codes":["A1"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// --- IsHeld ---

func TestIsHeld(t *testing.T) {
	env := newTestEnv(t)
	env.hold(t, "S1", "A1", "u1")

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"held by anyone", "/showtimes/S1/seats/A1/hold", true},
		{"held by other than u2", "/showtimes/S1/seats/A1/hold?by_other_than=u2", true},
		{"not held by other than holder", "/showtimes/S1/seats/A1/hold?by_other_than=u1", false},
		{"free seat", "/showtimes/S1/seats/B1/hold", false},
		{"other showtime", "/showtimes/S2/seats/A1/hold", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doJSON(t, "GET", tt.path, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp map[string]bool
			decodeJSON(t, rr, &resp)
			if resp["held"] != tt.want {
				t.Errorf("held = %v, want %v", resp["held"], tt.want)
			}
		})
	}
}

func TestIsHeld_InvalidSeatCode(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/showtimes/S1/seats/-bad/hold", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// --- ForceRelease ---

func TestForceRelease(t *testing.T) {
	env := newTestEnv(t)
	env.hold(t, "S1", "A1", "u1")

	rr := env.doJSON(t, "DELETE", "/showtimes/S1/seats/A1/hold", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if env.holdSvc.IsHeld("S1", "A1", "") {
		t.Error("seat should be free after forced release")
	}

	// Releasing a free seat is idempotent.
	rr = env.doJSON(t, "DELETE", "/showtimes/S1/seats/A1/hold", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("second release: expected 204, got %d", rr.Code)
	}
}

// --- Snapshot ---

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	h := env.hold(t, "S1", "B2", "u2")
	env.hold(t, "S1", "A1", "u1")

	rr := env.doJSON(t, "GET", "/showtimes/S1/holds", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		ShowtimeID string `json:"showtime_id"`
		Holds      []struct {
			SeatCode  string `json:"seat_code"`
			HolderID  string `json:"holder_id"`
			ExpiresAt string `json:"expires_at"`
		} `json:"holds"`
		Booked []string `json:"booked"`
	}
	decodeJSON(t, rr, &resp)

	if resp.ShowtimeID != "S1" || len(resp.Holds) != 2 {
		t.Fatalf("unexpected snapshot %+v", resp)
	}
	if resp.Holds[0].SeatCode != "A1" || resp.Holds[1].HolderID != "u2" {
		t.Errorf("holds not ordered by seat code: %+v", resp.Holds)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, resp.Holds[1].ExpiresAt)
	if err != nil {
		t.Fatalf("expires_at not RFC 3339: %v", err)
	}
	if !expiresAt.Equal(h.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", expiresAt, h.ExpiresAt)
	}
	if resp.Booked == nil || len(resp.Booked) != 0 {
		t.Errorf("booked = %v, want empty array", resp.Booked)
	}
}

func TestSnapshot_EmptyShowtime(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/showtimes/S9/holds", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"holds":[]`) {
		t.Errorf("expected empty holds array, got %s", rr.Body.String())
	}
}

// --- Routing ---

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/showtimes/S1/unknown", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
