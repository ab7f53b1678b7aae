package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/efreitasn/seathold/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// HoldHandler serves the collaborator API used by the booking and payment
// flow: commit, isHeld, forced release and the per-showtime hold listing.
type HoldHandler struct {
	holdSvc  *service.HoldService
	validate *validator.Validate
}

// NewHoldHandler creates a new HoldHandler.
func NewHoldHandler(holdSvc *service.HoldService, validate *validator.Validate) *HoldHandler {
	return &HoldHandler{holdSvc: holdSvc, validate: validate}
}

// commitRequest is the JSON request body for POST /showtimes/{showtime_id}/commit.
type commitRequest struct {
	SeatCodes []string `json:"seat_codes" validate:"required,min=1,dive,required,seat_code"`
}

type commitResponse struct {
	Released int `json:"released"`
}

type isHeldResponse struct {
	Held bool `json:"held"`
}

type holdResponse struct {
	SeatCode  string `json:"seat_code"`
	HolderID  string `json:"holder_id"`
	ExpiresAt string `json:"expires_at"`
}

type snapshotResponse struct {
	ShowtimeID string         `json:"showtime_id"`
	Holds      []holdResponse `json:"holds"`
	Booked     []string       `json:"booked"`
}

// Commit handles POST /showtimes/{showtime_id}/commit.
func (h *HoldHandler) Commit(w http.ResponseWriter, r *http.Request) {
	showtimeID := chi.URLParam(r, "showtime_id")
	if err := h.validate.Var(showtimeID, "ident"); err != nil {
		mapHoldError(w, &domain.ValidationError{Message: "showtime_id is invalid"})
		return
	}

	var req commitRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		mapHoldError(w, toValidationError(err))
		return
	}

	released := h.holdSvc.Commit(showtimeID, req.SeatCodes)
	WriteJSON(w, http.StatusOK, commitResponse{Released: released})
}

// IsHeld handles GET /showtimes/{showtime_id}/seats/{seat_code}/hold.
func (h *HoldHandler) IsHeld(w http.ResponseWriter, r *http.Request) {
	showtimeID, seatCode, err := h.seatParams(r)
	if err != nil {
		mapHoldError(w, err)
		return
	}

	byOtherThan := r.URL.Query().Get("by_other_than")
	WriteJSON(w, http.StatusOK, isHeldResponse{
		Held: h.holdSvc.IsHeld(showtimeID, seatCode, byOtherThan),
	})
}

// ForceRelease handles DELETE /showtimes/{showtime_id}/seats/{seat_code}/hold.
// Releasing a free seat is not an error.
func (h *HoldHandler) ForceRelease(w http.ResponseWriter, r *http.Request) {
	showtimeID, seatCode, err := h.seatParams(r)
	if err != nil {
		mapHoldError(w, err)
		return
	}

	h.holdSvc.ForceRelease(showtimeID, seatCode)
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot handles GET /showtimes/{showtime_id}/holds.
func (h *HoldHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	showtimeID := chi.URLParam(r, "showtime_id")
	if err := h.validate.Var(showtimeID, "ident"); err != nil {
		mapHoldError(w, &domain.ValidationError{Message: "showtime_id is invalid"})
		return
	}

	holds, booked := h.holdSvc.Snapshot(r.Context(), showtimeID)
	resp := snapshotResponse{
		ShowtimeID: showtimeID,
		Holds:      make([]holdResponse, 0, len(holds)),
		Booked:     booked,
	}
	for _, hd := range holds {
		resp.Holds = append(resp.Holds, holdResponse{
			SeatCode:  hd.SeatCode,
			HolderID:  hd.HolderID,
			ExpiresAt: hd.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *HoldHandler) seatParams(r *http.Request) (string, string, error) {
	showtimeID := chi.URLParam(r, "showtime_id")
	seatCode := chi.URLParam(r, "seat_code")
	if err := h.validate.Var(showtimeID, "ident"); err != nil {
		return "", "", &domain.ValidationError{Message: "showtime_id is invalid"}
	}
	if err := h.validate.Var(seatCode, "seat_code"); err != nil {
		return "", "", &domain.ValidationError{Message: "seat_code is invalid"}
	}
	return showtimeID, seatCode, nil
}

// toValidationError turns validator field errors into one readable message.
func toValidationError(err error) *domain.ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &domain.ValidationError{Message: err.Error()}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return &domain.ValidationError{Message: strings.Join(msgs, "; ")}
}

// mapHoldError maps errors to HTTP error responses.
func mapHoldError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
