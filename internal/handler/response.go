package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
)

// maxBodyBytes bounds collaborator request bodies. A commit for a whole
// theater fits comfortably.
const maxBodyBytes = 64 << 10

var (
	errContentType = errors.New("Request body must be valid JSON with Content-Type: application/json")
	errTrailing    = errors.New("Request body must contain a single JSON object")
	errTooLarge    = errors.New("Request body is too large")
	errReadBody    = errors.New("Request body could not be read")
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes a single JSON object from the request body into v,
// rejecting unknown fields, trailing data and bodies over maxBodyBytes.
// v must be a non-nil pointer and is left untouched when an error is
// returned.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return errContentType
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errReadBody
	}
	if len(body) > maxBodyBytes {
		return errTooLarge
	}

	dst := reflect.ValueOf(v).Elem()
	tmp := reflect.New(dst.Type())

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(tmp.Interface()); err != nil {
		return errContentType
	}
	if dec.More() {
		return errTrailing
	}
	dst.Set(tmp.Elem())
	return nil
}
