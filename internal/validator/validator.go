package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// maxIDLength bounds showtime, seat and user identifiers.
const maxIDLength = 64

var seatCodeRgx = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,15}$`)

// NewValidator returns a validator with the seat-hold rules registered:
//
//	seat_code – 1-16 chars, alphanumeric first, then alphanumerics, '_' or '-'
//	ident     – non-blank, at most 64 bytes, no whitespace
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterValidation("seat_code", validateSeatCode)
	v.RegisterValidation("ident", validateIdent)

	return v
}

func validateSeatCode(fl validator.FieldLevel) bool {
	return seatCodeRgx.MatchString(fl.Field().String())
}

func validateIdent(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > maxIDLength {
		return false
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return false
		}
	}
	return true
}
