package domain

import "errors"

// Sentinel errors for inbound messages. None of these reach a client: the
// gateway and the commit consumer log them and drop the message.
var (
	ErrMalformedMessage = errors.New("malformed_message")
	ErrUnknownEvent     = errors.New("unknown_event")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
