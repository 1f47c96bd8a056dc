package completion

import (
	"errors"
	"fmt"
)

// ErrNoChoices is returned when a successful response has an empty choices list.
var ErrNoChoices = errors.New("completion response contained no choices")

// ErrMalformedChoice is returned when the first choice carries no message object.
var ErrMalformedChoice = errors.New("completion choice has no message")

// UpstreamError is a non-2xx answer from the completion API.
type UpstreamError struct {
	StatusCode int
	// Message is error.message from the payload, empty when absent.
	Message string
	Payload string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}
