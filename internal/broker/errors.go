package broker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTransient covers network failures, 5xx, 429 and an open breaker.
	ErrTransient = errors.New("broker: transient failure")
	// ErrInsufficientFunds is terminal for the candidate that hit it.
	ErrInsufficientFunds = errors.New("broker: insufficient buying power")
)

// APIError is a non-2xx answer from the venue.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker returned %d", e.Status)
	}
	return fmt.Sprintf("broker returned %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Is lets callers match the taxonomy with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	case ErrInsufficientFunds:
		return e.Status == http.StatusForbidden &&
			strings.Contains(strings.ToLower(e.Message), "insufficient")
	default:
		return false
	}
}

// Validation reports a 422: the order shape is not accepted for the symbol.
func (e *APIError) Validation() bool { return e.Status == http.StatusUnprocessableEntity }

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string { return e.op + ": " + e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

func (e *transportError) Is(target error) bool { return target == ErrTransient }
