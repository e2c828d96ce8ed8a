package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Failure classes reported by Classify.
const (
	ClassTimeout     = "timeout"
	ClassCancelled   = "cancelled"
	ClassRateLimited = "rate_limited"
	ClassUnavailable = "unavailable"
	ClassRejected    = "rejected"
	ClassMalformed   = "malformed"
	ClassUnknown     = "unknown"
)

// ErrMalformedReply marks provider output that could not be turned into a
// reasoning step.
var ErrMalformedReply = errors.New("malformed reply")

// AdapterError wraps a provider failure with its HTTP status.
type AdapterError struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("adapter error (status=%d)", e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify buckets a step generation failure for logs and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrMalformedReply):
		return ClassMalformed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		switch {
		case adapterErr.Status == http.StatusTooManyRequests:
			return ClassRateLimited
		case adapterErr.Status >= 500 && adapterErr.Status <= 599, adapterErr.Temporary:
			return ClassUnavailable
		case adapterErr.Status >= 400:
			return ClassRejected
		}
	}
	return ClassUnknown
}
