package provider

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Provider error kinds.
const (
	KindRateLimited  = "rate_limited"
	KindUnauthorized = "unauthorized"
	KindNetwork      = "network"
	KindMalformed    = "malformed"
)

// Error classifies a failed provider interaction. Kind drives the executor's
// retry policy: rate_limited and network are retryable, the rest are fatal to
// the run.
type Error struct {
	Provider   string
	Kind       string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider error worth retrying with
// backoff (rate limit or transient network/server failure).
func IsRetryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindRateLimited || pe.Kind == KindNetwork
}

// classifyStatus maps a non-2xx HTTP response to a provider error. The body
// is read (and truncated) for the message; credentials never appear in it.
func classifyStatus(providerID string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	e := &Error{
		Provider: providerID,
		Status:   resp.StatusCode,
		Err:      fmt.Errorf("%s", string(body)),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.Kind = KindUnauthorized
	case resp.StatusCode >= 500:
		e.Kind = KindNetwork
	default:
		e.Kind = KindMalformed
	}
	return e
}

// netError wraps a transport-level failure.
func netError(providerID string, err error) *Error {
	return &Error{Provider: providerID, Kind: KindNetwork, Err: err}
}

// malformedError wraps an undecodable or schema-violating response body.
func malformedError(providerID string, err error) *Error {
	return &Error{Provider: providerID, Kind: KindMalformed, Err: err}
}
