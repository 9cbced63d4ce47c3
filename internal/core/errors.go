package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/stackscout/stackscout/client"
)

// ErrNotFound is returned when a package is not present in the index or
// upstream. Aliased from the client package so connectors and callers share
// one sentinel.
var ErrNotFound = client.ErrNotFound

// HTTP-level errors surface from the client package.
type (
	HTTPError      = client.HTTPError
	RateLimitError = client.RateLimitError
)

// TransientFetchError wraps an upstream failure that is worth retrying:
// timeouts, 5xx responses, rate-limit pushback.
type TransientFetchError struct {
	Source Source
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: transient fetch failure: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalSourceError marks a source's cycle as failed: auth rejection,
// schema drift, anything a retry will not fix. Other sources continue.
type FatalSourceError struct {
	Source Source
	Reason string
	Err    error
}

func (e *FatalSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *FatalSourceError) Unwrap() error { return e.Err }

// MalformedRecordError rejects a single raw record whose identity fields are
// unrecoverable. The record is skipped and logged; the batch continues.
type MalformedRecordError struct {
	Source Source
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s: malformed record: %s", e.Source, e.Reason)
}

// InvalidWeightsError rejects a weight table with no usable weights.
type InvalidWeightsError struct {
	Reason string
}

func (e *InvalidWeightsError) Error() string {
	return "invalid weights: " + e.Reason
}

// InvalidArgumentError rejects a caller-supplied parameter synchronously,
// with no partial effect.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var tfe *TransientFetchError
	if errors.As(err, &tfe) {
		return true
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return errors.Is(err, client.ErrUpstreamDown)
}

// IsFatal reports whether err should fail the whole source cycle.
func IsFatal(err error) bool {
	var fse *FatalSourceError
	return errors.As(err, &fse)
}

// ClassifyFetchError maps a client-level error into the ingestion taxonomy.
// Connectors call this on anything GetJSON returns:
//
//   - 404 and context cancellation pass through untouched
//   - rate limiting, 5xx, and network timeouts become TransientFetchError
//   - auth rejection and schema/decode failures become FatalSourceError
func ClassifyFetchError(source Source, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, client.ErrNotFound) || errors.Is(err, context.Canceled) {
		return err
	}

	var rle *client.RateLimitError
	if errors.As(err, &rle) || errors.Is(err, client.ErrUpstreamDown) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientFetchError{Source: source, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientFetchError{Source: source, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TransientFetchError{Source: source, Err: err}
	}

	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
			return &FatalSourceError{Source: source, Reason: "authentication rejected", Err: err}
		}
		return &FatalSourceError{Source: source, Reason: "unexpected response", Err: err}
	}

	return &FatalSourceError{Source: source, Reason: "malformed response", Err: err}
}
