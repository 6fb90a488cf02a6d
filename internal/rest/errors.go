// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnreachable is returned when the remote host could not be
	// reached at all.
	ErrUnreachable = errors.New("remote service unreachable")

	// ErrTimeout is returned when a request did not complete in time. The
	// remote side may still have processed it.
	ErrTimeout = errors.New("remote request timed out")

	// ErrNotFound maps HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized maps HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden maps HTTP 403.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict maps HTTP 409.
	ErrConflict = errors.New("conflict")

	// ErrBadRequest maps HTTP 400 and 422.
	ErrBadRequest = errors.New("bad request")

	// ErrServer maps every 5xx status.
	ErrServer = errors.New("remote server error")

	// ErrResponseTooLarge is returned when a response body exceeds the
	// configured limit.
	ErrResponseTooLarge = errors.New("response too large")
)

// StatusError is returned for any non-2xx response. It unwraps to the
// sentinel matching its status code so callers can use errors.Is.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// Body is the response body, truncated.
	Body string
}

// Error returns a human readable description of the status error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Unwrap returns the sentinel for the status code, if any.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return ErrNotFound

	case e.Code == http.StatusUnauthorized:
		return ErrUnauthorized

	case e.Code == http.StatusForbidden:
		return ErrForbidden

	case e.Code == http.StatusConflict:
		return ErrConflict

	case e.Code == http.StatusBadRequest,
		e.Code == http.StatusUnprocessableEntity:

		return ErrBadRequest

	case e.Code >= http.StatusInternalServerError:
		return ErrServer

	default:
		return nil
	}
}

// classifyTransportErr maps an error returned by http.Client.Do into
// ErrTimeout or ErrUnreachable, keeping the original error in the chain.
func classifyTransportErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {

		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// IsTransport reports whether err is a transport level failure that may be
// retried later.
func IsTransport(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServer)
}
