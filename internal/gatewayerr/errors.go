// Package gatewayerr defines the error taxonomy shared by every termgate
// subsystem, so callers can classify failures with errors.Is/errors.As
// instead of matching on strings.
package gatewayerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks a malformed client frame or request body.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound marks an unknown session id.
	ErrNotFound = errors.New("not found")
	// ErrIo marks a PTY or socket I/O failure.
	ErrIo = errors.New("i/o error")
	// ErrRemoteTransport marks a TCP, handshake, or authentication failure
	// while establishing a pooled remote connection.
	ErrRemoteTransport = errors.New("remote transport error")
	// ErrRemoteTimeout marks a remote command that exceeded its timeout.
	ErrRemoteTimeout = errors.New("remote command timed out")
	// ErrPoolFull marks a pool at its per-host connection cap with no free
	// entry to reuse.
	ErrPoolFull = errors.New("connection pool exhausted")
	// ErrBreakerOpen marks admission denied by an open circuit breaker.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrDecode marks malformed base64 or JSON on the client stream.
	ErrDecode = errors.New("decode error")
	// ErrConfig marks a fatal startup configuration problem (no shell
	// found, missing key file).
	ErrConfig = errors.New("configuration error")
)

// NonZeroExitError reports a remote command that ran to completion but
// exited with a non-zero status.
type NonZeroExitError struct {
	Code int
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Code)
}

// AsNonZeroExit reports whether err wraps a NonZeroExitError and returns it.
func AsNonZeroExit(err error) (*NonZeroExitError, bool) {
	var target *NonZeroExitError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
