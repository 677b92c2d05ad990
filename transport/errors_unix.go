//go:build !windows

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

// classify maps a raw errno (as returned by golang.org/x/sys/unix calls)
// onto the platform-neutral taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var outcome Outcome
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINPROGRESS):
		outcome = OutcomeWouldBlock
	case errors.Is(err, unix.ECONNREFUSED):
		outcome = OutcomeConnectionRefused
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		outcome = OutcomeConnectionReset
	case errors.Is(err, unix.ETIMEDOUT):
		outcome = OutcomeTimedOut
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ENETUNREACH):
		outcome = OutcomeHostUnreachable
	case errors.Is(err, unix.ENETDOWN):
		outcome = OutcomeNetworkDown
	case errors.Is(err, unix.EADDRINUSE):
		outcome = OutcomeAddressInUse
	case errors.Is(err, unix.EINTR):
		outcome = OutcomeInterrupted
	default:
		outcome = OutcomeUnknown
	}
	return &OutcomeError{Outcome: outcome, cause: err}
}
