//go:build windows

package transport

import (
	"errors"

	"golang.org/x/sys/windows"
)

// classify maps a raw Winsock error code onto the platform-neutral
// taxonomy, mirroring errors_unix.go's POSIX mapping.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var outcome Outcome
	switch {
	case errors.Is(err, windows.WSAEWOULDBLOCK), errors.Is(err, windows.WSAEINPROGRESS):
		outcome = OutcomeWouldBlock
	case errors.Is(err, windows.WSAECONNREFUSED):
		outcome = OutcomeConnectionRefused
	case errors.Is(err, windows.WSAECONNRESET):
		outcome = OutcomeConnectionReset
	case errors.Is(err, windows.WSAETIMEDOUT):
		outcome = OutcomeTimedOut
	case errors.Is(err, windows.WSAEHOSTUNREACH), errors.Is(err, windows.WSAENETUNREACH):
		outcome = OutcomeHostUnreachable
	case errors.Is(err, windows.WSAENETDOWN):
		outcome = OutcomeNetworkDown
	case errors.Is(err, windows.WSAEADDRINUSE):
		outcome = OutcomeAddressInUse
	case errors.Is(err, windows.WSAEINTR):
		outcome = OutcomeInterrupted
	default:
		outcome = OutcomeUnknown
	}
	return &OutcomeError{Outcome: outcome, cause: err}
}
