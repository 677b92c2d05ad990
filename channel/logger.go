package channel

import (
	"fmt"
	"log"
	"os"
)

// Log levels, mirroring the verbosity tiers a driver is constructed with.
const (
	LogSilent = iota
	LogError
	LogVerbose
)

// Logger carries the two log sinks used throughout the driver and peer
// state machine. Both fields are called without a nil check, so neither
// may be nil; NewLogger and DiscardLogger set every silenced level to a
// no-op function.
type Logger struct {
	Verbosef func(format string, args ...any)
	Errorf   func(format string, args ...any)
}

// NewLogger builds a Logger writing to stderr with prepend as a prefix on
// every line, at the verbosity level requested.
func NewLogger(level int, prepend string) *Logger {
	output := log.New(os.Stderr, prepend, log.LstdFlags)
	logger := &Logger{
		Verbosef: func(string, ...any) {},
		Errorf:   func(string, ...any) {},
	}
	if level >= LogVerbose {
		logger.Verbosef = func(format string, args ...any) {
			output.Output(2, fmt.Sprintf(format, args...))
		}
	}
	if level >= LogError {
		logger.Errorf = func(format string, args ...any) {
			output.Output(2, fmt.Sprintf(format, args...))
		}
	}
	return logger
}

// DiscardLogger returns a Logger whose every call is a no-op, the default
// when a caller does not supply one.
func DiscardLogger() *Logger {
	return &Logger{
		Verbosef: func(string, ...any) {},
		Errorf:   func(string, ...any) {},
	}
}
