package flume

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Sentinel errors returned by sink operations.
var (
	// ErrDumpUnsupported is returned by Dump on sinks that hold no forensic
	// state. The dispatcher and signal bridge treat it as a no-op.
	ErrDumpUnsupported = errors.New("dump not supported by this sink")

	// ErrSinkClosed is returned by writes against a closed sink.
	ErrSinkClosed = errors.New("sink is closed")

	// ErrNotConnected is returned when a transport sink has no usable
	// connection and the bounded reconnect did not produce one. The record
	// that triggered it is dropped.
	ErrNotConnected = errors.New("transport not connected")

	// ErrAlreadyInstalled is returned by Build outside of test mode when a
	// different configuration is already active. Live reconfiguration is a
	// test-mode feature; production pipelines are installed once.
	ErrAlreadyInstalled = errors.New("a pipeline with a different configuration is already installed")
)

// ConfigError describes an invalid builder or sink configuration. It is
// returned synchronously from Build and is fatal to that build call only.
type ConfigError struct {
	Sink   string // sink name or "builder"
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config %s: %s", e.Sink, e.Reason)
	}
	return fmt.Sprintf("config %s: %s: %s", e.Sink, e.Field, e.Reason)
}

func configErr(sink, field, reason string) error {
	return &ConfigError{Sink: sink, Field: field, Reason: reason}
}

// ErrorHandler receives per-sink failures that must not abort the caller:
// write errors, flush errors during retirement, and signal action failures.
// Handlers run on the calling goroutine and must not log back through the
// pipeline.
type ErrorHandler func(sink string, err error)

// StderrErrorHandler is the default handler. It writes one line per failure
// to standard error.
func StderrErrorHandler(sink string, err error) {
	fmt.Fprintf(os.Stderr, "flume: sink %s: %v\n", sink, err)
}
