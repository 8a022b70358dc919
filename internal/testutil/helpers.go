// Package testutil gates tests that need services a bare CI runner does not
// have, such as a NATS broker or a syslog daemon.
//
// Mode resolution, highest priority first: FLUME_UNIT_TESTS_ONLY=true pins
// unit mode, FLUME_RUN_INTEGRATION_TESTS=true/false selects explicitly, and
// the default is unit mode.
package testutil

import (
	"os"
	"testing"
)

// Unit reports whether only self-contained tests should run.
func Unit() bool {
	if os.Getenv("FLUME_UNIT_TESTS_ONLY") == "true" {
		return true
	}
	switch os.Getenv("FLUME_RUN_INTEGRATION_TESTS") {
	case "true":
		return false
	case "false":
		return true
	}
	return true
}

// Integration reports whether tests requiring external services should run.
func Integration() bool {
	return !Unit()
}

// SkipIfUnit skips t unless integration mode is enabled.
func SkipIfUnit(t *testing.T, message ...string) {
	if Unit() {
		msg := "integration test; enable with FLUME_RUN_INTEGRATION_TESTS=true"
		if len(message) > 0 {
			msg = message[0]
		}
		t.Skip(msg)
	}
}

// SkipIfIntegration skips t when integration mode is enabled, for tests that
// only make sense against the in-process stand-ins.
func SkipIfIntegration(t *testing.T, message ...string) {
	if Integration() {
		msg := "unit-only test"
		if len(message) > 0 {
			msg = message[0]
		}
		t.Skip(msg)
	}
}
