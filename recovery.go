package flume

import (
	"fmt"
	"os"
	"runtime/debug"
)

// osExit is swapped out by tests.
var osExit = os.Exit

// HandlePanic records a recovered panic through the active pipeline: the
// panic value and stack are dispatched at Error level, forensic sinks are
// dumped, everything is flushed and closed, and the process exits with
// ExitCodePanic. A pipeline built with ContinueOnPanic skips the exit, in
// which case the sinks stay open.
//
// A nil recovered value is a no-op, so it can sit directly in a defer:
//
//	defer func() { flume.HandlePanic(recover()) }()
func HandlePanic(recovered interface{}) {
	if recovered == nil {
		return
	}
	p := active.Load()
	if p == nil {
		osExit(ExitCodePanic)
		return
	}

	rec := NewRecord(LevelError, 1, fmt.Sprintf("panic: %v\n%s", recovered, debug.Stack()))
	p.Dispatch(rec)
	for _, s := range p.sinks {
		if err := s.Dump(); err != nil && err != ErrDumpUnsupported && p.onError != nil {
			p.onError(s.Name(), err)
		}
	}
	p.Flush()

	if p.continueOnPanic {
		return
	}
	Shutdown()
	osExit(ExitCodePanic)
}

// Guard runs fn and routes any panic through HandlePanic. Intended as the
// top frame of goroutines whose panics must reach the log before the
// process dies:
//
//	go flume.Guard(worker)
func Guard(fn func()) {
	defer func() {
		HandlePanic(recover())
	}()
	fn()
}
