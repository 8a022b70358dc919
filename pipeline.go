package flume

import (
	"os"
	"runtime"
	"sync/atomic"
)

// SignalAction is the operation applied to the active sinks when a bound
// process signal is received.
type SignalAction int

const (
	// ActionRotate forces rotation on self-rotating sinks and falls back to
	// Reopen on the rest.
	ActionRotate SignalAction = iota
	// ActionReopen re-acquires every sink's underlying resource.
	ActionReopen
	// ActionDump triggers forensic dumps on sinks that support them.
	ActionDump
)

func (a SignalAction) String() string {
	switch a {
	case ActionRotate:
		return "rotate"
	case ActionReopen:
		return "reopen"
	case ActionDump:
		return "dump"
	}
	return "unknown"
}

// Pipeline is one complete logging configuration: the ordered sinks, the
// effective global level, and the signal action table. A pipeline is built
// once, published by a single atomic pointer swap, and read-only to writers
// for its lifetime. It is retired only after the swap that replaces it and
// after every in-flight dispatch has released its reference.
type Pipeline struct {
	Dispatcher

	signals         map[os.Signal]SignalAction
	checksum        uint64
	testMode        bool
	continueOnPanic bool

	// refs counts dispatches currently inside this pipeline. retire waits
	// for it to drain before closing any sink.
	refs atomic.Int64
}

// active is the currently installed pipeline. Writers read it with one
// lock-free atomic load per dispatch; they never block each other through
// this pointer. Fields of a published pipeline are never mutated.
var active atomic.Pointer[Pipeline]

// Active returns the installed pipeline, or nil before the first Build.
func Active() *Pipeline {
	return active.Load()
}

// Log dispatches rec through the active pipeline. It is a no-op before the
// first Build. This is the record ingestion boundary for call-site layers.
//
// The reference count taken here is what keeps a concurrent swap from
// closing sinks under an in-flight dispatch: retire waits for it to drain.
// The re-check after the increment closes the window where a swap lands
// between loading the pointer and taking the reference.
func Log(rec *Record) error {
	for {
		p := active.Load()
		if p == nil {
			return nil
		}
		p.refs.Add(1)
		if active.Load() == p {
			err := p.Dispatch(rec)
			p.refs.Add(-1)
			return err
		}
		// Lost a swap race; release the retiring pipeline and take the new one.
		p.refs.Add(-1)
	}
}

// handleSignal applies the bound action for sig, if any.
func (p *Pipeline) handleSignal(sig os.Signal) {
	if act, ok := p.signals[sig]; ok {
		p.apply(act)
	}
}

// apply runs a signal action against every sink. Each sink's own lock
// serializes the action with in-flight writes, so a rotation never
// interleaves with a partial write.
func (p *Pipeline) apply(act SignalAction) {
	for _, s := range p.sinks {
		var err error
		switch act {
		case ActionRotate:
			if r, ok := s.(rotator); ok {
				err = r.Rotate()
			} else {
				err = s.Reopen()
			}
		case ActionReopen:
			err = s.Reopen()
		case ActionDump:
			if err = s.Dump(); err == ErrDumpUnsupported {
				err = nil
			}
		}
		if err != nil && p.onError != nil {
			p.onError(s.Name(), err)
		}
	}
}

// retire closes every sink once in-flight dispatches have drained. Called
// on the previous pipeline after its replacement is published; the swap
// stops new dispatches from taking a reference, so the wait is bounded by
// the writes already in progress.
func (p *Pipeline) retire() {
	for p.refs.Load() != 0 {
		runtime.Gosched()
	}
	for _, s := range p.sinks {
		if err := s.Close(); err != nil && p.onError != nil {
			p.onError(s.Name(), err)
		}
	}
}

// Shutdown retires the active pipeline and clears the installed reference.
// Programs with buffered sinks should call it (or Flush) before exit.
func Shutdown() {
	if p := active.Swap(nil); p != nil {
		p.retire()
	}
}
