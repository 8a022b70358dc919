package flume

import (
	"hash"
	"hash/fnv"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// errorHandlerSetter is implemented by sinks that report asynchronous
// failures (background flush, compression) through the pipeline's handler.
type errorHandlerSetter interface {
	setErrorHandler(ErrorHandler)
}

// Builder assembles a pipeline from sink configurations, signal bindings
// and policy flags, then installs it with one atomic swap. Methods latch
// the first error and Build reports it, so call chains need no intermediate
// checks.
//
// Build is idempotent for an unchanged configuration: the checksum of the
// declared configs is compared against the active pipeline's and a match
// skips the rebuild entirely, leaving open files and buffers untouched.
// Outside test mode a pipeline is installed once; a later Build with a
// different configuration returns ErrAlreadyInstalled.
type Builder struct {
	configs         []SinkConfig
	signals         map[os.Signal]SignalAction
	ceiling         Level
	hasCeiling      bool
	testMode        bool
	continueOnPanic bool
	onError         ErrorHandler
	err             error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{signals: make(map[os.Signal]SignalAction)}
}

// Sink appends any sink configuration. The concrete helpers below cover the
// built-in sinks; custom SinkConfig implementations go through here.
func (b *Builder) Sink(cfg SinkConfig) *Builder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = configErr("builder", "Sink", "must not be nil")
		return b
	}
	b.configs = append(b.configs, cfg)
	return b
}

// Console adds a console sink.
func (b *Builder) Console(cfg Console) *Builder { return b.Sink(cfg) }

// RawFile adds a raw append-only file sink.
func (b *Builder) RawFile(cfg RawFile) *Builder { return b.Sink(cfg) }

// BufFile adds a buffered file sink.
func (b *Builder) BufFile(cfg BufFile) *Builder { return b.Sink(cfg) }

// RingFile adds an in-memory forensic sink.
func (b *Builder) RingFile(cfg RingFile) *Builder { return b.Sink(cfg) }

// Syslog adds a syslog sink.
func (b *Builder) Syslog(cfg Syslog) *Builder { return b.Sink(cfg) }

// NATS adds a NATS forwarding sink.
func (b *Builder) NATS(cfg NATS) *Builder { return b.Sink(cfg) }

// Signal binds a process signal to an action applied to every sink.
// Ignored in test mode.
func (b *Builder) Signal(sig os.Signal, act SignalAction) *Builder {
	if b.err != nil {
		return b
	}
	if sig == nil {
		b.err = configErr("builder", "Signal", "signal must not be nil")
		return b
	}
	switch act {
	case ActionRotate, ActionReopen, ActionDump:
	default:
		b.err = configErr("builder", "Signal", "unknown action")
		return b
	}
	b.signals[sig] = act
	return b
}

// MaxLevel raises the pipeline threshold above the least restrictive sink,
// discarding records below l before any sink is consulted.
func (b *Builder) MaxLevel(l Level) *Builder {
	if b.err != nil {
		return b
	}
	if !l.valid() {
		b.err = configErr("builder", "MaxLevel", "out of range")
		return b
	}
	b.ceiling = l
	b.hasCeiling = true
	return b
}

// Test marks the build for test use: signal bindings are not installed and
// repeated Build calls may replace the active pipeline freely.
func (b *Builder) Test() *Builder {
	if b.err != nil {
		return b
	}
	b.testMode = true
	return b
}

// ContinueOnPanic makes the panic guard log, dump and flush but not
// terminate the process.
func (b *Builder) ContinueOnPanic() *Builder {
	if b.err != nil {
		return b
	}
	b.continueOnPanic = true
	return b
}

// OnError sets the handler for asynchronous per-sink failures. Defaults to
// StderrErrorHandler.
func (b *Builder) OnError(h ErrorHandler) *Builder {
	if b.err != nil {
		return b
	}
	if h == nil {
		b.err = configErr("builder", "OnError", "handler must not be nil")
		return b
	}
	b.onError = h
	return b
}

// checksum hashes every input that shapes the pipeline's behavior. Two
// builders with equal checksums produce interchangeable pipelines.
func (b *Builder) checksumAll() uint64 {
	h := fnv.New64a()
	for _, cfg := range b.configs {
		cfg.checksum(h)
	}
	hashSignals(h, b.signals)
	hashBool(h, b.hasCeiling)
	hashInt(h, int64(b.ceiling))
	hashBool(h, b.testMode)
	hashBool(h, b.continueOnPanic)
	return h.Sum64()
}

func hashSignals(h hash.Hash64, signals map[os.Signal]SignalAction) {
	names := make([]string, 0, len(signals))
	byName := make(map[string]SignalAction, len(signals))
	for sig, act := range signals {
		names = append(names, sig.String())
		byName[sig.String()] = act
	}
	sort.Strings(names)
	for _, n := range names {
		hashString(h, n)
		hashInt(h, int64(byName[n]))
	}
}

// Build validates the configuration, constructs and opens every sink, and
// publishes the pipeline. When the active pipeline already carries this
// exact configuration, Build skips the rebuild: in test mode the active
// pipeline is returned untouched, otherwise its sinks are reopened so an
// external rotation since the last Build is picked up.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.configs) == 0 {
		return nil, configErr("builder", "", "at least one sink is required")
	}

	sum := b.checksumAll()
	if cur := active.Load(); cur != nil {
		if cur.checksum == sum {
			if !cur.testMode {
				cur.apply(ActionReopen)
			}
			return cur, nil
		}
		if !cur.testMode {
			return nil, ErrAlreadyInstalled
		}
	}

	onError := b.onError
	if onError == nil {
		onError = StderrErrorHandler
	}

	sinks := make([]Sink, 0, len(b.configs))
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}
	for _, cfg := range b.configs {
		s, err := cfg.New()
		if err != nil {
			closeAll()
			return nil, err
		}
		if setter, ok := s.(errorHandlerSetter); ok {
			setter.setErrorHandler(onError)
		}
		if err := s.Open(); err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "opening sink %s", s.Name())
		}
		sinks = append(sinks, s)
	}

	threshold := b.configs[0].Level()
	for _, cfg := range b.configs[1:] {
		if cfg.Level() < threshold {
			threshold = cfg.Level()
		}
	}
	if b.hasCeiling && b.ceiling > threshold {
		threshold = b.ceiling
	}

	signals := make(map[os.Signal]SignalAction, len(b.signals))
	for sig, act := range b.signals {
		signals[sig] = act
	}

	p := &Pipeline{
		Dispatcher: Dispatcher{
			sinks:     sinks,
			threshold: threshold,
			onError:   onError,
		},
		signals:         signals,
		checksum:        sum,
		testMode:        b.testMode,
		continueOnPanic: b.continueOnPanic,
	}

	if old := active.Swap(p); old != nil {
		old.retire()
	}

	if !b.testMode && len(signals) > 0 {
		startSignalBridge(signalList(signals))
	}
	return p, nil
}

func signalList(signals map[os.Signal]SignalAction) []os.Signal {
	out := make([]os.Signal, 0, len(signals))
	for sig := range signals {
		out = append(out, sig)
	}
	return out
}
