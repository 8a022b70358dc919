package flume

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// memSink records writes in memory and fails on demand.
type memSink struct {
	name    string
	level   Level
	lines   []string
	failErr error
	flushed int
	closed  bool
}

func (m *memSink) Name() string { return m.name }
func (m *memSink) Level() Level { return m.level }
func (m *memSink) Open() error  { return nil }
func (m *memSink) Write(rec *Record) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.lines = append(m.lines, rec.Message)
	return nil
}
func (m *memSink) Flush() error  { m.flushed++; return nil }
func (m *memSink) Reopen() error { return nil }
func (m *memSink) Dump() error   { return ErrDumpUnsupported }
func (m *memSink) Close() error  { m.closed = true; return nil }

func TestDispatchPerSinkAdmission(t *testing.T) {
	debug := &memSink{name: "debug", level: LevelDebug}
	errs := &memSink{name: "errors", level: LevelError}
	d := Dispatcher{sinks: []Sink{debug, errs}, threshold: LevelDebug}

	if err := d.Dispatch(NewRecord(LevelDebug, 0, "dbg")); err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(NewRecord(LevelError, 0, "bad")); err != nil {
		t.Fatal(err)
	}

	if len(debug.lines) != 2 {
		t.Errorf("debug sink got %v", debug.lines)
	}
	if len(errs.lines) != 1 || errs.lines[0] != "bad" {
		t.Errorf("error sink got %v", errs.lines)
	}
}

func TestDispatchThresholdShortCircuit(t *testing.T) {
	s := &memSink{name: "s", level: LevelTrace}
	d := Dispatcher{sinks: []Sink{s}, threshold: LevelWarn}
	if err := d.Dispatch(NewRecord(LevelInfo, 0, "below")); err != nil {
		t.Fatal(err)
	}
	if len(s.lines) != 0 {
		t.Errorf("record below threshold reached sink: %v", s.lines)
	}
}

func TestDispatchErrorIsolation(t *testing.T) {
	bad := &memSink{name: "bad", level: LevelTrace, failErr: errors.New("disk on fire")}
	good := &memSink{name: "good", level: LevelTrace}
	var reported []string
	d := Dispatcher{
		sinks:     []Sink{bad, good},
		threshold: LevelTrace,
		onError:   func(sink string, err error) { reported = append(reported, sink) },
	}

	err := d.Dispatch(NewRecord(LevelInfo, 0, "survives"))
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("error lost: %v", err)
	}
	if len(good.lines) != 1 || good.lines[0] != "survives" {
		t.Errorf("failing sink suppressed delivery: %v", good.lines)
	}
	if len(reported) != 1 || reported[0] != "bad" {
		t.Errorf("reported = %v", reported)
	}
}

func TestDispatchExactlyOneAttemptPerSink(t *testing.T) {
	s := &memSink{name: "s", level: LevelTrace}
	d := Dispatcher{sinks: []Sink{s}, threshold: LevelTrace}
	d.Dispatch(NewRecord(LevelInfo, 0, "once"))
	if len(s.lines) != 1 {
		t.Errorf("expected exactly one write, got %d", len(s.lines))
	}
}

// Two file sinks at different levels: a debug record lands only in the
// debug log, an error record lands in both.
func TestDispatchTwoFileScenario(t *testing.T) {
	dir := t.TempDir()
	debugPath := filepath.Join(dir, "debug.log")
	errorPath := filepath.Join(dir, "error.log")

	p, err := NewBuilder().
		RawFile(RawFile{Path: debugPath, MinLevel: LevelDebug, Format: MessageOnlyFormat}).
		RawFile(RawFile{Path: errorPath, MinLevel: LevelError, Format: MessageOnlyFormat}).
		Test().
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer Shutdown()

	if err := p.Dispatch(NewRecord(LevelDebug, 0, "debug detail")); err != nil {
		t.Fatal(err)
	}
	if err := p.Dispatch(NewRecord(LevelError, 0, "it broke")); err != nil {
		t.Fatal(err)
	}

	debugOut, err := os.ReadFile(debugPath)
	if err != nil {
		t.Fatal(err)
	}
	errorOut, err := os.ReadFile(errorPath)
	if err != nil {
		t.Fatal(err)
	}

	if string(debugOut) != "debug detail\nit broke\n" {
		t.Errorf("debug.log = %q", debugOut)
	}
	if string(errorOut) != "it broke\n" {
		t.Errorf("error.log = %q", errorOut)
	}
}
