package flume

import (
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync/atomic"
)

// RawFile configures an append-only file sink that is safe under concurrent
// writers across process boundaries on one filesystem. Every record is
// written as a single newline-terminated kernel-level append, so lines from
// different writers interleave between lines, never within one.
//
// RawFile does not rotate itself; pair it with an external log-rotate tool
// and bind a signal to ActionReopen.
type RawFile struct {
	// Path is the full path of the log file. The parent directory is
	// created on Open if missing.
	Path     string
	MinLevel Level
	Format   Format
}

// Level returns the sink's minimum admitted level.
func (c RawFile) Level() Level { return c.MinLevel }

// New builds the raw file sink.
func (c RawFile) New() (Sink, error) {
	if c.Path == "" {
		return nil, configErr("rawfile", "Path", "must not be empty")
	}
	if !c.MinLevel.valid() {
		return nil, configErr("rawfile", "MinLevel", "out of range")
	}
	return &rawFileSink{
		name:   "rawfile:" + c.Path,
		path:   c.Path,
		level:  c.MinLevel,
		format: c.Format,
	}, nil
}

func (c RawFile) checksum(h hash.Hash64) {
	hashString(h, "RawFile")
	hashString(h, c.Path)
	hashInt(h, int64(c.MinLevel))
	hashFormat(h, c.Format)
}

type rawFileSink struct {
	name   string
	path   string
	level  Level
	format Format

	// file is swapped atomically on Reopen so in-flight writes keep a valid
	// descriptor while an external rotation is being picked up. The old
	// *os.File is released by the runtime finalizer once no write holds it.
	file atomic.Pointer[os.File]
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func (s *rawFileSink) Name() string { return s.name }
func (s *rawFileSink) Level() Level { return s.level }

func (s *rawFileSink) Open() error {
	f, err := openAppend(s.path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	s.file.Store(f)
	return nil
}

func (s *rawFileSink) Write(rec *Record) error {
	f := s.file.Load()
	if f == nil {
		return ErrSinkClosed
	}
	line := s.format.render(rec)
	return writeFull(int(f.Fd()), []byte(line))
}

func (s *rawFileSink) Flush() error { return nil }

// Reopen re-acquires the file at the configured path. Used after an outside
// tool renamed the active file away.
func (s *rawFileSink) Reopen() error {
	f, err := openAppend(s.path)
	if err != nil {
		return fmt.Errorf("reopening log file: %w", err)
	}
	// Do not close the previous file here: a concurrent Write may still be
	// appending through its descriptor. The finalizer reclaims it.
	s.file.Store(f)
	return nil
}

func (s *rawFileSink) Dump() error { return ErrDumpUnsupported }

func (s *rawFileSink) Close() error {
	f := s.file.Swap(nil)
	if f == nil {
		return nil
	}
	return f.Close()
}
