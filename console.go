package flume

import (
	"hash"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ConsoleTarget selects the console stream.
type ConsoleTarget int

const (
	Stdout ConsoleTarget = iota + 1
	Stderr
)

// Console configures a console sink writing formatted lines to stdout or
// stderr.
type Console struct {
	Target   ConsoleTarget // defaults to Stdout
	MinLevel Level
	Format   Format
}

// Level returns the sink's minimum admitted level.
func (c Console) Level() Level { return c.MinLevel }

// New builds the console sink.
func (c Console) New() (Sink, error) {
	target := c.Target
	if target == 0 {
		target = Stdout
	}
	if target != Stdout && target != Stderr {
		return nil, configErr("console", "Target", "must be Stdout or Stderr")
	}
	if !c.MinLevel.valid() {
		return nil, configErr("console", "MinLevel", "out of range")
	}
	fd := int(os.Stdout.Fd())
	name := "console:stdout"
	if target == Stderr {
		fd = int(os.Stderr.Fd())
		name = "console:stderr"
	}
	return &consoleSink{name: name, level: c.MinLevel, format: c.Format, fd: fd}, nil
}

func (c Console) checksum(h hash.Hash64) {
	hashString(h, "Console")
	hashInt(h, int64(c.Target))
	hashInt(h, int64(c.MinLevel))
	hashFormat(h, c.Format)
}

type consoleSink struct {
	name   string
	level  Level
	format Format
	fd     int
	mu     sync.Mutex
}

func (s *consoleSink) Name() string { return s.name }
func (s *consoleSink) Level() Level { return s.level }
func (s *consoleSink) Open() error  { return nil }

func (s *consoleSink) Write(rec *Record) error {
	line := s.format.render(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFull(s.fd, []byte(line))
}

func (s *consoleSink) Flush() error  { return nil }
func (s *consoleSink) Reopen() error { return nil }
func (s *consoleSink) Dump() error   { return ErrDumpUnsupported }
func (s *consoleSink) Close() error  { return nil }

// writeFull writes b to fd, retrying short writes and EINTR until the whole
// buffer is written or the descriptor refuses further writes. Partial lines
// are never left behind silently: the caller sees the error.
func writeFull(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if n > 0 {
			b = b[n:]
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return unix.EIO
		}
	}
	return nil
}
