package flume

import (
	"fmt"
	"hash"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RingFile configures the in-memory forensic sink. It is a tool for
// debugging deadlocks and race conditions that stop reproducing once
// ordinary disk logging slows the program down: writes land in per-thread
// ring buffers and reach disk only when a dump is triggered by an explicit
// call, a bound signal, or the panic guard.
//
// The write fast path takes no cross-thread mutex. Each OS thread gets its
// own buffer, created lazily at first write and registered once in a
// process-wide table; that one-time registration is the only cross-thread
// synchronization on the write path.
type RingFile struct {
	// Path is the dump target. Empty means standard output, written with
	// best-effort non-blocking semantics so a stalled consumer cannot
	// wedge log producers.
	Path     string
	MinLevel Level
	Format   Format

	// BufSize is the per-thread buffer capacity in bytes. Defaults to 1MiB.
	BufSize int

	// Truncate clears stale dump content from a previous process
	// incarnation when the sink opens. Dumps themselves always append, so
	// leaving Truncate off accumulates dumps across restarts.
	Truncate bool

	// ClearOnDump resets every ring after its content is dumped.
	ClearOnDump bool
}

// Level returns the sink's minimum admitted level.
func (c RingFile) Level() Level { return c.MinLevel }

// New builds the ring file sink.
func (c RingFile) New() (Sink, error) {
	if c.BufSize < 0 {
		return nil, configErr("ringfile", "BufSize", "must not be negative")
	}
	if !c.MinLevel.valid() {
		return nil, configErr("ringfile", "MinLevel", "out of range")
	}
	capacity := c.BufSize
	if capacity == 0 {
		capacity = defaultRingSize
	}
	name := "ringfile:" + c.Path
	if c.Path == "" {
		name = "ringfile:stdout"
	}
	return &ringFileSink{
		name:        name,
		path:        c.Path,
		level:       c.MinLevel,
		format:      c.Format,
		capacity:    capacity,
		truncate:    c.Truncate,
		clearOnDump: c.ClearOnDump,
	}, nil
}

func (c RingFile) checksum(h hash.Hash64) {
	hashString(h, "RingFile")
	hashString(h, c.Path)
	hashInt(h, int64(c.MinLevel))
	hashFormat(h, c.Format)
	hashInt(h, int64(c.BufSize))
	hashBool(h, c.Truncate)
	hashBool(h, c.ClearOnDump)
}

// ringBuffer is one thread's circular line store. Only the owning thread
// writes; a dump snapshots it concurrently. Coordination uses a CAS
// spinlock rather than a mutex so the owner's acquisition is a single
// uncontended atomic in the common case and the panic path never touches a
// lock another thread can hold for long: the critical sections are plain
// memory copies.
type ringBuffer struct {
	locked atomic.Bool
	data   []byte
	head   uint64 // total bytes ever written; next logical offset
	tail   uint64 // oldest retained byte; always at a line start
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{data: make([]byte, capacity)}
}

func (rb *ringBuffer) lock() {
	for !rb.locked.CompareAndSwap(false, true) {
	}
}

func (rb *ringBuffer) unlock() {
	rb.locked.Store(false)
}

// write appends one complete line, silently overwriting the oldest lines
// once full. Lines larger than the whole buffer keep their newest tail.
func (rb *ringBuffer) write(line []byte) {
	n := uint64(len(rb.data))
	if uint64(len(line)) > n {
		line = line[uint64(len(line))-n:]
	}
	rb.lock()
	for rb.head-rb.tail+uint64(len(line)) > n {
		rb.evictOldest()
	}
	off := rb.head % n
	c := copy(rb.data[off:], line)
	if c < len(line) {
		copy(rb.data, line[c:])
	}
	rb.head += uint64(len(line))
	rb.unlock()
}

// evictOldest advances tail past the oldest line. Called with the lock
// held.
func (rb *ringBuffer) evictOldest() {
	n := uint64(len(rb.data))
	for i := rb.tail; i < rb.head; i++ {
		if rb.data[i%n] == '\n' {
			rb.tail = i + 1
			return
		}
	}
	rb.tail = rb.head
}

// snapshot copies the retained content in write order.
func (rb *ringBuffer) snapshot() []byte {
	rb.lock()
	n := uint64(len(rb.data))
	out := make([]byte, rb.head-rb.tail)
	off := rb.tail % n
	c := copy(out, rb.data[off:])
	if uint64(c) < rb.head-rb.tail {
		copy(out[c:], rb.data)
	}
	rb.unlock()
	return out
}

func (rb *ringBuffer) clear() {
	rb.lock()
	rb.tail = rb.head
	rb.unlock()
}

type ringFileSink struct {
	name        string
	path        string
	level       Level
	format      Format
	capacity    int
	truncate    bool
	clearOnDump bool

	// registry maps OS thread id to that thread's buffer. The registry
	// owns the buffer storage, so a dump can still read the buffer of a
	// thread that has since exited.
	registry sync.Map // int -> *ringBuffer

	dumpMu sync.Mutex
}

func (s *ringFileSink) Name() string { return s.name }
func (s *ringFileSink) Level() Level { return s.level }

// Open clears stale dump content from a previous incarnation sharing the
// same backing file, when the Truncate policy asks for it. Unlike Reopen,
// which re-acquires a handle, Open owns the fresh-start decision.
func (s *ringFileSink) Open() error {
	if s.truncate && s.path != "" {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("truncating dump file: %w", err)
		}
		return f.Close()
	}
	return nil
}

func (s *ringFileSink) ring() *ringBuffer {
	tid := unix.Gettid()
	if v, ok := s.registry.Load(tid); ok {
		return v.(*ringBuffer)
	}
	v, _ := s.registry.LoadOrStore(tid, newRingBuffer(s.capacity))
	return v.(*ringBuffer)
}

// Write never blocks and never fails: the ring overwrites its oldest lines
// when full. A goroutine migrating threads mid-call is covered by the
// buffer's spinlock.
func (s *ringFileSink) Write(rec *Record) error {
	line := s.format.render(rec)
	s.ring().write([]byte(line))
	return nil
}

func (s *ringFileSink) Flush() error { return nil }

// Reopen is a no-op: the sink holds no persistent handle between dumps.
func (s *ringFileSink) Reopen() error { return nil }

// Dump walks the registry and writes every thread's retained lines, in
// per-thread write order with threads ordered by id, to the configured
// target. It never blocks writers beyond each buffer's brief snapshot copy
// and never emits a torn line.
func (s *ringFileSink) Dump() error {
	s.dumpMu.Lock()
	defer s.dumpMu.Unlock()

	fmt.Fprintln(os.Stderr, "flume: ringfile: start dumping")

	type entry struct {
		tid int
		rb  *ringBuffer
	}
	var rings []entry
	s.registry.Range(func(k, v interface{}) bool {
		rings = append(rings, entry{tid: k.(int), rb: v.(*ringBuffer)})
		return true
	})
	sort.Slice(rings, func(i, j int) bool { return rings[i].tid < rings[j].tid })

	write, done, err := s.dumpTarget()
	if err != nil {
		return err
	}
	defer done()

	for _, e := range rings {
		snap := e.rb.snapshot()
		if len(snap) == 0 {
			continue
		}
		if err := write(snap); err != nil {
			return errors.Wrap(err, "writing dump")
		}
		if s.clearOnDump {
			e.rb.clear()
		}
	}

	fmt.Fprintln(os.Stderr, "flume: ringfile: dump complete")
	return nil
}

// dumpTarget returns a writer for the dump destination. File targets
// append. The stdout target relays through a private pipe: the relay
// goroutine does the blocking writes to fd 1 while the dump side writes
// the pipe non-blocking, so a stalled consumer shows up here as a full
// pipe and aborts the dump instead of wedging producers. fd 1 itself is
// never switched to non-blocking; its flags live on an open file
// description shared with everything else writing stdout.
func (s *ringFileSink) dumpTarget() (write func([]byte) error, done func(), err error) {
	if s.path != "" {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening dump file: %w", err)
		}
		return func(b []byte) error {
			return writeFull(int(f.Fd()), b)
		}, func() { f.Close() }, nil
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, nil, fmt.Errorf("creating dump pipe: %w", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("setting dump pipe non-blocking: %w", err)
	}

	stdoutFd := int(os.Stdout.Fd())
	go func(rfd int) {
		defer unix.Close(rfd)
		buf := make([]byte, 32<<10)
		for {
			n, rerr := unix.Read(rfd, buf)
			if n > 0 {
				if writeFull(stdoutFd, buf[:n]) != nil {
					return
				}
			}
			if rerr == unix.EINTR {
				continue
			}
			// n == 0 is EOF after the write end closes.
			if rerr != nil || n == 0 {
				return
			}
		}
	}(fds[0])

	write = func(b []byte) error {
		deadline := time.Now().Add(time.Second)
		for len(b) > 0 {
			n, werr := unix.Write(fds[1], b)
			if n > 0 {
				b = b[n:]
			}
			switch werr {
			case nil:
			case unix.EINTR:
			case unix.EAGAIN:
				if time.Now().After(deadline) {
					return errors.New("stdout stalled, dump truncated")
				}
				time.Sleep(time.Millisecond)
			default:
				return werr
			}
		}
		return nil
	}
	return write, func() { unix.Close(fds[1]) }, nil
}

// Close drops the registry; the buffers are plain memory.
func (s *ringFileSink) Close() error {
	s.registry.Range(func(k, _ interface{}) bool {
		s.registry.Delete(k)
		return true
	})
	return nil
}
