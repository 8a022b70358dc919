package flume

import (
	"fmt"
	"hash"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Facility is the syslog facility encoded into each message's PRI field.
type Facility int

// Standard syslog facilities.
const (
	FacilityKern Facility = iota
	FacilityUser
	FacilityMail
	FacilityDaemon
	FacilityAuth
	FacilitySyslog
	FacilityLPR
	FacilityNews
	FacilityUUCP
	FacilityCron
	FacilityAuthPriv
	FacilityFTP
)

// Local-use facilities.
const (
	FacilityLocal0 Facility = iota + 16
	FacilityLocal1
	FacilityLocal2
	FacilityLocal3
	FacilityLocal4
	FacilityLocal5
	FacilityLocal6
	FacilityLocal7
)

// localSocketPaths are the well-known syslog daemon sockets probed when no
// explicit address is configured.
var localSocketPaths = []string{"/dev/log", "/var/run/syslog", "/var/run/log"}

// Syslog configures a sink that frames records per RFC 3164 and sends them
// to a syslog daemon, local or remote. Delivery is best effort: on a send
// failure the sink marks itself disconnected, the next write runs one
// time-bounded reconnect and retries the send once, and a record that still
// cannot be sent is dropped with the error reported. A dead daemon never
// stalls or kills the process.
type Syslog struct {
	// Network selects the transport: "tcp", "udp", "unixgram" or "unix".
	// Empty means probe the local daemon sockets.
	Network string

	// Addr is the daemon address, host:port for tcp/udp or a socket path
	// for unix transports. Required when Network is set.
	Addr string

	// Tag identifies the sender in each message. Defaults to the program
	// name.
	Tag string

	Facility Facility
	MinLevel Level

	// Format renders the message body. MessageOnlyFormat is the usual
	// choice since syslog carries its own timestamp and origin.
	Format Format

	// Timeout bounds both the initial dial and each per-write reconnect
	// attempt window. Defaults to 5s.
	Timeout time.Duration
}

// Level returns the sink's minimum admitted level.
func (c Syslog) Level() Level { return c.MinLevel }

// New builds the syslog sink.
func (c Syslog) New() (Sink, error) {
	switch c.Network {
	case "", "tcp", "udp", "unixgram", "unix":
	default:
		return nil, configErr("syslog", "Network", "must be tcp, udp, unixgram or unix")
	}
	if c.Network != "" && c.Addr == "" {
		return nil, configErr("syslog", "Addr", "required when Network is set")
	}
	if c.Facility < FacilityKern || c.Facility > FacilityLocal7 {
		return nil, configErr("syslog", "Facility", "out of range")
	}
	if !c.MinLevel.valid() {
		return nil, configErr("syslog", "MinLevel", "out of range")
	}
	if c.Timeout < 0 {
		return nil, configErr("syslog", "Timeout", "must not be negative")
	}
	tag := c.Tag
	if tag == "" {
		tag = filepath.Base(os.Args[0])
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultSyslogTimeout
	}
	hostname, _ := os.Hostname()
	return &syslogSink{
		name:     "syslog:" + c.Network + ":" + c.Addr,
		network:  c.Network,
		addr:     c.Addr,
		tag:      tag,
		hostname: hostname,
		facility: c.Facility,
		level:    c.MinLevel,
		format:   c.Format,
		timeout:  timeout,
		pid:      os.Getpid(),
	}, nil
}

func (c Syslog) checksum(h hash.Hash64) {
	hashString(h, "Syslog")
	hashString(h, c.Network)
	hashString(h, c.Addr)
	hashString(h, c.Tag)
	hashInt(h, int64(c.Facility))
	hashInt(h, int64(c.MinLevel))
	hashFormat(h, c.Format)
	hashDuration(h, c.Timeout)
}

type syslogSink struct {
	name     string
	network  string
	addr     string
	tag      string
	hostname string
	facility Facility
	level    Level
	format   Format
	timeout  time.Duration
	pid      int

	mu     sync.Mutex
	conn   net.Conn
	local  bool // unix domain transport; RFC 3164 omits the hostname then
	closed bool
}

func (s *syslogSink) Name() string { return s.name }
func (s *syslogSink) Level() Level { return s.level }

func (s *syslogSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialLocked()
}

// dialLocked establishes the daemon connection. With no explicit address it
// probes the conventional local sockets. Called with s.mu held.
func (s *syslogSink) dialLocked() error {
	if s.network != "" {
		conn, err := net.DialTimeout(s.network, s.addr, s.timeout)
		if err != nil {
			return fmt.Errorf("dialing syslog %s %s: %w", s.network, s.addr, err)
		}
		s.conn = conn
		s.local = s.network == "unixgram" || s.network == "unix"
		return nil
	}
	for _, network := range []string{"unixgram", "unix"} {
		for _, path := range localSocketPaths {
			conn, err := net.DialTimeout(network, path, s.timeout)
			if err == nil {
				s.conn = conn
				s.local = true
				return nil
			}
		}
	}
	return errors.Wrap(ErrNotConnected, "no local syslog socket found")
}

// reconnectLocked runs one time-bounded reconnect window. Called with s.mu
// held after the connection was torn down.
func (s *syslogSink) reconnectLocked() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = s.timeout
	return backoff.Retry(s.dialLocked, bo)
}

// severity maps a record level to a syslog severity code.
func severity(l Level) int {
	switch l {
	case LevelError:
		return 3 // err
	case LevelWarn:
		return 4 // warning
	case LevelInfo:
		return 6 // info
	default:
		return 7 // debug
	}
}

// frame builds the RFC 3164 packet. Local transports omit the hostname per
// the BSD convention.
func (s *syslogSink) frame(rec *Record, msg string) []byte {
	pri := int(s.facility)<<3 | severity(rec.Level)
	stamp := rec.Time.Format(time.Stamp)
	if s.local {
		return []byte(fmt.Sprintf("<%d>%s %s[%d]: %s", pri, stamp, s.tag, s.pid, msg))
	}
	return []byte(fmt.Sprintf("<%d>%s %s %s[%d]: %s", pri, stamp, s.hostname, s.tag, s.pid, msg))
}

// Write sends one framed record. A failed send tears the connection down,
// runs a single bounded reconnect and retries once; if that also fails the
// record is dropped and the error returned.
func (s *syslogSink) Write(rec *Record) error {
	msg := s.format.render(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	if s.conn == nil {
		if err := s.reconnectLocked(); err != nil {
			return errors.Wrap(ErrNotConnected, "syslog reconnect failed, dropping record")
		}
	}

	frame := s.frame(rec, msg)
	if _, err := s.conn.Write(frame); err == nil {
		return nil
	}
	s.conn.Close()
	s.conn = nil

	if err := s.reconnectLocked(); err != nil {
		return errors.Wrap(ErrNotConnected, "syslog reconnect failed, dropping record")
	}
	if _, err := s.conn.Write(frame); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("sending to syslog after reconnect: %w", err)
	}
	return nil
}

func (s *syslogSink) Flush() error { return nil }

// Reopen drops the current connection and dials fresh.
func (s *syslogSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return s.dialLocked()
}

func (s *syslogSink) Dump() error { return ErrDumpUnsupported }

func (s *syslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
