package flume

import (
	"fmt"
	"hash"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NATS configures a sink that forwards formatted records to a NATS subject.
// Delivery is best effort within the client's bounded reconnect window: a
// record arriving while the client is disconnected is buffered by the client
// up to its limits or dropped with the error reported. The sink never blocks
// logging on a dead broker.
type NATS struct {
	// URL is the server address, e.g. nats://127.0.0.1:4222.
	URL string

	// Subject receives one message per record.
	Subject string

	MinLevel Level
	Format   Format

	// Timeout bounds the initial connect and each Flush. Defaults to 5s.
	Timeout time.Duration

	// MaxReconnects caps the client's reconnect attempts after a lost
	// connection. Defaults to 10; never unbounded.
	MaxReconnects int

	// ClientName is reported to the server for monitoring. Optional.
	ClientName string
}

// Level returns the sink's minimum admitted level.
func (c NATS) Level() Level { return c.MinLevel }

// New builds the NATS sink.
func (c NATS) New() (Sink, error) {
	if c.URL == "" {
		return nil, configErr("nats", "URL", "must not be empty")
	}
	if c.Subject == "" {
		return nil, configErr("nats", "Subject", "must not be empty")
	}
	if strings.ContainsAny(c.Subject, " \t\r\n") {
		return nil, configErr("nats", "Subject", "must not contain whitespace")
	}
	if !c.MinLevel.valid() {
		return nil, configErr("nats", "MinLevel", "out of range")
	}
	if c.Timeout < 0 {
		return nil, configErr("nats", "Timeout", "must not be negative")
	}
	if c.MaxReconnects < 0 {
		return nil, configErr("nats", "MaxReconnects", "must not be negative")
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultNATSTimeout
	}
	maxReconnects := c.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	return &natsSink{
		name:          "nats:" + c.Subject,
		url:           c.URL,
		subject:       c.Subject,
		level:         c.MinLevel,
		format:        c.Format,
		timeout:       timeout,
		maxReconnects: maxReconnects,
		clientName:    c.ClientName,
	}, nil
}

func (c NATS) checksum(h hash.Hash64) {
	hashString(h, "NATS")
	hashString(h, c.URL)
	hashString(h, c.Subject)
	hashInt(h, int64(c.MinLevel))
	hashFormat(h, c.Format)
	hashDuration(h, c.Timeout)
	hashInt(h, int64(c.MaxReconnects))
	hashString(h, c.ClientName)
}

type natsSink struct {
	name          string
	url           string
	subject       string
	level         Level
	format        Format
	timeout       time.Duration
	maxReconnects int
	clientName    string

	mu   sync.Mutex
	conn *nats.Conn
}

func (s *natsSink) Name() string { return s.name }
func (s *natsSink) Level() Level { return s.level }

func (s *natsSink) connect() (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Timeout(s.timeout),
		nats.MaxReconnects(s.maxReconnects),
		nats.ReconnectWait(time.Second),
	}
	if s.clientName != "" {
		opts = append(opts, nats.Name(s.clientName))
	}
	conn, err := nats.Connect(s.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS %s: %w", s.url, err)
	}
	return conn, nil
}

func (s *natsSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.connect()
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Write publishes one formatted record. While the client is between
// reconnect attempts the publish lands in its pending buffer; once the
// bounded reconnects are exhausted the connection is closed and the record
// is dropped with an error.
func (s *natsSink) Write(rec *Record) error {
	line := s.format.render(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSinkClosed
	}
	if s.conn.IsClosed() {
		return errors.Wrap(ErrNotConnected, "NATS connection gone, dropping record")
	}
	if err := s.conn.Publish(s.subject, []byte(line)); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.subject, err)
	}
	return nil
}

func (s *natsSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSinkClosed
	}
	if s.conn.IsClosed() {
		return errors.Wrap(ErrNotConnected, "NATS connection gone")
	}
	if err := s.conn.FlushTimeout(s.timeout); err != nil {
		return fmt.Errorf("flushing NATS: %w", err)
	}
	return nil
}

// Reopen discards the client and connects fresh, resetting an exhausted
// reconnect budget.
func (s *natsSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSinkClosed
	}
	conn, err := s.connect()
	if err != nil {
		return err
	}
	s.conn.Close()
	s.conn = conn
	return nil
}

func (s *natsSink) Dump() error { return ErrDumpUnsupported }

func (s *natsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if !s.conn.IsClosed() {
		s.conn.FlushTimeout(s.timeout)
		s.conn.Close()
	}
	s.conn = nil
	return nil
}
