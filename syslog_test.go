package flume

import (
	"bufio"
	"net"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syslogCollector is an in-process TCP syslog daemon stand-in.
type syslogCollector struct {
	ln    net.Listener
	lines chan string

	mu    sync.Mutex
	conns []net.Conn
}

func startCollector(t *testing.T) *syslogCollector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &syslogCollector{ln: ln, lines: make(chan string, 100)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			c.mu.Lock()
			c.conns = append(c.conns, conn)
			c.mu.Unlock()
			go func(conn net.Conn) {
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if line != "" {
						c.lines <- line
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { c.close() })
	return c
}

func (c *syslogCollector) addr() string { return c.ln.Addr().String() }

func (c *syslogCollector) connCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *syslogCollector) closeConns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Close()
	}
}

func (c *syslogCollector) close() {
	c.ln.Close()
	c.closeConns()
}

func (c *syslogCollector) receive(t *testing.T) string {
	t.Helper()
	select {
	case line := <-c.lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no syslog frame received")
		return ""
	}
}

func TestSyslogValidation(t *testing.T) {
	_, err := Syslog{Network: "sctp", Addr: "x"}.New()
	assert.Error(t, err, "unsupported network")

	_, err = Syslog{Network: "tcp"}.New()
	assert.Error(t, err, "network without address")

	_, err = Syslog{Facility: Facility(99)}.New()
	assert.Error(t, err, "facility out of range")

	_, err = Syslog{Timeout: -time.Second}.New()
	assert.Error(t, err, "negative timeout")
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, 7, severity(LevelTrace))
	assert.Equal(t, 7, severity(LevelDebug))
	assert.Equal(t, 6, severity(LevelInfo))
	assert.Equal(t, 4, severity(LevelWarn))
	assert.Equal(t, 3, severity(LevelError))
}

func TestSyslogFrame(t *testing.T) {
	s := &syslogSink{
		tag:      "flumed",
		hostname: "box1",
		facility: FacilityLocal0,
		pid:      42,
	}
	rec := NewRecord(LevelError, 0, "ignored")
	frame := string(s.frame(rec, "it broke\n"))
	// local0.err: 16<<3 | 3 = 131
	assert.Regexp(t, `^<131>\w{3} [ \d]\d \d{2}:\d{2}:\d{2} box1 flumed\[42\]: it broke\n$`, frame)

	s.local = true
	frame = string(s.frame(rec, "it broke\n"))
	assert.NotContains(t, frame, "box1", "local transport must omit the hostname")
}

func TestSyslogSendOverTCP(t *testing.T) {
	c := startCollector(t)
	s, err := Syslog{
		Network:  "tcp",
		Addr:     c.addr(),
		Tag:      "flumetest",
		Facility: FacilityLocal0,
		Format:   MessageOnlyFormat,
		Timeout:  time.Second,
	}.New()
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	require.NoError(t, s.Write(NewRecord(LevelInfo, 0, "over tcp")))

	frame := c.receive(t)
	assert.Regexp(t, regexp.MustCompile(`^<134>`), frame, "local0.info PRI")
	assert.Contains(t, frame, "flumetest[")
	assert.Contains(t, frame, "over tcp")
}

// A daemon restart: the server drops the connection, the next writes run
// one bounded reconnect and delivery resumes on a fresh connection.
func TestSyslogReconnectsAfterPeerClose(t *testing.T) {
	c := startCollector(t)
	s, err := Syslog{
		Network: "tcp",
		Addr:    c.addr(),
		Format:  MessageOnlyFormat,
		Timeout: time.Second,
	}.New()
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	require.NoError(t, s.Write(NewRecord(LevelInfo, 0, "before restart")))
	c.receive(t)

	c.closeConns()

	require.Eventually(t, func() bool {
		s.Write(NewRecord(LevelInfo, 0, "after restart"))
		return c.connCount() >= 2
	}, 5*time.Second, 20*time.Millisecond, "sink never reconnected")
}

// With the daemon fully gone the reconnect window expires and the record is
// dropped with ErrNotConnected; the sink stays usable and never blocks for
// longer than the configured timeout.
func TestSyslogDropsWhenDaemonGone(t *testing.T) {
	c := startCollector(t)
	s, err := Syslog{
		Network: "tcp",
		Addr:    c.addr(),
		Format:  MessageOnlyFormat,
		Timeout: 200 * time.Millisecond,
	}.New()
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	c.close()

	var dropErr error
	for i := 0; i < 20 && dropErr == nil; i++ {
		start := time.Now()
		dropErr = s.Write(NewRecord(LevelInfo, 0, "doomed"))
		require.Less(t, time.Since(start), 3*time.Second, "write blocked past the reconnect window")
	}
	require.Error(t, dropErr)
	assert.True(t, errors.Is(dropErr, ErrNotConnected), "got %v", dropErr)
}

func TestSyslogWriteAfterClose(t *testing.T) {
	c := startCollector(t)
	s, err := Syslog{Network: "tcp", Addr: c.addr(), Format: MessageOnlyFormat}.New()
	require.NoError(t, err)
	require.NoError(t, s.Open())
	require.NoError(t, s.Close())
	assert.Equal(t, ErrSinkClosed, s.Write(NewRecord(LevelInfo, 0, "late")))
}
