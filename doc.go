// Package flume is a structured logging engine for long-running,
// multi-process and multi-goroutine programs. It routes log records to a set
// of independently configured sinks, supports hot reconfiguration without a
// process restart, and provides an in-memory forensic sink for diagnosing
// deadlocks and races without the lock contention of synchronous I/O.
//
// Sinks:
//
//   - Console: stdout/stderr output.
//   - RawFile: append-only file safe for concurrent writers across process
//     boundaries; every record is one kernel-level append.
//   - BufFile: buffered file with merged I/O, delayed flush, and
//     self-managed rotation with archiving and compression.
//   - RingFile: per-thread in-memory ring buffers dumped on demand, signal,
//     or panic; the write fast path takes no cross-thread lock.
//   - Syslog: local or remote syslog forwarding with bounded reconnect.
//   - NATS: record forwarding to a NATS subject.
//
// A Pipeline is the complete active configuration (sinks, levels, signal
// bindings) published behind a single atomically swapped reference, so
// reconfiguration never overlaps a write. The Builder constructs and
// installs pipelines:
//
//	p, err := flume.NewBuilder().
//		RawFile(flume.RawFile{Path: "/var/log/app.log", MinLevel: flume.LevelDebug}).
//		RawFile(flume.RawFile{Path: "/var/log/app.log.wf", MinLevel: flume.LevelError}).
//		Signal(syscall.SIGUSR1, flume.ActionReopen).
//		Build()
//	if err != nil {
//		// configuration error
//	}
//	flume.Log(flume.NewRecord(flume.LevelInfo, 0, "engine started"))
//
// Test suites should call Builder.Test(), which disables signal handler
// installation and makes repeated reconfiguration cheap: rebuilding with an
// unchanged configuration reuses the active pipeline instead of reopening
// and truncating files.
package flume
