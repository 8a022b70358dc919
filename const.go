package flume

import "time"

const (
	// defaultFlushSize keeps buffered writes at or under one page so a line
	// is never split across flushes during reload or graceful restart.
	defaultFlushSize = 4096

	// defaultFlushInterval is the background flush period for BufFile.
	defaultFlushInterval = time.Second

	// maxFlushInterval caps the delay between a write and it reaching disk.
	maxFlushInterval = time.Second

	defaultSyslogTimeout = 5 * time.Second
	defaultNATSTimeout   = 5 * time.Second

	// defaultRingSize is the per-thread ring buffer capacity in bytes.
	defaultRingSize = 1 << 20

	defaultCompressWorkers = 1
)

// ExitCodePanic is the process exit status used when the panic guard
// terminates the process after dumping forensic state. Distinguished from
// the Go runtime's status 2 so supervisors can tell a guarded crash from an
// unguarded one.
const ExitCodePanic = 0x70

// ArchiveTimeFormat is the timestamp format used for archived log files.
// The format is sortable and includes millisecond precision.
const ArchiveTimeFormat = "20060102-150405.000"

// CompressionType defines the compression algorithm applied to archives.
type CompressionType int

const (
	// CompressionNone means archives are kept as-is.
	CompressionNone CompressionType = iota
	// CompressionGzip compresses archives with gzip.
	CompressionGzip
)
