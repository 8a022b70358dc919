package flume

import (
	"encoding/binary"
	"hash"
	"reflect"
	"time"
)

// Sink is an independently configured log output destination. Sinks own
// their I/O resource and their minimum level. All methods except Write are
// called from coordination paths (build, signal bridge, retirement); Write
// is called concurrently from every logging goroutine and each sink
// serializes its own mutation.
type Sink interface {
	// Name identifies the sink in error reports.
	Name() string

	// Level is the sink's minimum admitted level.
	Level() Level

	// Open acquires the underlying resource. Called once by the builder
	// before the pipeline is published.
	Open() error

	// Write renders and emits one record. Errors are reported per write and
	// never abort the dispatcher or other sinks.
	Write(rec *Record) error

	// Flush pushes buffered data to the underlying resource.
	Flush() error

	// Reopen re-acquires the underlying resource, e.g. after an external
	// tool rotated the file out from under the sink.
	Reopen() error

	// Dump writes forensic state to its configured target. Sinks without
	// forensic state return ErrDumpUnsupported.
	Dump() error

	// Close flushes and releases the resource. The sink rejects writes
	// afterwards.
	Close() error
}

// rotator is implemented by sinks that manage their own rotation. The
// signal bridge prefers Rotate over Reopen for ActionRotate.
type rotator interface {
	Rotate() error
}

// SinkConfig describes one sink declaratively. Configs are hashed into the
// pipeline checksum so an unchanged configuration can skip a rebuild.
type SinkConfig interface {
	// Level is the sink's minimum admitted level.
	Level() Level

	// New builds the sink. It validates the configuration but does not
	// touch the underlying resource; Open does.
	New() (Sink, error)

	// checksum mixes the configuration into the pipeline hash. Every
	// implementation writes a distinguishing tag first so two sink kinds
	// with identical fields never collide.
	checksum(h hash.Hash64)
}

func hashString(h hash.Hash64, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func hashInt(h hash.Hash64, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	h.Write(b[:])
}

func hashBool(h hash.Hash64, v bool) {
	if v {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}

func hashDuration(h hash.Hash64, d time.Duration) {
	hashInt(h, int64(d))
}

// hashFormat identifies a Format by its time layout and the code address of
// its line function, mirroring how config identity is defined: two configs
// with the same function pointer and layout format identically.
func hashFormat(h hash.Hash64, f Format) {
	hashString(h, f.TimeLayout)
	if f.Line != nil {
		hashInt(h, int64(reflect.ValueOf(f.Line).Pointer()))
	} else {
		hashInt(h, 0)
	}
}
