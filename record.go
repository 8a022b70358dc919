package flume

import (
	"path"
	"runtime"
	"time"
)

// Field is one key-value pair attached to a record. Order is preserved.
type Field struct {
	Key   string
	Value string
}

// Record is an immutable snapshot of one log event. It is owned by the call
// that produced it until consumed by the dispatcher; sinks only read it.
type Record struct {
	Level   Level
	Time    time.Time // wall clock with monotonic reading
	File    string    // source file basename
	Line    int
	Message string
	Fields  []Field
}

// NewRecord builds a record at the given level, capturing the caller's
// source location. calldepth is the number of stack frames between the log
// call site and NewRecord; pass 0 when calling it directly.
func NewRecord(level Level, calldepth int, message string, fields ...Field) *Record {
	r := &Record{
		Level:   level,
		Time:    time.Now(),
		Message: message,
		Fields:  fields,
	}
	if _, file, line, ok := runtime.Caller(calldepth + 1); ok {
		r.File = path.Base(file)
		r.Line = line
	}
	return r
}

// Field returns the value for key and whether it is present.
func (r *Record) Field(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}
