package flume

import "fmt"

// FormatFunc renders one record into the line a sink writes. The returned
// string must be newline-terminated for the file sinks to keep their
// whole-line guarantees.
type FormatFunc func(FormatRecord) string

// Format pairs a time layout with a line formatting function. It is applied
// per sink at write time.
type Format struct {
	// TimeLayout is a time.Format layout used by FormatRecord.Time.
	TimeLayout string
	// Line renders the record. When nil, DefaultFormat.Line is used.
	Line FormatFunc
}

func (f Format) render(rec *Record) string {
	layout := f.TimeLayout
	if layout == "" {
		layout = DefaultTimeLayout
	}
	line := f.Line
	if line == nil {
		line = defaultLine
	}
	return line(FormatRecord{rec: rec, layout: layout})
}

// FormatRecord gives a FormatFunc read access to the record being rendered.
type FormatRecord struct {
	rec    *Record
	layout string
}

// Time returns the record timestamp rendered with the format's time layout.
func (r FormatRecord) Time() string { return r.rec.Time.Format(r.layout) }

// TimestampNano returns the record timestamp as nanoseconds since the epoch.
func (r FormatRecord) TimestampNano() int64 { return r.rec.Time.UnixNano() }

// Level returns the record level name.
func (r FormatRecord) Level() string { return r.rec.Level.String() }

// File returns the source file basename of the call site.
func (r FormatRecord) File() string { return r.rec.File }

// Line returns the source line of the call site.
func (r FormatRecord) Line() int { return r.rec.Line }

// Message returns the formatted message.
func (r FormatRecord) Message() string { return r.rec.Message }

// Key returns the value of a key-value field rendered as " (value)", or the
// empty string when the record does not carry the key. The parenthesized
// form lets formats append optional fields without conditionals.
func (r FormatRecord) Key(key string) string {
	if v, ok := r.rec.Field(key); ok {
		return fmt.Sprintf(" (%s)", v)
	}
	return ""
}

// DefaultTimeLayout renders microsecond-resolution local time.
const DefaultTimeLayout = "2006-01-02 15:04:05.000000"

func defaultLine(r FormatRecord) string {
	return fmt.Sprintf("[%s][%s][%s:%d] %s\n", r.Time(), r.Level(), r.File(), r.Line(), r.Message())
}

func messageLine(r FormatRecord) string {
	return r.Message() + "\n"
}

// DefaultFormat is the full debug line: time, level, source location,
// message.
var DefaultFormat = Format{TimeLayout: DefaultTimeLayout, Line: defaultLine}

// MessageOnlyFormat renders just the message. Useful for transports like
// syslog that frame their own metadata.
var MessageOnlyFormat = Format{TimeLayout: DefaultTimeLayout, Line: messageLine}
