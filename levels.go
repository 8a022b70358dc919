package flume

import (
	"fmt"
	"strings"
)

// Level is the severity of a log record. Levels are ordered: a sink with
// minimum level L admits every record at L or above.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

// String returns the upper-case level name.
func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// valid reports whether l is one of the defined levels.
func (l Level) valid() bool {
	return l >= LevelTrace && l <= LevelError
}

// ParseLevel converts a level name to a Level. Matching is case-insensitive
// and accepts "warning" as an alias for "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unparseable level %q", s)
}
