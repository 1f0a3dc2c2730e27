// Package observability defines the logging capability injected into the
// reconciliation engine. The engine never logs through process globals; the
// owning process hands it a Logger at construction.
package observability

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Nop returns a logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

// NewStdLogger adapts a standard library logger. Debug output is gated by
// the debug flag; fields render as sorted key=value pairs.
func NewStdLogger(base *log.Logger, debug bool) Logger {
	if base == nil {
		base = log.Default()
	}
	return &stdLogger{base: base, debug: debug}
}

type stdLogger struct {
	base  *log.Logger
	debug bool
}

func (l *stdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.base.Printf("DEBUG %s%s", msg, renderFields(fields))
}

func (l *stdLogger) Info(msg string, fields ...Field) {
	l.base.Printf("INFO %s%s", msg, renderFields(fields))
}

func (l *stdLogger) Error(msg string, fields ...Field) {
	l.base.Printf("ERROR %s%s", msg, renderFields(fields))
}

func renderFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Key) == "" {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	if len(pairs) == 0 {
		return ""
	}
	sort.Strings(pairs)
	return " " + strings.Join(pairs, " ")
}
