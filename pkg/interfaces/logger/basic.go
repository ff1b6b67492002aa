package logger

import (
	"fmt"
	"strings"
	"sync"
)

// Basic prints log lines to stdout using fmt.Printf.
type Basic struct {
	mu     *sync.Mutex
	fields []Field
}

var _ Logger = (*Basic)(nil)

// New returns a basic logger that writes to stdout.
func New() *Basic {
	return &Basic{mu: &sync.Mutex{}}
}

// Default returns the default logger implementation.
func Default() Logger {
	return New()
}

// With returns a logger that includes the fields on each log line.
func (l *Basic) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	next := &Basic{mu: l.mu}
	next.fields = append(next.fields, l.fields...)
	next.fields = append(next.fields, fields...)
	return next
}

func (l *Basic) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields) }
func (l *Basic) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields) }
func (l *Basic) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields) }
func (l *Basic) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields) }

func (l *Basic) log(level, msg string, fields []Field) {
	line := fmt.Sprintf("[%s] %s", level, msg)
	if rendered := formatFields(append(l.fields, fields...)); rendered != "" {
		line += " " + rendered
	}
	l.mu.Lock()
	fmt.Printf("%s\n", line)
	l.mu.Unlock()
}

func formatFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	return strings.Join(parts, " ")
}
