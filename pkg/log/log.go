// Package log provides namespace-scoped debug logging in the style of the
// Node `debug` module: each component owns a Log with a prefix such as
// "socket.io:client", and the DEBUG environment variable selects which
// prefixes actually print. Patterns are comma-separated and may end in a
// `*` wildcard:
//
//	DEBUG=socket.io:*                        everything
//	DEBUG=socket.io:client,socket.io:parser  two components
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gookit/color"
)

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
)

// SetOutput redirects every logger's output; tests use it to capture lines.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// Log writes lines tagged with a fixed, colored prefix. Debug lines only
// appear when the prefix matches the DEBUG environment variable.
type Log struct {
	prefix  string
	enabled bool
}

// NewLog builds a logger for the given prefix. The DEBUG match is decided
// once, at construction.
func NewLog(prefix string) *Log {
	return &Log{
		prefix:  prefix,
		enabled: debugEnabled(os.Getenv("DEBUG"), prefix),
	}
}

// debugEnabled reports whether any comma-separated pattern selects prefix.
func debugEnabled(patterns string, prefix string) bool {
	for _, pattern := range strings.Split(patterns, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if stem, wild := strings.CutSuffix(pattern, "*"); wild {
			if strings.HasPrefix(prefix, stem) {
				return true
			}
		} else if pattern == prefix {
			return true
		}
	}
	return false
}

func (l *Log) Prefix() string {
	return l.prefix
}

// Enabled reports whether Debug lines of this logger print.
func (l *Log) Enabled() bool {
	return l.enabled
}

func (l *Log) println(tag color.Color, format string, args ...any) {
	outputMu.RLock()
	defer outputMu.RUnlock()
	fmt.Fprintln(output, tag.Sprint(l.prefix), fmt.Sprintf(format, args...))
}

// Debug prints a formatted line when the logger's prefix is selected by
// the DEBUG environment variable.
func (l *Log) Debug(format string, args ...any) {
	if !l.enabled {
		return
	}
	l.println(color.Magenta, format, args...)
}

// Warning prints a formatted warning line unconditionally.
func (l *Log) Warning(format string, args ...any) {
	l.println(color.Yellow, format, args...)
}

// Error prints a formatted error line unconditionally.
func (l *Log) Error(format string, args ...any) {
	l.println(color.Red, format, args...)
}
