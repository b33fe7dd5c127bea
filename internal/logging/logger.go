// Package logging provides the leveled, component-tagged logger used across
// the engine. It mirrors the teacher's internal/utils.ComponentLogger: a
// printf-style API with a colorized "[COMPONENT]" prefix and a per-logger
// set of enabled levels.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Level is a logging severity.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface the rest of the engine depends on. Subsystems
// accept a Logger (never a concrete *ComponentLogger) so tests can inject a
// recording fake.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config configures a ComponentLogger.
type Config struct {
	Component     string
	Color         color.Attribute
	EnabledLevels []Level
	Output        *log.Logger // defaults to the standard logger
}

// ComponentLogger tags every line with a colorized component name and
// filters by a configured set of enabled levels.
type ComponentLogger struct {
	mu      sync.Mutex
	name    string
	colorFn func(format string, a ...any) string
	enabled map[Level]bool
	out     *log.Logger
}

// New creates a ComponentLogger from the given configuration.
func New(cfg Config) *ComponentLogger {
	enabled := make(map[Level]bool, len(cfg.EnabledLevels))
	if len(cfg.EnabledLevels) == 0 {
		enabled[DEBUG] = true
		enabled[INFO] = true
		enabled[WARN] = true
		enabled[ERROR] = true
	}
	for _, lvl := range cfg.EnabledLevels {
		enabled[lvl] = true
	}
	out := cfg.Output
	if out == nil {
		out = log.Default()
	}
	c := color.New(cfg.Color)
	if cfg.Color == 0 {
		c = color.New(color.FgHiBlack)
	}
	return &ComponentLogger{
		name:    cfg.Component,
		colorFn: c.Sprintf,
		enabled: enabled,
		out:     out,
	}
}

// NewComponentLogger is an alias kept close to the teacher's constructor
// name for readers grepping both codebases.
func NewComponentLogger(cfg Config) *ComponentLogger { return New(cfg) }

func (l *ComponentLogger) log(lvl Level, format string, args ...any) {
	if !l.enabled[lvl] {
		return
	}
	msg := fmt.Sprintf(format, args...)
	prefix := l.colorFn("[%s]", l.name)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("%s [%s] %s", prefix, lvl, msg)
}

func (l *ComponentLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *ComponentLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *ComponentLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *ComponentLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

// nop swallows everything; used by OrNop.
type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// OrNop returns l if non-nil, or a no-op Logger otherwise. Subsystems call
// this once at construction so call sites never need a nil check.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

// Default returns a ComponentLogger writing to stderr under the given
// component name, with all levels enabled.
func Default(component string) *ComponentLogger {
	return New(Config{
		Component:     component,
		EnabledLevels: []Level{DEBUG, INFO, WARN, ERROR},
		Output:        log.New(os.Stderr, "", log.LstdFlags),
	})
}
