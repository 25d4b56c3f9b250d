// Package logger is the process-wide leveled logger. Every line carries the
// level and the name of the component that wrote it.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

// ANSI colors per level; SILENT never prints
var levelColors = [...]string{"\033[36m", "\033[32m", "\033[33m", "\033[31m", ""}

const resetColor = "\033[0m"

// Options configures the process logger
type Options struct {
	Level LogLevel
	Color bool
	// File adds a rotating log file next to stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Logger writes "[LEVEL] [Module] message" lines
type Logger struct {
	level    atomic.Int32
	useColor bool
	out      *log.Logger
	rotator  *lumberjack.Logger
}

var (
	std     atomic.Pointer[Logger]
	stdOnce sync.Once
)

// Init installs the process logger; later calls (and Setup) are ignored
func Init(level LogLevel, output io.Writer, useColor bool) {
	stdOnce.Do(func() { std.Store(New(level, output, useColor)) })
}

// Setup installs the process logger from opts. Close the result on exit to
// release the log file.
func Setup(opts Options) io.Closer {
	var installed *Logger
	stdOnce.Do(func() {
		installed = NewWithOptions(opts)
		std.Store(installed)
	})
	if installed == nil {
		return io.NopCloser(nil)
	}
	return installed
}

// New creates a Logger writing to output (stderr when nil)
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	l := &Logger{
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	l.level.Store(int32(level))
	return l
}

// NewWithOptions creates a Logger for opts. With a File the output is
// duplicated into a lumberjack rotator and colors are turned off.
func NewWithOptions(opts Options) *Logger {
	if opts.File == "" {
		return New(opts.Level, os.Stderr, opts.Color)
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	rot := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}
	l := New(opts.Level, io.MultiWriter(os.Stderr, rot), false)
	l.rotator = rot
	return l
}

func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

func (l *Logger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

func (l *Logger) GetLevel() LogLevel { return LogLevel(l.level.Load()) }

func (l *Logger) logf(level LogLevel, module, format string, args ...any) {
	if level >= SILENT || level < l.GetLevel() {
		return
	}
	var b strings.Builder
	if l.useColor {
		b.WriteString(levelColors[level])
	}
	b.WriteString("[" + levelNames[level] + "]")
	if l.useColor {
		b.WriteString(resetColor)
	}
	if module != "" {
		b.WriteString(" [" + module + "]")
	}
	b.WriteByte(' ')
	fmt.Fprintf(&b, format, args...)
	l.out.Print(b.String())
}

func (l *Logger) Debug(module, format string, args ...any) { l.logf(DEBUG, module, format, args...) }
func (l *Logger) Info(module, format string, args ...any)  { l.logf(INFO, module, format, args...) }
func (l *Logger) Warn(module, format string, args ...any)  { l.logf(WARN, module, format, args...) }
func (l *Logger) Error(module, format string, args ...any) { l.logf(ERROR, module, format, args...) }

// Package-level helpers are no-ops until Init or Setup ran.

func SetLevel(level LogLevel) {
	if l := std.Load(); l != nil {
		l.SetLevel(level)
	}
}

func GetLevel() LogLevel {
	if l := std.Load(); l != nil {
		return l.GetLevel()
	}
	return INFO
}

func emit(level LogLevel, module, format string, args []any) {
	if l := std.Load(); l != nil {
		l.logf(level, module, format, args...)
	}
}

func Debug(module, format string, args ...any) { emit(DEBUG, module, format, args) }
func Info(module, format string, args ...any)  { emit(INFO, module, format, args) }
func Warn(module, format string, args ...any)  { emit(WARN, module, format, args) }
func Error(module, format string, args ...any) { emit(ERROR, module, format, args) }

// ParseLevel accepts debug, info, warn(ing), error and silent/none in any case
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %q", s)
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// UnmarshalText lets a LogLevel be written by name in YAML
func (l *LogLevel) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}
