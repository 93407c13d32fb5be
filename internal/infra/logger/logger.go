package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

type Logger struct {
	fileLogger    *log.Logger
	stdout        io.Writer
	level         Level
	includeStdout bool
	tag           string

	// shared by every tagged child so stdout lines never interleave
	mu *sync.Mutex
}

// New opens (or creates) the log file at filePath. An empty path logs to stdout only.
func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	var sink io.Writer = io.Discard
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		sink = f
	}

	return &Logger{
		fileLogger:    log.New(sink, "", 0),
		stdout:        os.Stdout,
		level:         level,
		includeStdout: includeStdout,
		mu:            &sync.Mutex{},
	}, nil
}

// NewWriter logs every level to w. Used by tests and one-shot commands.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{
		fileLogger: log.New(w, "", 0),
		stdout:     io.Discard,
		level:      level,
		mu:         &sync.Mutex{},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, LevelFatal+1)
}

// With returns a child logger whose lines carry [tag], e.g. [GCS] or [MD5].
func (l *Logger) With(tag string) *Logger {
	child := *l
	child.tag = tag
	return &child
}

func (l *Logger) log(lvl Level, prefix string, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	fullMsg := fmt.Sprintf("%s [%s] %s", timestamp, prefix, msg)
	if l.tag != "" {
		fullMsg = fmt.Sprintf("%s [%s] [%s] %s", timestamp, prefix, l.tag, msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.fileLogger.Println(fullMsg)

	// Debug stays out of stdout so it doesn't break the CLI progress line
	if l.includeStdout && lvl >= LevelInfo {
		fmt.Fprintf(l.stdout, "\n%s", fullMsg)
	}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); os.Exit(1) }

func (l *Logger) Write(p []byte) (n int, err error) {
	// Echo and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
