// internal/logger/logger.go

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Mode int

const (
	MINIMAL Mode = iota
	NORMAL
	FULL
)

var (
	levelNames = map[Level]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
		FATAL: "FATAL",
	}

	levelColors = map[Level]string{
		DEBUG: "\033[36m",
		INFO:  "\033[32m",
		WARN:  "\033[33m",
		ERROR: "\033[31m",
		FATAL: "\033[35m",
	}

	resetColor = "\033[0m"
)

// Logger is a component-tagged view over a shared output core. Child
// loggers created with Component share the core's level, mode and sinks.
type Logger struct {
	core      *core
	component string
}

type core struct {
	level      Level
	mode       Mode
	mu         sync.Mutex
	consoleOut io.Writer
	fileOut    io.Writer
	logFile    *os.File
	useColors  bool
}

type Config struct {
	Level       Level
	Mode        Mode
	LogFilePath string
	UseColors   bool
}

func New(cfg Config) (*Logger, error) {
	c := &core{
		level:      cfg.Level,
		mode:       cfg.Mode,
		consoleOut: os.Stdout,
		useColors:  cfg.UseColors,
	}

	if cfg.LogFilePath != "" {
		if err := c.setupLogFile(cfg.LogFilePath); err != nil {
			return nil, fmt.Errorf("failed to setup log file: %w", err)
		}
	}

	return &Logger{core: c}, nil
}

// Component returns a logger that prefixes every message with the given
// component name, e.g. "[radio] connected".
func (l *Logger) Component(name string) *Logger {
	return &Logger{core: l.core, component: name}
}

func (c *core) setupLogFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	c.logFile = file
	c.fileOut = file
	return nil
}

func (l *Logger) Close() error {
	if l.core.logFile != nil {
		return l.core.logFile.Close()
	}
	return nil
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	c := l.core
	if level < c.level {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		message = fmt.Sprintf("[%s] %s", l.component, message)
	}

	var consoleMsg, fileMsg string

	switch c.mode {
	case MINIMAL:
		consoleMsg = c.formatMinimal(level, message)
		fileMsg = fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], message)

	case NORMAL:
		consoleMsg = c.formatNormal(level, timestamp, message)
		fileMsg = fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], message)

	case FULL:
		file, line := caller()
		consoleMsg = c.formatFull(level, timestamp, file, line, message)
		fileMsg = fmt.Sprintf("%s [%s] %s:%d | %s", timestamp, levelNames[level], file, line, message)
	}

	if c.consoleOut != nil {
		fmt.Fprintln(c.consoleOut, consoleMsg)
	}

	if c.fileOut != nil {
		fmt.Fprintln(c.fileOut, fileMsg)
	}

	if level == FATAL {
		os.Exit(1)
	}
}

func (c *core) formatMinimal(level Level, msg string) string {
	levelStr := levelNames[level]
	if c.useColors {
		return fmt.Sprintf("%s[%s]%s %s", levelColors[level], levelStr, resetColor, msg)
	}
	return fmt.Sprintf("[%s] %s", levelStr, msg)
}

func (c *core) formatNormal(level Level, timestamp, msg string) string {
	levelStr := levelNames[level]
	if c.useColors {
		return fmt.Sprintf("%s[%s]%s %s | %s", levelColors[level], levelStr, resetColor, timestamp, msg)
	}
	return fmt.Sprintf("[%s] %s | %s", levelStr, timestamp, msg)
}

func (c *core) formatFull(level Level, timestamp, file string, line int, msg string) string {
	levelStr := levelNames[level]
	location := fmt.Sprintf("%s:%d", file, line)

	if c.useColors {
		return fmt.Sprintf("%s[%s]%s %s | %s | %s",
			levelColors[level], levelStr, resetColor, timestamp, location, msg)
	}
	return fmt.Sprintf("[%s] %s | %s | %s", levelStr, timestamp, location, msg)
}

func caller() (string, int) {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown", 0
	}
	return filepath.Base(file), line
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}

func (l *Logger) SetLevel(level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.level = level
}

func (l *Logger) SetMode(mode Mode) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.mode = mode
}

func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "info", "INFO":
		return INFO
	case "warn", "WARN", "warning", "WARNING":
		return WARN
	case "error", "ERROR":
		return ERROR
	case "fatal", "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func ParseMode(s string) Mode {
	switch s {
	case "minimal", "MINIMAL":
		return MINIMAL
	case "normal", "NORMAL":
		return NORMAL
	case "full", "FULL":
		return FULL
	default:
		return NORMAL
	}
}
