package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	INFO Level = iota
	WARN
	ERROR
	DEBUG
)

var (
	mu   sync.RWMutex
	base = newConsole(os.Stdout, zerolog.InfoLevel, false)

	// Log channel for dashboard (optional)
	logChan   chan LogEntry
	logChanMu sync.RWMutex
)

// LogEntry represents a structured log message
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Init configures the global logger. level is one of debug, info, warn, error.
// When jsonOutput is set, lines are written as JSON instead of colored console text.
func Init(level string, jsonOutput bool) {
	noColor := os.Getenv("NO_COLOR") != ""
	lvl := parseLevel(level)

	mu.Lock()
	defer mu.Unlock()
	if jsonOutput {
		base = zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
		return
	}
	base = newConsole(os.Stdout, lvl, noColor)
}

// SetOutput redirects console output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newConsole(w, base.GetLevel(), true)
}

func newConsole(w io.Writer, lvl zerolog.Level, noColor bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"component",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"component"},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("[%v]", i)
		},
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogChannel sets a channel to stream logs to (e.g., for dashboard)
func SetLogChannel(ch chan LogEntry) {
	logChanMu.Lock()
	defer logChanMu.Unlock()
	logChan = ch
}

func log(level Level, component string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	var levelStr string
	var zl zerolog.Level

	switch level {
	case INFO:
		levelStr, zl = "INFO", zerolog.InfoLevel
	case WARN:
		levelStr, zl = "WARN", zerolog.WarnLevel
	case ERROR:
		levelStr, zl = "ERROR", zerolog.ErrorLevel
	case DEBUG:
		levelStr, zl = "DEBUG", zerolog.DebugLevel
	}

	mu.RLock()
	l := base
	mu.RUnlock()
	if l.GetLevel() > zl {
		return
	}
	l.WithLevel(zl).Str("component", component).Msg(msg)

	entry := LogEntry{
		Timestamp: time.Now().Format("15:04:05"),
		Level:     levelStr,
		Component: component,
		Message:   msg,
	}

	logChanMu.RLock()
	if logChan != nil {
		select {
		case logChan <- entry:
		default:
			// Drop log if channel is full
		}
	}
	logChanMu.RUnlock()
}

func Info(component string, format string, args ...interface{}) {
	log(INFO, component, format, args...)
}

func Warn(component string, format string, args ...interface{}) {
	log(WARN, component, format, args...)
}

func Error(component string, format string, args ...interface{}) {
	log(ERROR, component, format, args...)
}

func Debug(component string, format string, args ...interface{}) {
	log(DEBUG, component, format, args...)
}
