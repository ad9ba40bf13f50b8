package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level   string
	LogFile string
	NoColor bool
	// Quiet drops console output below warn; the log file keeps Level.
	Quiet bool
}

// NewLogger creates a zerolog logger writing to stderr and, when LogFile is
// set, to a rotated log file.
func NewLogger(cfg Config) *zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level := parseLevel(cfg.Level)

	consoleWriter := zerolog.ConsoleWriter{
		Out:        newProgressSafeWriter(os.Stderr),
		TimeFormat: "15:04:05",
		NoColor:    cfg.NoColor || colorDisabled(),
	}

	var console io.Writer = consoleWriter
	if cfg.Quiet {
		console = &minLevelWriter{w: consoleWriter, min: zerolog.WarnLevel}
	}

	writers := []io.Writer{console}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &logger
}

// colorDisabled honours NO_COLOR and dumb terminals
func colorDisabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return os.Getenv("TERM") == "dumb"
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewTestLogger creates a logger for testing that writes to a buffer
func NewTestLogger(w io.Writer) *zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return &logger
}

// minLevelWriter forwards only events at or above min
type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m *minLevelWriter) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

func (m *minLevelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}

// progressSafeWriter serializes console writes and clears the current
// terminal line before each new log line, so download progress bars
// redrawing on the same stream do not interleave with log output.
type progressSafeWriter struct {
	mu        sync.Mutex
	out       io.Writer
	lineStart bool
}

const clearLine = "\r\033[K"

func newProgressSafeWriter(out io.Writer) *progressSafeWriter {
	return &progressSafeWriter{out: out, lineStart: true}
}

func (w *progressSafeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if w.lineStart {
		if _, err := io.WriteString(w.out, clearLine); err != nil {
			return 0, err
		}
	}
	n, err := w.out.Write(p)
	if n > 0 {
		w.lineStart = p[n-1] == '\n'
	}
	return n, err
}
