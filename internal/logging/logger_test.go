package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FileReceivesConfiguredLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "var", "log", "hpkg.log")

	logger := NewLogger(Config{Level: "warn", LogFile: logFile, NoColor: true})
	logger.Info().Str("package", "app").Msg("below threshold")
	logger.Warn().Str("package", "libc").Msg("sync incomplete")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err, "log directory should be created on demand")
	assert.NotContains(t, string(data), "below threshold")
	assert.Contains(t, string(data), "sync incomplete")
	assert.Contains(t, string(data), `"package":"libc"`)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestNewLogger_UnwritableLogDirIsIgnored(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	logger := NewLogger(Config{Level: "info", LogFile: filepath.Join(blocker, "hpkg.log"), NoColor: true})
	require.NotNil(t, logger)
	logger.Info().Msg("console only")
}

func TestNewLogger_QuietKeepsFileVerbose(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "hpkg.log")

	logger := NewLogger(Config{Level: "debug", LogFile: logFile, NoColor: true, Quiet: true})
	logger.Debug().Msg("resolved plan")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "resolved plan")
}

func TestNewLogger_ErrorStacks(t *testing.T) {
	NewLogger(Config{Level: "info", NoColor: true})
	assert.NotNil(t, zerolog.ErrorStackMarshaler)

	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Error().Err(errors.New("checksum mismatch")).Msg("verify failed")
	assert.Contains(t, buf.String(), "checksum mismatch")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}

	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), "level %q", input)
	}
}

func TestColorDisabled(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.True(t, colorDisabled(), "NO_COLOR counts when set, even empty")

	os.Unsetenv("NO_COLOR")
	t.Setenv("TERM", "dumb")
	assert.True(t, colorDisabled())

	t.Setenv("TERM", "xterm-256color")
	assert.False(t, colorDisabled())
}

func TestMinLevelWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &minLevelWriter{w: &buf, min: zerolog.WarnLevel}
	logger := zerolog.New(zerolog.MultiLevelWriter(w))

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	logger.Error().Msg("also shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "also shown")
}

func TestProgressSafeWriter(t *testing.T) {
	t.Run("clears the line only at line starts", func(t *testing.T) {
		var buf bytes.Buffer
		w := newProgressSafeWriter(&buf)

		_, _ = w.Write([]byte("downloading "))
		_, _ = w.Write([]byte("app\n"))
		_, _ = w.Write([]byte("done\n"))

		assert.Equal(t, clearLine+"downloading app\n"+clearLine+"done\n", buf.String())
	})

	t.Run("empty write is a no-op", func(t *testing.T) {
		var buf bytes.Buffer
		w := newProgressSafeWriter(&buf)

		n, err := w.Write(nil)
		assert.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, buf.String())
	})

	t.Run("reports bytes of the payload", func(t *testing.T) {
		var buf bytes.Buffer
		w := newProgressSafeWriter(&buf)

		n, err := w.Write([]byte("line\n"))
		assert.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("concurrent writers keep lines whole", func(t *testing.T) {
		var buf bytes.Buffer
		w := newProgressSafeWriter(&buf)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = w.Write([]byte("line\n"))
			}()
		}
		wg.Wait()

		assert.Equal(t, bytes.Repeat([]byte(clearLine+"line\n"), 8), buf.Bytes())
	})
}
