package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldColor := Out, ErrOut, color.NoColor
	Out, ErrOut = &out, &errOut
	color.NoColor = true
	t.Cleanup(func() {
		Out, ErrOut = oldOut, oldErr
		color.NoColor = oldColor
	})
	return &out, &errOut
}

func TestInitColors(t *testing.T) {
	old := color.NoColor
	defer func() { color.NoColor = old }()

	t.Run("never", func(t *testing.T) {
		color.NoColor = false
		InitColors("never")
		assert.False(t, AreColorsEnabled())
	})

	t.Run("always", func(t *testing.T) {
		color.NoColor = true
		InitColors("always")
		assert.True(t, AreColorsEnabled())
	})

	t.Run("auto with NO_COLOR", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		color.NoColor = false
		InitColors("auto")
		assert.False(t, AreColorsEnabled())
	})

	t.Run("auto with TERM=dumb", func(t *testing.T) {
		t.Setenv("TERM", "dumb")
		color.NoColor = false
		InitColors("")
		assert.False(t, AreColorsEnabled())
	})
}

func TestPrintFunctions(t *testing.T) {
	out, errOut := captureOutput(t)

	PrintSuccess("installed %s", "foo")
	PrintInfo("resolving %d packages", 3)
	PrintStep(1, 2, "fetching %s", "bar")
	PrintKeyValue("Version", "1.2.0")
	PrintList([]string{"a", "b"})
	PrintError("failed %s", "baz")
	PrintWarning("careful")

	stdout := out.String()
	assert.Contains(t, stdout, "✓ installed foo")
	assert.Contains(t, stdout, "→ resolving 3 packages")
	assert.Contains(t, stdout, "[1/2] fetching bar")
	assert.Contains(t, stdout, "Version:")
	assert.Contains(t, stdout, "1.2.0")
	assert.Contains(t, stdout, "• a")

	stderr := errOut.String()
	assert.Contains(t, stderr, "✗ Error: failed baz")
	assert.Contains(t, stderr, "Warning: careful")
}

func TestColorize(t *testing.T) {
	captureOutput(t)

	assert.Equal(t, "explicit", ColorizeReason(core.ReasonExplicit))
	assert.Equal(t, "dependency", ColorizeReason(core.ReasonDependency))
	assert.Equal(t, "group", ColorizeReason(core.ReasonGroup))
	assert.Equal(t, "completed", ColorizeStatus(core.TxCompleted))
	assert.Equal(t, "failed", ColorizeStatus(core.TxFailed))
	assert.Equal(t, "pending", ColorizeStatus(core.TxPending))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
