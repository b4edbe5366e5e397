package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRFC3339Millis(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 89_000_000, time.FixedZone("X", 3600))
	assert.Equal(t, "2026-03-04T04:06:07.089Z", formatRFC3339Millis(ts))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewWithLevelDropsEmptyStrings(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithLevel(&buf, slog.LevelInfo)
	log.Info("credited", "user", "alice", "remark", "")
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "credited")
	assert.Contains(t, out, "alice")
	assert.NotContains(t, out, "remark")
	assert.NotContains(t, out, "hidden")
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
