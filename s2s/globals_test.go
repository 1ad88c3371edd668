package internal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevelFromEnv(t *testing.T) {
	tests := []struct {
		level    string
		wantInfo bool
	}{
		{"", true},
		{"debug", true},
		{"WARN", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		t.Run("level="+tt.level, func(t *testing.T) {
			t.Setenv(LogLevelEnv, tt.level)
			var buf bytes.Buffer
			logger := newLogger(&buf)

			logger.Info().Msg("info line")
			assert.Equal(t, tt.wantInfo, bytes.Contains(buf.Bytes(), []byte("info line")))

			logger.Warn().Msg("warn line")
			assert.Contains(t, buf.String(), "warn line")
			assert.Contains(t, buf.String(), `"app":"s2s"`)
		})
	}
}

func TestGetHomeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.NotEmpty(t, getHomeDir())

	t.Setenv("HOME", "")
	assert.NotEmpty(t, getHomeDir())
}
