package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNeverReturnsNil(t *testing.T) {
	tests := []struct {
		level  string
		format string
	}{
		{"debug", "json"},
		{"info", "console"},
		{"warn", "json"},
		{"error", "console"},
		{"bogus-level", "bogus-format"},
		{"", ""},
	}
	for _, tt := range tests {
		l := New(tt.level, tt.format)
		require.NotNil(t, l, "level=%q format=%q", tt.level, tt.format)
		assert.NotPanics(t, func() {
			l.Info("startup line")
		})
	}
}

func TestZapAdapterFields(t *testing.T) {
	l := NewZapAdapter(New("error", "json"))
	child := l.With(map[string]interface{}{"operation": "simulate"})
	require.NotNil(t, child)
	assert.NotPanics(t, func() {
		child.Debug("msg", map[string]interface{}{"k": "v"})
		child.WithError(nil).Warn("msg", nil)
	})
}
