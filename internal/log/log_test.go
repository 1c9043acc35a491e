package log

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLevel(t *testing.T) {
	tests := []struct {
		in   Level
		want zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, zapLevel(tt.in), "level %q", tt.in)
	}
}

func TestSetRoutesHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(zap.NewNop()) })

	Info("published", "repo", "o/r")
	With("request_id", "abc").Warn("slow")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "published", entries[0].Message)
		assert.Equal(t, "o/r", entries[0].ContextMap()["repo"])
		assert.Equal(t, "abc", entries[1].ContextMap()["request_id"])
	}
}

func TestCallerIsTheLoggingSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core, zap.AddCaller()))
	t.Cleanup(func() { Set(zap.NewNop()) })

	Info("helper")
	With("component", "publish").Infow("child")
	With("component", "publish").With("repo", "o/r").Warnw("grandchild")

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		for _, e := range entries {
			assert.True(t, e.Caller.Defined, e.Message)
			assert.Equal(t, "log_test.go", filepath.Base(e.Caller.File), e.Message)
		}
	}
}

func TestGetInitializesDefault(t *testing.T) {
	mu.Lock()
	global = nil
	mu.Unlock()
	assert.NotNil(t, Get())
}
