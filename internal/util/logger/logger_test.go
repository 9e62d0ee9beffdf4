package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCachesPerSubsystem(t *testing.T) {
	a := Logger("alpha-test")
	b := Logger("alpha-test")
	assert.Same(t, a, b)
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	log := Logger("level-test")
	SetLevel("level-test", slog.LevelWarn)

	log.Info("should not appear")
	assert.Zero(t, buf.Len())

	log.Warn("should appear")
	assert.NotZero(t, buf.Len())
}

func TestJSONFormat(t *testing.T) {
	t.Setenv("MESHBUS_LOG_FORMAT", "json")
	ResetConfig()
	t.Cleanup(func() {
		ResetConfig()
	})

	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	log := Logger("json-test")
	log.Info("hello", "key", "value")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "hello", decoded["msg"])
	assert.Equal(t, "value", decoded["key"])
}

func TestDiscardDropsEverything(t *testing.T) {
	log := Discard()
	log.Error("this should go nowhere")
}

func TestParseLevelConfig(t *testing.T) {
	cfg := &Config{SubsystemLevels: make(map[string]slog.Level)}
	parseLevelConfig(cfg, "discovery=debug,registry=warn,info")

	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("discovery"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("registry"))
	assert.Equal(t, slog.LevelInfo, cfg.LevelForSubsystem("unlisted"))
}
