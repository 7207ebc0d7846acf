package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter("simulator", &buf).With("run_id", "r1")
	l.Debugw("position sent", map[string]any{"leg": 2})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "simulator", line["component"])
	assert.Equal(t, "r1", line["run_id"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, float64(2), line["leg"])
}

func TestZerologLoggerLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter("x", &buf)
	l.Infof("hidden")
	assert.Zero(t, buf.Len())
	l.Warnf("shown")
	assert.Contains(t, buf.String(), "shown")

	t.Setenv("LOG_LEVEL", "nonsense")
	buf.Reset()
	l = NewZerologLoggerWithWriter("x", &buf)
	l.Debugf("hidden")
	l.Infof("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
