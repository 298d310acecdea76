package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFieldsAreCarried(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).WithStr("peer", "abc").WithInt("chunk", 3)

	l.Info("chunk applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc", line["peer"])
	assert.Equal(t, float64(3), line["chunk"])
	assert.Equal(t, "chunk applied", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestErrField(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Err(errors.New("boom")).Warn("link closed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "warn", line["level"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	require.NoError(t, l.SetLevel("warn"))
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	assert.Error(t, l.SetLevel("loud"))
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapbytes.log")

	l := New()
	l.Init(path)
	l.WithBool("ok", true).Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithAny("x", struct{}{}).Error("nothing")
	})
}
