package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultLevelSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WithRunID("run-1"))

	logger.Debug("hidden")
	logger.Info("hidden too")
	assert.Empty(t, buf.String())

	logger.Warn("visible", "k", "v")
	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "run_id=run-1")
	assert.Contains(t, out, "k=v")
	assert.Contains(t, out, "agentflow")
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WithLevel(log.DebugLevel), WithPrefix("test"))

	logger.Debug("details")
	assert.Contains(t, buf.String(), "details")
	assert.Contains(t, buf.String(), "test")
}

func TestNew_GeneratesRunID(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Error("x")
	assert.Regexp(t, `run_id=[0-9a-f]{8}`, buf.String())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLevel, level)

	level, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
