package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsNoop(t *testing.T) {
	l := New()
	require.NotNil(t, l.Log)
	l.Log.Info("dropped")
}

func TestInit(t *testing.T) {
	l := New()
	require.NoError(t, l.Init("debug"))
	assert.True(t, l.Log.Core().Enabled(-1))

	assert.Error(t, New().Init("loud"))
}

func TestInitConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	require.NoError(t, l.InitConsole(&buf, "warn"))

	l.Log.Info("hidden")
	l.Log.Warn("token refresh failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "token refresh failed")
}
