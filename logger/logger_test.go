package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIsSafeBeforeInitialize(t *testing.T) {
	require.NotNil(t, Logger)
	// Must not panic even though Initialize has not been called.
	Logger.Infow("pre-init message", "key", "value")
}

func TestInitializeConsole(t *testing.T) {
	err := Initialize(false)
	require.NoError(t, err)
	assert.False(t, JSONOutput)
	Logger.Infow("console message", "worker", "media-clustering-worker")
}

func TestInitializeJSON(t *testing.T) {
	err := Initialize(true)
	require.NoError(t, err)
	assert.True(t, JSONOutput)
	Logger.Infow("json message", "subject_id", "pet-1")
}

func TestNamed(t *testing.T) {
	require.NoError(t, Initialize(true))
	child := Named("worker")
	require.NotNil(t, child)
	child.Infow("named child message")
}
