package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.log")

	log, err := New("debug", "json", path)
	require.NoError(t, err)
	log.Infow("worker started", "worker", 3)
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"worker started"`)
	assert.Contains(t, string(b), `"worker":3`)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "console", "")
	assert.Error(t, err)

	_, err = New("info", "xml", "")
	assert.Error(t, err)
}

func TestNewConsoleDefault(t *testing.T) {
	log, err := New("info", "", "")
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.NotNil(t, Nop())
}
