package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastRun_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "last_run")
	lr := NewLastRun(path)

	_, ok, err := lr.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	when := time.Date(2024, 3, 13, 8, 30, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, lr.Save(when))

	got, ok, err := lr.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, when.Equal(got))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-13T07:30:00Z\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLastRun_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_run")
	require.NoError(t, os.WriteFile(path, []byte("yesterday"), 0o644))

	_, ok, err := NewLastRun(path).Load()
	assert.Error(t, err)
	assert.False(t, ok)
}
