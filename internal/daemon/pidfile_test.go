package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "prguard-serve.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestPIDFile_Write_CurrentPID(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))
	require.NoError(t, pf.Write())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Read_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := NewPIDFile(filepath.Join(dir, "nonexistent.pid")).Read()
	assert.Error(t, err)

	for name, content := range map[string]string{"text.pid": "not-a-number\n", "zero.pid": "0\n"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := NewPIDFile(path).Read()
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid PID file content")
	}
}

func TestPIDFile_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.WritePID(1))

	require.NoError(t, pf.Clear())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing again is a no-op.
	assert.NoError(t, pf.Clear())
}

func TestPIDFile_IsRunning(t *testing.T) {
	dir := t.TempDir()

	live := NewPIDFile(filepath.Join(dir, "live.pid"))
	require.NoError(t, live.Write())
	pid, running := live.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	// A very high PID almost certainly doesn't exist.
	dead := NewPIDFile(filepath.Join(dir, "dead.pid"))
	require.NoError(t, dead.WritePID(999999))
	pid, running = dead.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)

	pid, running = NewPIDFile(filepath.Join(dir, "missing.pid")).IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running)
}

func TestPIDFile_Claim(t *testing.T) {
	dir := t.TempDir()

	live := NewPIDFile(filepath.Join(dir, "live.pid"))
	require.NoError(t, live.Write())
	err := live.Claim()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunning))

	stale := NewPIDFile(filepath.Join(dir, "stale.pid"))
	require.NoError(t, stale.WritePID(999999))
	require.NoError(t, stale.Claim())
	_, err = os.Stat(stale.Path)
	assert.True(t, os.IsNotExist(err), "stale PID file should be cleared")
}

func TestPIDFile_Signal(t *testing.T) {
	dir := t.TempDir()
	pf := NewPIDFile(filepath.Join(dir, "test.pid"))
	require.NoError(t, pf.Write())

	// Signal 0 only checks that the process exists.
	assert.NoError(t, pf.Signal(syscall.Signal(0)))

	err := NewPIDFile(filepath.Join(dir, "nonexistent.pid")).Signal(syscall.Signal(0))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read PID file")
}
