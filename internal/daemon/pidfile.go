package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRunning is returned by Claim when a live process already holds the file.
var ErrRunning = errors.New("already running")

// PIDFile tracks the process ID of a background API server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process's PID.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid, creating the parent directory if needed. The file is
// replaced atomically so a concurrent reader never sees a partial PID.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.Path)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file content %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Claim checks that no live process holds the file, clearing a stale one.
// It returns ErrRunning, wrapped with the holder's PID, otherwise.
func (p *PIDFile) Claim() error {
	if pid, running := p.IsRunning(); running {
		return fmt.Errorf("server %w (pid %d)", ErrRunning, pid)
	}
	return p.Clear()
}

// Clear deletes the PID file. A missing file is not an error.
func (p *PIDFile) Clear() error {
	err := os.Remove(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
