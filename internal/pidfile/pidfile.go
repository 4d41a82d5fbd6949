// Package pidfile guards against a second daemon instance. The daemon owns
// the timer state and the command channel; two copies would double-save
// entries and race on cmd.txt.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is an acquired single-instance lock.
type PIDFile struct {
	path string
	pid  int
}

// Path returns the standard PID file location for the named binary.
func Path(appName string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "tempofy", appName+".pid")
}

// Acquire claims the lock at path, writing the current PID. A file left by a
// dead process is treated as stale and replaced; a file owned by a live
// process fails the acquisition.
func Acquire(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		raw := strings.TrimSpace(string(data))
		if existing, err := strconv.Atoi(raw); err == nil {
			if processAlive(existing) {
				return nil, fmt.Errorf("another instance is already running (PID %d)", existing)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("remove stale pid file: %w", err)
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Release removes the file, but only while it still holds our own PID. If a
// newer instance replaced it after our process was declared stale, the file
// belongs to them.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

// processAlive probes pid with signal 0. EPERM means the process exists but
// is owned by someone else, which still counts as alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
