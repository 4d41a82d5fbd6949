package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/tempofy/internal/calltrack"
	"github.com/tiroq/tempofy/internal/timer"
)

// StatusSnapshot represents the complete daemon state at a point in time
type StatusSnapshot struct {
	Timer      timer.Snapshot      `json:"timer"`                 // Timer phase, task, elapsed
	Call       *calltrack.CallInfo `json:"call,omitempty"`        // In-progress call, nil when idle
	AutoTrack  bool                `json:"auto_track"`            // Call auto-tracking enabled
	LastAction string              `json:"last_action,omitempty"` // Last command processed
	LastError  string              `json:"last_error,omitempty"`  // Last error message
	Timestamp  time.Time           `json:"timestamp"`             // Snapshot time
	PID        int                 `json:"pid"`                   // Daemon process id
}

// StatusPath returns the path of the status file.
func StatusPath() string {
	return filepath.Join(cacheDir(), "status.json")
}

// WriteStatus persists the snapshot to ~/.cache/tempofy/status.json using an
// atomic write, so readers never see a torn file.
func WriteStatus(status *StatusSnapshot) error {
	if err := os.MkdirAll(cacheDir(), 0755); err != nil {
		return err
	}
	return atomicWriteJSON(StatusPath(), status)
}

// ReadStatus loads the snapshot from ~/.cache/tempofy/status.json
func ReadStatus() (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath())
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	// Write JSON with indentation for readability
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	// Sync to disk before rename
	if err := tmpFile.Sync(); err != nil {
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // Prevent defer cleanup

	// Atomic rename
	return os.Rename(tmpPath, path)
}
