// Package diaglog provides structured NDJSON diagnostic logging for tempofy.
// Activated by TEMPOFY_DEBUG=true. When the env var is absent, all Log calls
// are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentCallTracker = "call-tracker"
	ComponentTimer       = "timer-reconciler"
	ComponentSampler     = "window-sampler"
	ComponentGraphClient = "graph-client"
	ComponentJiraClient  = "jira-client"
	ComponentWSBridge    = "ws-bridge"
	ComponentCore        = "tempofy-core"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventCallStarted      = "call_started"
	EventCallUpdated      = "call_updated"
	EventCallEnded        = "call_ended"
	EventSignalLost       = "signal_lost"
	EventTimerStart       = "timer_start"
	EventTimerPause       = "timer_pause"
	EventTimerResume      = "timer_resume"
	EventTimerStop        = "timer_stop"
	EventTaskSuspended    = "task_suspended"
	EventTaskRestored     = "task_restored"
	EventEntrySaved       = "entry_saved"
	EventEntrySaveFailed  = "entry_save_failed"
	EventEnrichApplied    = "enrich_applied"
	EventEnrichDiscarded  = "enrich_discarded"
	EventEnrichFailed     = "enrich_failed"
	EventWSClientAttached = "ws_client_attached"
	EventWSClientDetached = "ws_client_detached"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`                   // RFC3339Nano
	Component string      `json:"component"`            // see Component* constants
	Event     string      `json:"event"`                // see Event* constants
	SessionID string      `json:"session_id,omitempty"` // call session uuid
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Log file ─────────────────────────────────────────────────────────────────

// maxLogSize caps the debug log. An append that would push the file past the
// cap truncates it first, so a long session keeps its freshest entries.
const maxLogSize = 10 * 1024 * 1024

// cappedFile appends NDJSON lines to a single file, starting the file over
// when it would outgrow the cap. Callers serialize access; Logger does so
// under its own mutex.
type cappedFile struct {
	f     *os.File
	size  int64
	limit int64
}

func openCappedFile(path string, limit int64) (*cappedFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &cappedFile{f: f, size: info.Size(), limit: limit}, nil
}

// appendLine writes one line, truncating first when the file is full. Every
// line is synced so a crash loses nothing already logged.
func (cf *cappedFile) appendLine(line []byte) error {
	if cf.size+int64(len(line)) > cf.limit {
		if err := cf.f.Truncate(0); err != nil {
			return err
		}
		if _, err := cf.f.Seek(0, 0); err != nil {
			return err
		}
		cf.size = 0
	}
	n, err := cf.f.Write(line)
	cf.size += int64(n)
	if err != nil {
		return err
	}
	return cf.f.Sync()
}

func (cf *cappedFile) close() error {
	_ = cf.f.Sync()
	return cf.f.Close()
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a size-capped NDJSON file. When debug mode
// is disabled every Log call is a no-op.
type Logger struct {
	file    *cappedFile
	mu      sync.Mutex
	enabled bool
}

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	file, err := openCappedFile(path, maxLogSize)
	if err != nil {
		return nil, err
	}
	return &Logger{file: file, enabled: true}, nil
}

// Log serialises entry to JSON and appends it as one line to the capped
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.file.appendLine(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.close()
}

// IsDebugEnabled reports whether TEMPOFY_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("TEMPOFY_DEBUG") == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
