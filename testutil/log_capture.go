package testutil

import (
	"bytes"
	"io"
	"log"
	"strings"
	"sync"
)

// LogCapture redirects the standard logger into a buffer so tests can assert
// on emitted lines.
type LogCapture struct {
	buf      bytes.Buffer
	mu       sync.Mutex
	original io.Writer
}

// NewLogCapture creates a capture primed with the current log writer.
func NewLogCapture() *LogCapture {
	return &LogCapture{original: log.Writer()}
}

// Start begins capturing log output.
func (lc *LogCapture) Start() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	log.SetOutput(&lc.buf)
}

// Stop restores the original log output.
func (lc *LogCapture) Stop() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	log.SetOutput(lc.original)
}

// Output returns everything captured so far.
func (lc *LogCapture) Output() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.String()
}

// Contains reports whether the captured output includes substr.
func (lc *LogCapture) Contains(substr string) bool {
	return strings.Contains(lc.Output(), substr)
}

// Reset discards the captured output.
func (lc *LogCapture) Reset() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.buf.Reset()
}
