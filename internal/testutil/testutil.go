// Package testutil provides testing utilities for swarmbot tests.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// Eventually polls cond every few milliseconds until it returns true or
// timeout elapses, failing the test with msg in the latter case.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v: %s", timeout, msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// LogBuffer is a goroutine-safe buffer that collects JSON log lines.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Entries decodes the captured lines. Lines that are not JSON objects are
// skipped.
func (b *LogBuffer) Entries() []map[string]any {
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of entries at level ("DEBUG", "WARN", ...)
// whose message contains msg.
func (b *LogBuffer) Count(level, msg string) int {
	n := 0
	for _, e := range b.Entries() {
		m, _ := e["msg"].(string)
		if e["level"] == level && strings.Contains(m, msg) {
			n++
		}
	}
	return n
}

// CaptureLogger returns a debug-level logger writing into a LogBuffer.
func CaptureLogger(t *testing.T) (*logging.Logger, *LogBuffer) {
	t.Helper()
	buf := &LogBuffer{}
	return logging.NewWriterLogger(buf, "debug"), buf
}
