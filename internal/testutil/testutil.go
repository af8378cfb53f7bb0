// Package testutil provides shared test helpers for touchcore tests.
package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// RecordingWriter is a concurrency-safe io.Writer that keeps every chunk it
// receives. It stands in for a terminal display.
type RecordingWriter struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
	notify chan struct{}
}

// NewRecordingWriter creates an empty recorder.
func NewRecordingWriter() *RecordingWriter {
	return &RecordingWriter{notify: make(chan struct{}, 1)}
}

// Write records a copy of p.
func (w *RecordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.chunks = append(w.chunks, chunk)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Close marks the writer as released.
func (w *RecordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (w *RecordingWriter) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Chunks returns a copy of the recorded writes in order.
func (w *RecordingWriter) Chunks() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.chunks))
	copy(out, w.chunks)
	return out
}

// String returns all recorded bytes concatenated.
func (w *RecordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(bytes.Join(w.chunks, nil))
}

// WaitForContent blocks until the recorded output contains want.
func (w *RecordingWriter) WaitForContent(t *testing.T, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if strings.Contains(w.String(), want) {
			return
		}
		select {
		case <-w.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got %q", want, w.String())
		}
	}
}

// Recorder collects values from concurrent callers.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

// Add appends v.
func (r *Recorder[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Values returns a copy of the recorded values.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// WebSocketURL converts an httptest server URL (http://...) to ws://...
func WebSocketURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}
