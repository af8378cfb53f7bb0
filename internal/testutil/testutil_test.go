package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestRecordingWriter_Write(t *testing.T) {
	w := NewRecordingWriter()

	buf := []byte("hello")
	n, err := w.Write(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}

	// Mutating the caller's buffer must not change what was recorded
	buf[0] = 'j'
	if w.String() != "hello" {
		t.Errorf("expected hello, got %q", w.String())
	}
}

func TestRecordingWriter_ChunksPreserveOrder(t *testing.T) {
	w := NewRecordingWriter()
	_, _ = w.Write([]byte("a"))
	_, _ = w.Write([]byte("b"))

	chunks := w.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if string(chunks[0]) != "a" || string(chunks[1]) != "b" {
		t.Errorf("unexpected chunks: %q", chunks)
	}
}

func TestRecordingWriter_Close(t *testing.T) {
	w := NewRecordingWriter()
	if w.IsClosed() {
		t.Error("expected writer to be open initially")
	}
	_ = w.Close()
	if !w.IsClosed() {
		t.Error("expected writer to be closed")
	}
}

func TestRecordingWriter_WaitForContent(t *testing.T) {
	w := NewRecordingWriter()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ready"))
	}()
	w.WaitForContent(t, "ready", time.Second)
}

func TestRecorder_Concurrent(t *testing.T) {
	var r Recorder[int]
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			r.Add(v)
		}(i)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("expected 50 values, got %d", r.Len())
	}
}

func TestWebSocketURL(t *testing.T) {
	got := WebSocketURL("http://127.0.0.1:1234", "/terminal")
	if got != "ws://127.0.0.1:1234/terminal" {
		t.Errorf("unexpected url %s", got)
	}
}
