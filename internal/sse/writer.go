// Package sse implements minimal server-sent-event framing over a single
// long-lived HTTP response.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

var (
	// ErrStreamingUnsupported means the ResponseWriter cannot flush, so no
	// live stream can be served on it.
	ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")

	// ErrClosed is returned for writes after Close. The orchestrator closes
	// the stream after the terminal event; nothing may be emitted past it.
	ErrClosed = errors.New("sse stream closed")
)

// Writer frames named events with JSON payloads onto one HTTP response.
// Safe for concurrent use, though the job stream writes from one goroutine.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewWriter prepares w for event streaming and sends the SSE headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Event writes one `event:`/`data:` frame and flushes it to the client.
func (sw *Writer) Event(name string, payload any) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}
	sw.flusher.Flush()
	return nil
}

// Comment writes an SSE comment line, used as a keep-alive ping.
func (sw *Writer) Comment(text string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	sw.flusher.Flush()
	return nil
}

// Close marks the stream finished. Subsequent writes return ErrClosed.
// Idempotent.
func (sw *Writer) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
}
