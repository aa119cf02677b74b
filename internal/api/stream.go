package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// SSEWriter implements io.Writer and flushes each write as a Server-Sent Event.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	event   string // SSE event type (e.g. "stdout")
	mu      sync.Mutex
}

// NewSSEWriter creates an SSE writer for the given event type.
// Returns nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter, event string) *SSEWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEWriter{
		w:       w,
		flusher: flusher,
		event:   event,
	}
}

// Write sends data as an SSE event and flushes immediately.
func (s *SSEWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	// Every line of a multi-line payload needs its own "data:" prefix, or a
	// newline in script output would end the event early.
	lines := strings.Split(string(p), "\n")
	fmt.Fprintf(s.w, "event: %s\n", s.event)
	for _, line := range lines {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// sendSSEJSON sends one event whose data is v encoded as a single JSON line.
func sendSSEJSON(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// sendSSEError sends an error event.
func sendSSEError(w http.ResponseWriter, r *http.Request, msg, code string) {
	_ = sendSSEJSON(w, "error", ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
