package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var keepAliveFrame = []byte(": keep-alive\n\n")

// SSESink writes text/event-stream frames to an HTTP response.
type SSESink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func NewSSESink(w http.ResponseWriter) *SSESink {
	return &SSESink{w: w, rc: http.NewResponseController(w)}
}

func (s *SSESink) Open() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *SSESink) WriteEvent(data []byte) error {
	s.armDeadline()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse data: %w", err)
	}
	return s.flush()
}

func (s *SSESink) WriteKeepAlive() error {
	s.armDeadline()
	if _, err := s.w.Write(keepAliveFrame); err != nil {
		return fmt.Errorf("write sse keep-alive: %w", err)
	}
	return s.flush()
}

// Close is a no-op: the handler returning ends the response.
func (s *SSESink) Close(string) error { return nil }

func (s *SSESink) armDeadline() {
	// Recorders and some proxies do not support deadlines.
	_ = s.rc.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (s *SSESink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush sse: %w", err)
	}
	return nil
}
