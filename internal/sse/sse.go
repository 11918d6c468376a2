// Package sse writes Server-Sent Events frames for AI runs.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Event names of the run stream.
const (
	EventMode               = "mode"
	EventPlanStart          = "plan_start"
	EventPlanReady          = "plan_ready"
	EventStepStart          = "step_start"
	EventToolCall           = "tool_call"
	EventStepComplete       = "step_complete"
	EventValidationStart    = "validation_start"
	EventValidationComplete = "validation_complete"
	EventInsight            = "insight"
	EventDone               = "done"
	EventError              = "error"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed per frame.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Emitter receives run events. Emit reports whether the frame was delivered.
type Emitter interface {
	Emit(event string, data any) bool
}

// IsTerminal reports whether event ends a stream.
func IsTerminal(event string) bool {
	return event == EventDone || event == EventError
}

// Writer serialises frames onto an HTTP response. It is safe for concurrent
// use. Once the terminal frame is written, the request context is cancelled,
// or a write fails, every further Emit is a no-op.
type Writer struct {
	mu      sync.Mutex
	ctx     context.Context
	w       io.Writer
	flusher http.Flusher
	closed  bool
	ended   bool
}

// NewWriter prepares w for streaming and writes the response headers.
func NewWriter(ctx context.Context, w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{ctx: ctx, w: w, flusher: flusher}, nil
}

// Emit writes one frame. Write errors close the writer and are not returned.
func (s *Writer) Emit(event string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return false
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		s.closed = true
		return false
	}
	frame, err := Frame(event, data)
	if err != nil {
		return false
	}
	if _, err := s.w.Write(frame); err != nil {
		s.closed = true
		return false
	}
	s.flusher.Flush()
	if IsTerminal(event) {
		s.ended = true
	}
	return true
}

// Ended reports whether a terminal frame has been written.
func (s *Writer) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Close stops all further writes. It is idempotent.
func (s *Writer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Frame encodes a single SSE frame.
func Frame(event string, data any) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	out := make([]byte, 0, len(event)+len(payload)+16)
	out = append(out, "event: "...)
	out = append(out, event...)
	out = append(out, "\ndata: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	return out, nil
}
