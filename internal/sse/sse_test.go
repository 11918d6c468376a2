package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestWriterFramesAndTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(context.Background(), rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !w.Emit(EventMode, map[string]any{"mode": "single"}) {
		t.Fatalf("mode frame should be written")
	}
	if !w.Emit(EventDone, map[string]any{"response": "ok", "toolCalls": []any{}}) {
		t.Fatalf("done frame should be written")
	}
	if w.Emit(EventError, map[string]any{"error": "late"}) {
		t.Fatalf("no frame may follow the terminal frame")
	}
	want := "event: mode\ndata: {\"mode\":\"single\"}\n\nevent: done\ndata: {\"response\":\"ok\",\"toolCalls\":[]}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
	if !w.Ended() {
		t.Fatalf("writer should report ended")
	}
}

func TestWriterStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	w, err := NewWriter(ctx, rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Emit(EventPlanStart, nil)
	cancel()
	if w.Emit(EventStepStart, map[string]any{"stepId": "s1"}) {
		t.Fatalf("write after cancel must be a no-op")
	}
	if strings.Contains(rec.Body.String(), "step_start") {
		t.Fatalf("unexpected frame after cancel: %s", rec.Body.String())
	}
	w.Close()
	w.Close()
}

type failingWriter struct {
	http.ResponseWriter
	writes int
}

func (f *failingWriter) Write(b []byte) (int, error) {
	f.writes++
	return 0, errors.New("broken pipe")
}

func (f *failingWriter) Flush() {}

func TestWriterSwallowsWriteErrors(t *testing.T) {
	fw := &failingWriter{ResponseWriter: httptest.NewRecorder()}
	w, err := NewWriter(context.Background(), fw)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if w.Emit(EventMode, map[string]any{"mode": "multi"}) {
		t.Fatalf("failed write should report false")
	}
	w.Emit(EventDone, nil)
	if fw.writes != 1 {
		t.Fatalf("writer should close after the first failure, saw %d writes", fw.writes)
	}
}

type noFlush struct{ http.ResponseWriter }

func TestNewWriterRequiresFlusher(t *testing.T) {
	if _, err := NewWriter(context.Background(), noFlush{httptest.NewRecorder()}); !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("expected ErrStreamingUnsupported, got %v", err)
	}
}

func TestWriterConcurrentEmit(t *testing.T) {
	rec := httptest.NewRecorder()
	w, _ := NewWriter(context.Background(), rec)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Emit(EventInsight, map[string]any{"id": "x", "message": "m"})
		}()
	}
	wg.Wait()
	if n := strings.Count(rec.Body.String(), "event: insight\n"); n != 20 {
		t.Fatalf("expected 20 whole frames, got %d", n)
	}
}

func TestBufferTerminal(t *testing.T) {
	var b Buffer
	b.Emit(EventMode, map[string]string{"mode": "single"})
	b.Emit(EventError, map[string]string{"error": "provider down"})
	if b.Emit(EventDone, nil) {
		t.Fatalf("buffer must refuse frames after terminal")
	}
	names := b.Names()
	if len(names) != 2 || names[1] != EventError {
		t.Fatalf("unexpected events %v", names)
	}
	if b.Events()[0].Data["mode"] != "single" {
		t.Fatalf("data should be normalised to a map")
	}
}
