package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmaudet/twake-assistant/internal/metrics"
	"github.com/mmaudet/twake-assistant/internal/store"
	"github.com/mmaudet/twake-assistant/internal/transcription"
)

// Prometheus collectors register globally, so the test binary shares one set.
var testMetrics = metrics.NewMetrics()

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeRecorder captures persisted transcriptions in memory
type fakeRecorder struct {
	mu      sync.Mutex
	records []*store.TranscriptionRecord
	failErr error
}

func (f *fakeRecorder) SaveTranscription(ctx context.Context, rec *store.TranscriptionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// testBackend is a scripted transcription backend for controller tests
type testBackend struct {
	server *httptest.Server

	requests atomic.Int64

	mu          sync.Mutex
	committed   []transcription.Segment
	uncommitted []transcription.Segment
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	b := &testBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/create/{$}", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"session_id": "test-session"})
	})
	mux.HandleFunc("POST /session/{id}/add_chunk", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /session/{id}/process", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		b.mu.Lock()
		resp := map[string]interface{}{
			"committed":   b.committed,
			"uncommitted": b.uncommitted,
		}
		b.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /session/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"status": "ended"})
	})
	mux.HandleFunc("POST /session/{id}/clear", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		b.mu.Lock()
		b.committed = nil
		b.uncommitted = nil
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *testBackend) setResult(committed, uncommitted []transcription.Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed = committed
	b.uncommitted = uncommitted
}

func segs(texts ...string) []transcription.Segment {
	out := make([]transcription.Segment, len(texts))
	for i, text := range texts {
		out[i] = transcription.Segment{Text: text}
	}
	return out
}

func newTestController(t *testing.T, baseURL string, recorder Recorder) *Controller {
	t.Helper()

	client, err := transcription.NewClient(transcription.Config{BaseURL: baseURL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	return NewController(Config{PollInterval: 20 * time.Millisecond}, client, recorder, testLogger, testMetrics)
}

func TestStopWithoutStart(t *testing.T) {
	backend := newTestBackend(t)
	recorder := &fakeRecorder{}
	c := newTestController(t, backend.server.URL, recorder)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop without start returned error: %v", err)
	}

	// No session means no network traffic and no persistence.
	if n := backend.requests.Load(); n != 0 {
		t.Errorf("backend received %d requests, want 0", n)
	}
	if recorder.count() != 0 {
		t.Errorf("recorder saved %d records, want 0", recorder.count())
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestStartCreateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := &fakeRecorder{}
	c := newTestController(t, server.URL, recorder)

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err == nil {
		t.Fatal("expected error when session create fails")
	}

	if c.State() != StateError {
		t.Errorf("state = %s, want error", c.State())
	}
	snap := c.GetSnapshot()
	if snap.SessionID != "" {
		t.Errorf("session id = %q, want empty", snap.SessionID)
	}
	if snap.LastError == "" {
		t.Error("last error should be set")
	}

	// Stop is a no-op in Error: the state is left for the next start.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop after failed start returned error: %v", err)
	}
	if c.State() != StateError {
		t.Errorf("state after stop = %s, want error", c.State())
	}
	if recorder.count() != 0 {
		t.Errorf("recorder saved %d records, want 0", recorder.count())
	}
}

func TestStartRecoversFromError(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/create/{$}", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"session_id": "recovered"})
	})
	mux.HandleFunc("POST /session/{id}/process", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"committed": nil, "uncommitted": nil})
	})
	mux.HandleFunc("POST /session/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ended"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestController(t, server.URL, &fakeRecorder{})

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err == nil {
		t.Fatal("expected error from failing backend")
	}
	if c.State() != StateError {
		t.Fatalf("state = %s, want error", c.State())
	}

	// The next start leaves Error behind and clears the stale failure.
	fail.Store(false)
	if err := c.Start(context.Background(), "en", chunks); err != nil {
		t.Fatalf("start after error failed: %v", err)
	}
	if c.State() != StateActive {
		t.Errorf("state = %s, want active", c.State())
	}
	if got := c.GetSnapshot().LastError; got != "" {
		t.Errorf("last error = %q, want cleared", got)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("state after stop = %s, want idle", c.State())
	}
}

func TestStartWhileActive(t *testing.T) {
	backend := newTestBackend(t)
	c := newTestController(t, backend.server.URL, &fakeRecorder{})

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop(context.Background())

	if err := c.Start(context.Background(), "en", chunks); err == nil {
		t.Error("expected error starting while active")
	}
}

func TestApplyResultMergeContract(t *testing.T) {
	backend := newTestBackend(t)
	c := newTestController(t, backend.server.URL, &fakeRecorder{})

	// A non-empty committed list replaces the local one.
	c.applyResult(1, &transcription.Result{Committed: segs("a"), Uncommitted: segs("b?")})
	if got := c.CommittedText(); got != "a" {
		t.Fatalf("committed text = %q, want a", got)
	}

	// An empty committed list never erases committed text.
	c.applyResult(2, &transcription.Result{Committed: nil, Uncommitted: segs("b?")})
	if got := c.CommittedText(); got != "a" {
		t.Fatalf("committed text after empty response = %q, want a", got)
	}

	// A shorter committed list never shrinks it either.
	c.applyResult(3, &transcription.Result{Committed: segs("a", "b"), Uncommitted: nil})
	c.applyResult(4, &transcription.Result{Committed: segs("x")})
	if got := c.CommittedText(); got != "a b" {
		t.Fatalf("committed text after shorter response = %q, want a b", got)
	}

	// Uncommitted is replaced wholesale, including by empty responses.
	c.applyResult(5, &transcription.Result{Committed: segs("a", "b"), Uncommitted: segs("c?")})
	if got := c.GetSnapshot().UncommittedText; got != "c?" {
		t.Fatalf("uncommitted text = %q, want c?", got)
	}
	c.applyResult(6, &transcription.Result{Committed: segs("a", "b"), Uncommitted: nil})
	if got := c.GetSnapshot().UncommittedText; got != "" {
		t.Fatalf("uncommitted text = %q, want empty", got)
	}

	// Stale responses are discarded outright.
	c.applyResult(3, &transcription.Result{Committed: segs("a", "b", "c", "d"), Uncommitted: segs("stale")})
	if got := c.CommittedText(); got != "a b" {
		t.Fatalf("committed text after stale response = %q, want a b", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	backend := newTestBackend(t)
	backend.setResult(segs("hello"), segs("wor"))

	recorder := &fakeRecorder{}
	c := newTestController(t, backend.server.URL, recorder)

	chunks := make(chan []float32, 4)
	if err := c.Start(context.Background(), "fr", chunks); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if c.State() != StateActive {
		t.Fatalf("state = %s, want active", c.State())
	}

	chunks <- make([]float32, 1600)
	chunks <- make([]float32, 1600)

	// Let a few polls run.
	time.Sleep(100 * time.Millisecond)

	snap := c.GetSnapshot()
	if snap.CommittedText != "hello" {
		t.Errorf("committed text = %q, want hello", snap.CommittedText)
	}
	if snap.UncommittedText != "wor" {
		t.Errorf("uncommitted text = %q, want wor", snap.UncommittedText)
	}

	// The final poll during Stop picks up the completed transcript.
	backend.setResult(segs("hello", "world"), nil)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if c.State() != StateIdle {
		t.Errorf("state after stop = %s, want idle", c.State())
	}
	if got := c.GetSnapshot().SessionID; got != "" {
		t.Errorf("session id after stop = %q, want empty", got)
	}

	if recorder.count() != 1 {
		t.Fatalf("recorder saved %d records, want 1", recorder.count())
	}
	rec := recorder.records[0]
	if rec.Text != "hello world" {
		t.Errorf("saved text = %q, want %q", rec.Text, "hello world")
	}
	if rec.Language != "fr" {
		t.Errorf("saved language = %q, want fr", rec.Language)
	}
	if rec.WordCount != 2 {
		t.Errorf("saved word count = %d, want 2", rec.WordCount)
	}

	// A second stop is a no-op and never saves again.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second stop returned error: %v", err)
	}
	if recorder.count() != 1 {
		t.Errorf("recorder saved %d records after double stop, want 1", recorder.count())
	}
}

func TestStopWithoutTextSavesNothing(t *testing.T) {
	backend := newTestBackend(t)

	recorder := &fakeRecorder{}
	c := newTestController(t, backend.server.URL, recorder)

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if recorder.count() != 0 {
		t.Errorf("recorder saved %d records for an empty session, want 0", recorder.count())
	}
}

func TestStopSaveFailureKeepsText(t *testing.T) {
	backend := newTestBackend(t)
	backend.setResult(segs("important", "words"), nil)

	recorder := &fakeRecorder{failErr: fmt.Errorf("store down")}
	c := newTestController(t, backend.server.URL, recorder)

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	err := c.Stop(context.Background())
	if err == nil {
		t.Fatal("expected error when persistence fails")
	}

	// The transcription stays available in memory for manual recovery.
	if got := c.CommittedText(); got != "important words" {
		t.Errorf("committed text after failed save = %q, want %q", got, "important words")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestClear(t *testing.T) {
	backend := newTestBackend(t)
	backend.setResult(segs("old", "text"), segs("pending"))

	c := newTestController(t, backend.server.URL, &fakeRecorder{})

	// Clear outside a session is rejected.
	if err := c.Clear(context.Background()); err == nil {
		t.Error("expected error clearing with no active session")
	}

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop(context.Background())

	time.Sleep(60 * time.Millisecond)
	if c.CommittedText() == "" {
		t.Fatal("expected committed text before clear")
	}

	backend.setResult(nil, nil)
	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	snap := c.GetSnapshot()
	if snap.CommittedText != "" || snap.UncommittedText != "" {
		t.Errorf("text after clear = %q / %q, want empty", snap.CommittedText, snap.UncommittedText)
	}
	if c.State() != StateActive {
		t.Errorf("state after clear = %s, want active", c.State())
	}
}

func TestClosedChunkChannelKeepsSessionAlive(t *testing.T) {
	backend := newTestBackend(t)
	backend.setResult(segs("still", "polling"), nil)

	recorder := &fakeRecorder{}
	c := newTestController(t, backend.server.URL, recorder)

	chunks := make(chan []float32)
	if err := c.Start(context.Background(), "en", chunks); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The capture side going away does not end the session.
	close(chunks)
	time.Sleep(60 * time.Millisecond)

	if c.State() != StateActive {
		t.Fatalf("state after channel close = %s, want active", c.State())
	}
	if got := c.CommittedText(); got != "still polling" {
		t.Errorf("committed text = %q, want %q", got, "still polling")
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if recorder.count() != 1 {
		t.Errorf("recorder saved %d records, want 1", recorder.count())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateCreating, "creating"},
		{StateActive, "active"},
		{StateEnding, "ending"},
		{StateError, "error"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
