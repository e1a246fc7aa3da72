// Command mockbackend is a stand-in for the streaming transcription backend,
// useful for developing and demoing the agent without GPU infrastructure. It
// implements the same session protocol and fabricates committed segments as
// audio accumulates.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmaudet/twake-assistant/internal/audio"
)

// commitWindow is the amount of audio that produces one committed segment.
const commitWindow = 32000 // 2 seconds at 16 kHz

var phrases = []string{
	"bonjour et bienvenue",
	"le point suivant concerne le planning",
	"nous devons valider le budget",
	"la livraison est prévue pour vendredi",
	"quelqu'un peut-il prendre cette action",
	"passons au sujet suivant",
}

type mockSession struct {
	language  string
	samples   int
	committed []map[string]interface{}
	createdAt time.Time

	mu sync.Mutex
}

type backend struct {
	sessions map[string]*mockSession
	logger   *slog.Logger

	mu sync.Mutex
}

func main() {
	port := flag.Int("port", 8000, "Port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	b := &backend{
		sessions: make(map[string]*mockSession),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/create/{$}", b.handleCreate)
	mux.HandleFunc("POST /session/{id}/add_chunk", b.handleAddChunk)
	mux.HandleFunc("POST /session/{id}/process", b.handleProcess)
	mux.HandleFunc("POST /session/{id}/end", b.handleEnd)
	mux.HandleFunc("POST /session/{id}/clear", b.handleClear)
	mux.HandleFunc("GET /health", b.handleHealth)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock transcription backend listening", slog.String("addr", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (b *backend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	id := uuid.New().String()
	b.mu.Lock()
	b.sessions[id] = &mockSession{language: req.Language, createdAt: time.Now()}
	b.mu.Unlock()

	b.logger.Info("Session created",
		slog.String("session_id", id),
		slog.String("language", req.Language),
	)

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (b *backend) handleAddChunk(w http.ResponseWriter, r *http.Request) {
	s := b.lookup(w, r)
	if s == nil {
		return
	}

	var req struct {
		AudioBase64 string `json:"audio_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	samples, err := audio.DecodeChunkBase64(req.AudioBase64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.samples += len(samples)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (b *backend) handleProcess(w http.ResponseWriter, r *http.Request) {
	s := b.lookup(w, r)
	if s == nil {
		return
	}

	s.mu.Lock()
	// One committed segment per full commit window of received audio.
	target := s.samples / commitWindow
	for len(s.committed) < target {
		text := phrases[len(s.committed)%len(phrases)]
		start := float64(len(s.committed) * 2)
		s.committed = append(s.committed, map[string]interface{}{
			"text":      text,
			"timestamp": []float64{start, start + 2},
		})
	}

	var uncommitted []map[string]interface{}
	if s.samples%commitWindow > commitWindow/4 {
		next := phrases[len(s.committed)%len(phrases)]
		uncommitted = append(uncommitted, map[string]interface{}{
			"text": strings.Join(strings.Fields(next)[:1], " "),
		})
	}

	resp := map[string]interface{}{
		"committed":   s.committed,
		"uncommitted": uncommitted,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (b *backend) handleEnd(w http.ResponseWriter, r *http.Request) {
	s := b.lookup(w, r)
	if s == nil {
		return
	}

	s.mu.Lock()
	duration := time.Since(s.createdAt)
	s.mu.Unlock()

	b.mu.Lock()
	delete(b.sessions, r.PathValue("id"))
	b.mu.Unlock()

	b.logger.Info("Session ended",
		slog.String("session_id", r.PathValue("id")),
		slog.Duration("duration", duration),
	)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (b *backend) handleClear(w http.ResponseWriter, r *http.Request) {
	s := b.lookup(w, r)
	if s == nil {
		return
	}

	s.mu.Lock()
	s.samples = 0
	s.committed = nil
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (b *backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	active := len(b.sessions)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": active,
	})
}

func (b *backend) lookup(w http.ResponseWriter, r *http.Request) *mockSession {
	b.mu.Lock()
	s := b.sessions[r.PathValue("id")]
	b.mu.Unlock()

	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
