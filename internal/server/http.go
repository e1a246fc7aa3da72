package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmaudet/twake-assistant/internal/capture"
	"github.com/mmaudet/twake-assistant/internal/config"
	"github.com/mmaudet/twake-assistant/internal/metrics"
	"github.com/mmaudet/twake-assistant/internal/session"
	"github.com/mmaudet/twake-assistant/internal/store"
	"github.com/mmaudet/twake-assistant/internal/transcription"
)

// HTTPServer provides the JSON API consumed by the capture front-end plus
// monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	controller *session.Controller
	pipeline   *capture.Pipeline
	store      *store.Store
	client     *transcription.Client
	metrics    *metrics.Metrics
	validate   *validator.Validate

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, controller *session.Controller,
	pipeline *capture.Pipeline, st *store.Store, client *transcription.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		controller: controller,
		pipeline:   pipeline,
		store:      st,
		client:     client,
		metrics:    m,
		validate:   validator.New(),
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Recording lifecycle
	mux.HandleFunc("POST /api/recording/start", h.withMetrics("/api/recording/start", h.handleRecordingStart))
	mux.HandleFunc("POST /api/recording/stop", h.withMetrics("/api/recording/stop", h.handleRecordingStop))
	mux.HandleFunc("POST /api/recording/clear", h.withMetrics("/api/recording/clear", h.handleRecordingClear))
	mux.HandleFunc("GET /api/recording", h.withMetrics("/api/recording", h.handleRecordingSnapshot))

	// Transcription history
	mux.HandleFunc("GET /api/transcriptions", h.withMetrics("/api/transcriptions", h.handleTranscriptionList))
	mux.HandleFunc("GET /api/transcriptions/{id}", h.withMetrics("/api/transcriptions/{id}", h.handleTranscriptionGet))
	mux.HandleFunc("DELETE /api/transcriptions/{id}", h.withMetrics("/api/transcriptions/{id}", h.handleTranscriptionDelete))
	mux.HandleFunc("GET /api/transcriptions/{id}/export", h.withMetrics("/api/transcriptions/{id}/export", h.handleTranscriptionExport))

	// Todos
	mux.HandleFunc("GET /api/todos", h.withMetrics("/api/todos", h.handleTodoList))
	mux.HandleFunc("POST /api/todos", h.withMetrics("/api/todos", h.handleTodoCreate))
	mux.HandleFunc("PUT /api/todos/{id}", h.withMetrics("/api/todos/{id}", h.handleTodoUpdate))
	mux.HandleFunc("DELETE /api/todos/{id}", h.withMetrics("/api/todos/{id}", h.handleTodoDelete))

	// Audio ingest
	mux.HandleFunc("GET /ws/audio", h.handleAudioWS)

	// Monitoring
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// ── Recording handlers ──

type startRecordingRequest struct {
	Language string `json:"language" validate:"omitempty,oneof=en fr de es it pt nl pl uk"`
}

// handleRecordingStart implements POST /api/recording/start
func (h *HTTPServer) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", req.Language))
		return
	}

	language := req.Language
	if language == "" {
		language = h.config.Transcription.DefaultLanguage
	}

	if h.controller.State() == session.StateActive {
		h.writeError(w, http.StatusConflict, "a recording is already active, stop it first")
		return
	}

	h.pipeline.Reset()

	if err := h.controller.Start(r.Context(), language, h.pipeline.Chunks()); err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, h.controller.GetSnapshot())
}

// handleRecordingStop implements POST /api/recording/stop
func (h *HTTPServer) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	stopErr := h.controller.Stop(r.Context())

	dumpPath, dumpErr := h.pipeline.DumpWAV()
	if dumpErr != nil {
		h.logger.Warn("Failed to dump recording", slog.String("error", dumpErr.Error()))
	}

	response := map[string]interface{}{
		"snapshot": h.controller.GetSnapshot(),
	}
	if dumpPath != "" {
		response["wav_path"] = dumpPath
	}
	if stopErr != nil {
		// Finalization errors are surfaced, but the session is Idle and the
		// text remains available in the snapshot.
		response["error"] = stopErr.Error()
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleRecordingClear implements POST /api/recording/clear
func (h *HTTPServer) handleRecordingClear(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Reset()

	if err := h.controller.Clear(r.Context()); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, h.controller.GetSnapshot())
}

// handleRecordingSnapshot implements GET /api/recording
func (h *HTTPServer) handleRecordingSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.controller.GetSnapshot())
}

// ── Transcription history handlers ──

// handleTranscriptionList implements GET /api/transcriptions
func (h *HTTPServer) handleTranscriptionList(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListTranscriptions(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":          len(records),
		"transcriptions": records,
	})
}

// handleTranscriptionGet implements GET /api/transcriptions/{id}
func (h *HTTPServer) handleTranscriptionGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetTranscription(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "transcription not found")
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// handleTranscriptionDelete implements DELETE /api/transcriptions/{id}
func (h *HTTPServer) handleTranscriptionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := h.store.GetTranscription(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "transcription not found")
		return
	}

	if err := h.store.DeleteTranscription(r.Context(), id, rec.Rev); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTranscriptionExport implements GET /api/transcriptions/{id}/export.
// Only committed text is ever exported.
func (h *HTTPServer) handleTranscriptionExport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetTranscription(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "transcription not found")
		return
	}

	filename := fmt.Sprintf("transcription-%s.txt", rec.CreatedAt.Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	fmt.Fprintln(w, rec.Text)
}

// ── Todo handlers ──

type todoRequest struct {
	Text string `json:"text" validate:"required,max=500"`
	Done bool   `json:"done"`
}

// handleTodoList implements GET /api/todos
func (h *HTTPServer) handleTodoList(w http.ResponseWriter, r *http.Request) {
	todos, err := h.store.ListTodos(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(todos),
		"todos": todos,
	})
}

// handleTodoCreate implements POST /api/todos
func (h *HTTPServer) handleTodoCreate(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "text is required and must be at most 500 characters")
		return
	}

	todo := &store.Todo{Text: req.Text, Done: req.Done}
	if err := h.store.SaveTodo(r.Context(), todo); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, todo)
}

// handleTodoUpdate implements PUT /api/todos/{id}
func (h *HTTPServer) handleTodoUpdate(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "text is required and must be at most 500 characters")
		return
	}

	todo, err := h.store.GetTodo(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "todo not found")
		return
	}

	todo.Text = req.Text
	todo.Done = req.Done
	if err := h.store.UpdateTodo(r.Context(), todo); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, todo)
}

// handleTodoDelete implements DELETE /api/todos/{id}
func (h *HTTPServer) handleTodoDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	todo, err := h.store.GetTodo(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "todo not found")
		return
	}

	if err := h.store.DeleteTodo(r.Context(), id, todo.Rev); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Monitoring handlers ──

// handleHealth implements GET /health
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	backendStatus := "healthy"
	checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.client.Health(checkCtx); err != nil {
		backendStatus = err.Error()
	}

	storeStatus := "healthy"
	if err := h.store.Ping(checkCtx); err != nil {
		storeStatus = err.Error()
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "twake-assistant-agent",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"state": h.controller.State().String(),
			},
			"transcription_backend": map[string]interface{}{
				"status": backendStatus,
			},
			"store": map[string]interface{}{
				"status": storeStatus,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements GET /config with sensitive data removed
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address": h.config.Server.Address,
			"port":    h.config.Server.Port,
		},
		"capture": map[string]interface{}{
			"sample_rate": h.config.Capture.SampleRate,
			"frame_size":  h.config.Capture.FrameSize,
			"chunk_size":  h.config.Capture.ChunkSize,
			"queue_depth": h.config.Capture.QueueDepth,
			"retain_wav":  h.config.Capture.RetainWAV,
		},
		"transcription": map[string]interface{}{
			"base_url":         h.config.Transcription.BaseURL,
			"default_language": h.config.Transcription.DefaultLanguage,
			"poll_interval":    h.config.Transcription.PollInterval,
			"timeout":          h.config.Transcription.Timeout,
		},
		"store": map[string]interface{}{
			// Note: the store URL is omitted, it may embed credentials
			"database": h.config.Store.Database,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements GET /stats
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"capture":       h.pipeline.GetStats(),
		"transcription": h.client.GetStats(),
		"session": map[string]interface{}{
			"state": h.controller.State().String(),
		},
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements GET / with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Twake Assistant Transcription Agent",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /api/recording/start":             "Start a transcription session",
			"POST /api/recording/stop":              "Stop the session and persist the transcription",
			"POST /api/recording/clear":             "Clear session buffers and local text",
			"GET /api/recording":                    "Live recording snapshot",
			"GET /api/transcriptions":               "List saved transcriptions",
			"GET /api/transcriptions/{id}":          "Get one transcription",
			"DELETE /api/transcriptions/{id}":       "Delete a transcription",
			"GET /api/transcriptions/{id}/export":   "Download a transcription as text",
			"GET /api/todos":                        "List todos",
			"POST /api/todos":                       "Create a todo",
			"PUT /api/todos/{id}":                   "Update a todo",
			"DELETE /api/todos/{id}":                "Delete a todo",
			"GET /ws/audio":                         "WebSocket audio frame ingest",
			"GET /health":                           "Service health check",
			"GET /config":                           "Get agent configuration",
			"GET /stats":                            "Get agent statistics",
			"GET /metrics":                          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

// ── Helpers ──

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
