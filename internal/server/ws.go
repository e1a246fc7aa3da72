package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mmaudet/twake-assistant/internal/audio"
	"github.com/mmaudet/twake-assistant/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The capture front-end is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is a text frame sent by the capture front-end alongside
// binary audio frames.
type controlMessage struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
}

// handleAudioWS implements GET /ws/audio. Binary messages carry one capture
// frame of little-endian float32 samples; text messages carry JSON control
// commands (start, stop, reset). Closing the connection does not end an
// active session: the controller keeps polling until an explicit stop.
func (h *HTTPServer) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := uuid.New().String()[:8]
	h.metrics.WSConnectionOpened()
	defer h.metrics.WSConnectionClosed()

	h.logger.Info("Audio ingest connected",
		slog.String("conn_id", connID),
		slog.String("remote", r.RemoteAddr),
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Audio ingest closed unexpectedly",
					slog.String("conn_id", connID),
					slog.String("error", err.Error()),
				)
			} else {
				h.logger.Info("Audio ingest disconnected", slog.String("conn_id", connID))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			frame, err := audio.BytesToSamples(data)
			if err != nil {
				h.logger.Warn("Dropping malformed audio frame",
					slog.String("conn_id", connID),
					slog.Int("bytes", len(data)),
				)
				continue
			}
			h.pipeline.PushFrame(frame)

		case websocket.TextMessage:
			h.handleControl(conn, connID, data)
		}
	}
}

// handleControl dispatches a JSON control command from the ingest connection
func (h *HTTPServer) handleControl(conn *websocket.Conn, connID string, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.writeWSStatus(conn, "error", "invalid control message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Type {
	case "start":
		language := msg.Language
		if language == "" {
			language = h.config.Transcription.DefaultLanguage
		}
		if h.controller.State() == session.StateActive {
			h.writeWSStatus(conn, "error", "a recording is already active")
			return
		}
		h.pipeline.Reset()
		if err := h.controller.Start(ctx, language, h.pipeline.Chunks()); err != nil {
			h.writeWSStatus(conn, "error", err.Error())
			return
		}
		h.writeWSStatus(conn, "started", "")

	case "stop":
		if err := h.controller.Stop(ctx); err != nil {
			h.writeWSStatus(conn, "error", err.Error())
			return
		}
		if _, err := h.pipeline.DumpWAV(); err != nil {
			h.logger.Warn("Failed to dump recording",
				slog.String("conn_id", connID),
				slog.String("error", err.Error()),
			)
		}
		h.writeWSStatus(conn, "stopped", "")

	case "reset":
		h.pipeline.Reset()
		if err := h.controller.Clear(ctx); err != nil {
			h.writeWSStatus(conn, "error", err.Error())
			return
		}
		h.writeWSStatus(conn, "cleared", "")

	default:
		h.logger.Warn("Unknown control command",
			slog.String("conn_id", connID),
			slog.String("type", msg.Type),
		)
		h.writeWSStatus(conn, "error", "unknown command")
	}
}

func (h *HTTPServer) writeWSStatus(conn *websocket.Conn, status, detail string) {
	payload := map[string]string{"status": status}
	if detail != "" {
		payload["detail"] = detail
	}
	if err := conn.WriteJSON(payload); err != nil {
		h.logger.Warn("Failed to write WebSocket status", slog.String("error", err.Error()))
	}
}
