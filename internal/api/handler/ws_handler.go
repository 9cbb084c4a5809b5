package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the frontend origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink adapts a websocket connection to the progress sink interface.
// Writes are serialized because the broadcast goroutine and the ping
// responder share the connection.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(msg *domain.PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) sendText(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// WatchJobProgress handles GET /api/v1/processing/ws/:job_id
// Upgrades to a WebSocket and streams progress updates for one job
func (h *ProcessingHandler) WatchJobProgress(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	registry := h.bus.Registry()
	registry.Attach(jobID, sink)
	defer registry.Detach(jobID, sink)

	h.logger.Info("WebSocket subscriber attached", slog.String("job_id", jobID))

	// Replay the latest snapshot so the client does not start blind
	if snapshot, err := h.bus.GetLatest(c.Request.Context(), jobID); err == nil {
		if err := sink.Send(domain.NewPushMessage(snapshot)); err != nil {
			h.logger.Warn("Failed to replay snapshot",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
	} else if !errors.Is(err, progress.ErrSnapshotNotFound) {
		h.logger.Warn("Failed to load snapshot for replay",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	// Read loop: keepalive pings from the client, exit on disconnect
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket closed unexpectedly",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		if msgType == websocket.TextMessage && string(payload) == "ping" {
			if err := sink.sendText("pong"); err != nil {
				break
			}
		}
	}

	h.logger.Info("WebSocket subscriber detached", slog.String("job_id", jobID))
}
