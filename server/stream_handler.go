package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Stream message types
const (
	EventTypeConnected = "connected"
	EventTypeValues    = "values"
	EventTypeWin       = "win"
	EventTypeHeartbeat = "heartbeat"
)

// StreamMessage is one message on the runtime stream.
type StreamMessage struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Levels    []LevelValue  `json:"levels,omitempty"`
	PackName  string        `json:"packName,omitempty"`
	Wins      map[int]int64 `json:"wins,omitempty"`
}

// LevelValue is the displayed state of an active level.
type LevelValue struct {
	DeviceID  int    `json:"deviceId"`
	LevelID   int    `json:"levelId"`
	LevelName string `json:"levelName"`
	PackName  string `json:"packName"`
	Value     int64  `json:"value"`
	State     string `json:"state"`
}

// StreamHandler pushes runtime notifications over SSE or WebSocket.
type StreamHandler struct {
	game            GameService
	broadcaster     *Broadcaster
	logger          zerolog.Logger
	heartbeatPeriod time.Duration
	batchWindow     time.Duration
	upgrader        websocket.Upgrader
	closing         chan struct{}
	closeOnce       sync.Once
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(game GameService, broadcaster *Broadcaster, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		game:            game,
		broadcaster:     broadcaster,
		logger:          logger.With().Str("handler", "stream").Logger(),
		heartbeatPeriod: 30 * time.Second,
		batchWindow:     50 * time.Millisecond,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		closing: make(chan struct{}),
	}
}

// Close ends every open stream.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// StreamSSE opens a server-sent events stream.
// Route: GET /api/game/stream
func (h *StreamHandler) StreamSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	// The server write timeout would otherwise cut the stream.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug().Err(err).Msg("Stream write deadline not cleared")
	}
	c.Writer.WriteHeader(http.StatusOK)

	h.stream(c.Request.Context(), &sseSender{writer: c.Writer}, nil)
}

// StreamWebSocket opens a WebSocket stream.
// Route: GET /api/game/stream/ws
func (h *StreamHandler) StreamWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close() //nolint:errcheck

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Warn().Err(err).Msg("WebSocket connection closed unexpectedly")
				}
				return
			}
		}
	}()

	sender := &wsSender{conn: conn, done: done, writeDeadline: 10 * time.Second}
	h.stream(c.Request.Context(), sender, done)
}

// stream sends the current values, then forwards notifications until the client goes away.
// Value notifications arriving within batchWindow are sent as one snapshot.
func (h *StreamHandler) stream(ctx context.Context, sender messageSender, closed <-chan struct{}) {
	updates, cancel := h.broadcaster.Listen(ctx)
	defer cancel()

	if err := sender.Send(&StreamMessage{Type: EventTypeConnected, Timestamp: time.Now().Unix()}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send connected event, stopping stream")
		return
	}
	if !h.sendValues(sender) {
		return
	}

	heartbeat := time.NewTicker(h.heartbeatPeriod)
	defer heartbeat.Stop()
	batch := time.NewTimer(h.batchWindow)
	batch.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			h.logger.Debug().Msg("WebSocket connection closed, stopping stream")
			return
		case <-h.closing:
			return
		case <-heartbeat.C:
			if err := sender.Send(&StreamMessage{Type: EventTypeHeartbeat, Timestamp: time.Now().Unix()}); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to send heartbeat, stopping stream")
				return
			}
		case <-batch.C:
			pending = false
			if !h.sendValues(sender) {
				return
			}
		case n, ok := <-updates:
			if !ok {
				return
			}
			switch n.Type {
			case NotificationValuesChanged:
				if !pending {
					pending = true
					batch.Reset(h.batchWindow)
				}
			case NotificationWin:
				if err := sender.Send(&StreamMessage{
					Type:      EventTypeWin,
					Timestamp: time.Now().Unix(),
					PackName:  n.PackName,
					Wins:      n.Wins,
				}); err != nil {
					h.logger.Warn().Err(err).Msg("Failed to send win, stopping stream")
					return
				}
			}
		}
	}
}

func (h *StreamHandler) sendValues(sender messageSender) bool {
	levels, err := h.game.GetActiveProgressiveLevels()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read active progressive levels")
		return true
	}
	if len(levels) == 0 {
		return true
	}
	if err := sender.Send(&StreamMessage{
		Type:      EventTypeValues,
		Timestamp: time.Now().Unix(),
		Levels:    levelValues(levels),
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send values, stopping stream")
		return false
	}
	return true
}

func levelValues(levels []progressive.ProgressiveLevel) []LevelValue {
	return lo.Map(levels, func(l progressive.ProgressiveLevel, _ int) LevelValue {
		return LevelValue{
			DeviceID:  l.DeviceID,
			LevelID:   l.LevelID,
			LevelName: l.LevelName,
			PackName:  l.PackName,
			Value:     l.CurrentValue,
			State:     l.CurrentState.String(),
		}
	})
}

// messageSender sends messages over SSE or WebSocket.
type messageSender interface {
	Send(*StreamMessage) error
}

type sseSender struct {
	writer gin.ResponseWriter
}

func (s *sseSender) Send(msg *StreamMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := s.writer.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	s.writer.Flush()
	return nil
}

type wsSender struct {
	conn          *websocket.Conn
	done          <-chan struct{}
	writeDeadline time.Duration
}

func (s *wsSender) Send(msg *StreamMessage) error {
	select {
	case <-s.done:
		return io.EOF
	default:
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeDeadline)); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	return nil
}
