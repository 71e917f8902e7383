package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// LastEventIDHeader is the resume header sent by SSE clients.
const LastEventIDHeader = "Last-Event-ID"

// ServerConfig configures the SSE and WebSocket handlers.
type ServerConfig struct {
	// WriteTimeout bounds a single WebSocket frame write.
	WriteTimeout time.Duration
	// PingInterval is the WebSocket ping period.
	PingInterval time.Duration
}

// DefaultServerConfig returns default transport settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Server exposes a Hub over SSE and WebSocket.
type Server struct {
	hub      *Hub
	cfg      ServerConfig
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewServer creates transport handlers for hub.
func NewServer(hub *Hub, cfg ServerConfig, logger logrus.FieldLogger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultServerConfig().WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultServerConfig().PingInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// subscribeOptions reads resume id and symbol filter from the request.
// The Last-Event-ID header takes precedence over the lastEventId query.
func subscribeOptions(r *http.Request) (SubscribeOptions, error) {
	var opts SubscribeOptions

	raw := r.Header.Get(LastEventIDHeader)
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw != "" {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid last event id %q", raw)
		}
		opts.LastEventID = id
	}

	opts.ClientID = r.URL.Query().Get("clientId")
	if s := r.URL.Query().Get("symbols"); s != "" {
		opts.Symbols = strings.Split(s, ",")
	}
	return opts, nil
}

// SSE streams hub messages as text/event-stream.
func (s *Server) SSE(c *gin.Context) {
	opts, err := subscribeOptions(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.hub.Subscribe(opts)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer s.hub.Unsubscribe(sub)

	log := s.logger.WithFields(logrus.Fields{
		"client_id": sub.ClientID,
		"transport": "sse",
	})
	log.WithFields(logrus.Fields{
		"last_event_id": opts.LastEventID,
		"replayed":      sub.Replayed,
		"resync":        sub.ResyncRequired,
	}).Info("stream client connected")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				log.WithError(sub.Err()).Info("stream subscription ended")
				return false
			}
			if err := writeSSE(w, msg); err != nil {
				log.WithError(err).Debug("sse write failed")
				return false
			}
			return true
		}
	})
}

// writeSSE writes one event frame. The id line is present only for
// buffered messages so clients never resume from a heartbeat.
func writeSSE(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	var b strings.Builder
	if msg.ID > 0 {
		fmt.Fprintf(&b, "id: %d\n", msg.ID)
	}
	fmt.Fprintf(&b, "event: %s\n", msg.Type)
	fmt.Fprintf(&b, "data: %s\n\n", data)
	_, err = io.WriteString(w, b.String())
	return err
}

// WebSocket streams hub messages as JSON text frames.
func (s *Server) WebSocket(c *gin.Context) {
	opts, err := subscribeOptions(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, err := s.hub.Subscribe(opts)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		return
	}
	defer s.hub.Unsubscribe(sub)

	log := s.logger.WithFields(logrus.Fields{
		"client_id": sub.ClientID,
		"transport": "websocket",
	})
	log.WithFields(logrus.Fields{
		"last_event_id": opts.LastEventID,
		"replayed":      sub.Replayed,
		"resync":        sub.ResyncRequired,
	}).Info("stream client connected")

	// Reader detects client close; inbound frames are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				log.WithError(sub.Err()).Info("stream subscription ended")
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, errString(sub.Err())))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
