// Package transport exposes execution sessions over a websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"judgebox/internal/common/http/middleware"
	"judgebox/internal/exec/sandbox/observer"
	"judgebox/internal/exec/session"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/contextkey"
	"judgebox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReadLimit  = 1 << 20
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 50 * time.Second
)

// Session is the part of session.Session the transport drives.
type Session interface {
	ID() string
	Start(ctx context.Context, req session.ExecuteRequest) error
	SendInput(ctx context.Context, text string) bool
	Stop() bool
	Close()
	Events() <-chan session.Event
}

// SessionFactory creates a session for a new connection.
type SessionFactory func(id string) Session

// Config tunes websocket framing and keepalive.
type Config struct {
	ReadLimit      int64         `yaml:"readLimit"`
	WriteWait      time.Duration `yaml:"writeWait"`
	PongWait       time.Duration `yaml:"pongWait"`
	PingPeriod     time.Duration `yaml:"pingPeriod"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
}

// Handler upgrades requests and pumps frames between the socket and a session.
type Handler struct {
	upgrader websocket.Upgrader
	factory  SessionFactory
	hub      *Hub
	metrics  observer.MetricsRecorder
	cfg      Config
}

// NewHandler creates a websocket handler.
func NewHandler(factory SessionFactory, hub *Hub, metrics observer.MetricsRecorder, cfg Config) *Handler {
	cfg.ApplyDefaults()
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if hub == nil {
		hub = NewHub()
	}
	h := &Handler{
		factory: factory,
		hub:     hub,
		metrics: metrics,
		cfg:     cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Hub returns the connection registry.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// ServeWS handles GET /ws/execute.
func (h *Handler) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	id := uuid.NewString()
	ctx := context.WithValue(c.Request.Context(), contextkey.SessionID, id)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cn := &conn{
		id:      id,
		ws:      ws,
		session: h.factory(id),
		cfg:     h.cfg,
	}
	h.hub.add(cn)
	h.metrics.ConnectionOpened()
	logger.Info(ctx, "websocket connected", zap.String("user_id", middleware.UserID(c)), zap.String("remote", c.ClientIP()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cn.writeLoop(ctx)
	}()
	reason := cn.readLoop(ctx)

	cn.session.Close()
	<-writerDone
	_ = ws.Close()
	h.hub.remove(cn)
	h.metrics.ConnectionClosed(reason)
	logger.Info(ctx, "websocket disconnected",
		zap.String("reason", reason),
		zap.Int("code", int(appErr.TransportDisconnected)),
	)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return middleware.OriginAllowed(origin, h.cfg.AllowedOrigins)
}

type conn struct {
	id      string
	ws      *websocket.Conn
	session Session
	cfg     Config
}

// readLoop dispatches inbound frames until the socket fails and returns the close reason.
func (c *conn) readLoop(ctx context.Context) string {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return closeReason(err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.dispatch(ctx, data)
	}
}

func (c *conn) dispatch(ctx context.Context, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn(ctx, "invalid frame", zap.Error(err))
		return
	}
	switch frame.Event {
	case EventExecuteCode:
		var req session.ExecuteRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			logger.Warn(ctx, "invalid execute-code payload", zap.Error(err))
			return
		}
		if err := c.session.Start(ctx, req); err != nil {
			logger.Warn(ctx, "start execution failed", zap.Error(err))
		}
	case EventSendInput:
		text, err := parseInput(frame.Data)
		if err != nil {
			logger.Warn(ctx, "invalid send-input payload", zap.Error(err))
			return
		}
		if !c.session.SendInput(ctx, text) {
			logger.Debug(ctx, "input ignored, no run is accepting input")
		}
	case EventStopExecution:
		c.session.Stop()
	default:
		logger.Warn(ctx, "unknown event ignored", zap.String("event", frame.Event))
	}
}

// writeLoop serializes session events and keepalive pings onto the socket.
// After a write failure it keeps draining so the session never blocks.
func (c *conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	events := c.session.Events()
	broken := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !broken {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
				}
				return
			}
			if broken {
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteJSON(toFrame(ev)); err != nil {
				logger.Warn(ctx, "websocket write failed", zap.Error(err))
				broken = true
				_ = c.ws.Close()
			}
		case <-ticker.C:
			if broken {
				continue
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				broken = true
				_ = c.ws.Close()
			}
		}
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return "client_closed"
		default:
			return "close_error"
		}
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return "read_limit"
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "disconnect"
}
