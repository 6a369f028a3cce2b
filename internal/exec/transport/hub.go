package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

// Hub tracks live connections so shutdown can reach every session.
type Hub struct {
	conns *xsync.MapOf[string, *conn]
}

func NewHub() *Hub {
	return &Hub{conns: xsync.NewMapOf[string, *conn]()}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	return h.conns.Size()
}

func (h *Hub) add(c *conn) {
	h.conns.Store(c.id, c)
}

func (h *Hub) remove(c *conn) {
	h.conns.Delete(c.id)
}

// Shutdown sends a going-away close frame to every connection and waits for them to drain.
func (h *Hub) Shutdown(ctx context.Context) {
	h.conns.Range(func(_ string, c *conn) bool {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
		return true
	})
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for h.Count() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
