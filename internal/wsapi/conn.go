package wsapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callsignal/internal/dispatch"

	"github.com/gorilla/websocket"
)

// Conn is one client socket. It is the dispatch.Sink of the session bound to
// it; writes from the outbox goroutine, direct replies and pings share mu.
type Conn struct {
	ws     *websocket.Conn
	id     string
	remote string

	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	log       *slog.Logger
}

func newConn(ws *websocket.Conn, id, remote string, writeTimeout time.Duration, log *slog.Logger) *Conn {
	return &Conn{
		ws:           ws,
		id:           id,
		remote:       remote,
		writeTimeout: writeTimeout,
		log:          log.With("conn_id", id, "remote_addr", remote),
	}
}

// Deliver writes n to the socket. A failed write closes the socket so the
// read loop notices the loss.
func (c *Conn) Deliver(_ context.Context, n dispatch.Notification) error {
	if err := c.writeJSON(n); err != nil {
		c.close()
		return err
	}
	return nil
}

func (c *Conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
