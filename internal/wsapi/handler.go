package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callsignal/internal/admission"
	"callsignal/internal/dispatch"
	"callsignal/internal/session"
	"callsignal/internal/switchboard"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Options struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration

	// Limiter caps sockets per client address; nil disables the cap.
	Limiter admission.ConnLimiter

	// Context bounds every connection; cancelling it closes all sockets.
	Context context.Context

	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.MaxMessageBytes <= 0 {
		out.MaxMessageBytes = 1 << 20
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 20 * time.Second
	}
	if out.PongWait <= out.PingInterval {
		out.PongWait = out.PingInterval * 9 / 4
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.Context == nil {
		out.Context = context.Background()
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Handler upgrades HTTP requests to signaling sockets and feeds their frames
// to the switchboard.
type Handler struct {
	sb       *switchboard.Switchboard
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(sb *switchboard.Switchboard, opts Options) *Handler {
	opts = opts.withDefaults()
	return &Handler{
		sb:   sb,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		log: opts.Logger.With("component", "wsapi"),
	}
}

// Serve is the gin handler for the signaling endpoint. It blocks for the
// lifetime of the socket.
func (h *Handler) Serve(c *gin.Context) {
	addr := c.ClientIP()

	admitted := false
	if h.opts.Limiter != nil {
		err := h.opts.Limiter.Acquire(c.Request.Context(), addr)
		switch {
		case err == nil:
			admitted = true
		case errors.Is(err, admission.ErrCapReached):
			h.log.Warn("connection cap reached", "remote_addr", addr)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		default:
			// Admission store is down; do not take signaling down with it.
			h.log.Warn("connection cap unavailable", "remote_addr", addr, "err", err)
		}
	}
	defer func() {
		if !admitted {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer cancel()
		if err := h.opts.Limiter.Release(ctx, addr); err != nil {
			h.log.Warn("connection cap release failed", "remote_addr", addr, "err", err)
		}
	}()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "remote_addr", addr, "err", err)
		return
	}

	conn := newConn(ws, uuid.NewString(), addr, h.opts.WriteTimeout, h.log)
	conn.log.Debug("socket opened")
	h.serveConn(conn)
}

// connState is what the read loop knows about its connection.
type connState struct {
	bound  bool
	handle session.Handle
}

func (h *Handler) serveConn(conn *Conn) {
	ctx, cancel := context.WithCancel(h.opts.Context)
	defer cancel()
	defer conn.close()

	conn.ws.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.keepalive(ctx, conn)

	var st connState
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.log.Info("socket read failed", "err", err)
			}
			break
		}
		h.handleFrame(ctx, conn, &st, data)
	}

	if st.bound {
		lostCtx, lostCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer lostCancel()
		if err := h.sb.ConnectionLost(lostCtx, st.handle); err != nil && !errors.Is(err, switchboard.ErrUnavailable) {
			conn.log.Warn("connection loss not recorded", "err", err)
		}
	}
	conn.log.Debug("socket closed")
}

func (h *Handler) keepalive(ctx context.Context, conn *Conn) {
	t := time.NewTicker(h.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.close()
			return
		case <-t.C:
			if err := conn.ping(); err != nil {
				conn.close()
				return
			}
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *Conn, st *connState, data []byte) {
	var req inbound
	if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
		h.answer(ctx, conn, st, req, switchboard.ErrBadRequest)
		return
	}
	ctx = dispatch.WithRef(ctx, req.ID)

	switch req.Type {
	case switchboard.RequestAuthorize:
		if st.bound {
			h.answer(ctx, conn, st, req, session.ErrAlreadyOnline)
			return
		}
		g, err := h.sb.Authorize(ctx, req.Nickname, conn.id, conn, conn.remote)
		if err != nil {
			h.answer(ctx, conn, st, req, err)
			return
		}
		h.bind(conn, st, g)
		return

	case switchboard.RequestReconnect:
		if st.bound {
			h.answer(ctx, conn, st, req, session.ErrAlreadyOnline)
			return
		}
		g, err := h.sb.Reconnect(ctx, req.Nickname, req.Token, conn.id, conn, conn.remote)
		if err != nil {
			h.answer(ctx, conn, st, req, err)
			return
		}
		h.bind(conn, st, g)
		return
	}

	if !st.bound {
		h.answer(ctx, conn, st, req, switchboard.ErrNotAuthorized)
		return
	}

	err := h.dispatch(ctx, st, req)
	if err == nil {
		if req.Type == switchboard.RequestLogout {
			st.bound = false
			conn.log.Info("session logged out on socket", "nickname", st.handle.Nickname)
		}
		return
	}
	if !switchboard.Queued(err) {
		if errors.Is(err, switchboard.ErrNotAuthorized) {
			// The session moved to another socket.
			st.bound = false
		}
		h.answer(ctx, conn, st, req, err)
	}
}

func (h *Handler) bind(conn *Conn, st *connState, g switchboard.Grant) {
	st.bound = true
	st.handle = g.Handle
	conn.log = conn.log.With("nickname", g.Handle.Nickname)
}

// dispatch runs one session request. Its result is queued by the switchboard
// unless switchboard.Queued says otherwise.
func (h *Handler) dispatch(ctx context.Context, st *connState, req inbound) error {
	hd := st.handle
	switch req.Type {
	case switchboard.RequestLogout:
		return h.sb.Logout(ctx, hd)
	case switchboard.RequestGetUserInfo:
		_, err := h.sb.GetUserInfo(ctx, hd, req.Nickname)
		return err
	case switchboard.RequestGetState:
		_, err := h.sb.GetState(ctx, hd)
		return err
	case switchboard.RequestUpdateSettings:
		if req.Settings == nil {
			return switchboard.ErrBadRequest
		}
		_, err := h.sb.UpdateSettings(ctx, hd, *req.Settings)
		return err
	case switchboard.RequestStartOutgoingCall:
		return h.sb.StartOutgoingCall(ctx, hd, req.Callee)
	case switchboard.RequestStopOutgoingCall:
		return h.sb.StopOutgoingCall(ctx, hd)
	case switchboard.RequestAcceptCall:
		return h.sb.AcceptCall(ctx, hd, req.Caller)
	case switchboard.RequestDeclineCall:
		return h.sb.DeclineCall(ctx, hd, req.Caller)
	case switchboard.RequestEndCall:
		return h.sb.EndCall(ctx, hd)
	case switchboard.RequestStartSharing:
		return h.sb.StartSharing(ctx, hd, session.MediaKind(req.Media))
	case switchboard.RequestStopSharing:
		return h.sb.StopSharing(ctx, hd, session.MediaKind(req.Media))
	case switchboard.RequestSharingChunk:
		return h.sb.SendChunk(ctx, hd, session.MediaKind(req.Media), req.Data)
	default:
		return switchboard.ErrBadRequest
	}
}

// answer replies to a request the switchboard did not queue a result for. A
// bound connection replies through its session outbox to stay in order with
// queued results; otherwise, or when the switchboard cannot take it, the reply
// goes straight to the socket.
func (h *Handler) answer(ctx context.Context, conn *Conn, st *connState, req inbound, err error) {
	n := directResult(req, err)
	conn.log.Debug("request answered by transport", "request", req.Type, "code", n.Code, "kind", switchboard.KindOf(err))
	if st.bound && !errors.Is(err, switchboard.ErrUnavailable) {
		qerr := h.sb.Answer(ctx, st.handle, n)
		if qerr == nil {
			return
		}
		if errors.Is(qerr, switchboard.ErrNotAuthorized) {
			st.bound = false
		}
	}
	if err := conn.writeJSON(n); err != nil {
		conn.log.Debug("direct reply failed", "err", err)
		conn.close()
	}
}
