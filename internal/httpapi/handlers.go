package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callsignal/internal/audit"
	"callsignal/internal/auth"
	"callsignal/internal/reporting"
	"callsignal/internal/switchboard"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Switchboard *switchboard.Switchboard
	Reporting   *reporting.Service
	Audit       *audit.Service

	// Checks are dependency checks for readiness, keyed by name (postgres, redis...).
	Checks map[string]func(ctx context.Context) error
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether the switchboard is running and every dependency answers.
func (h Handlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	if h.Switchboard == nil {
		failed["switchboard"] = "not configured"
	} else if _, err := h.Switchboard.Stats(ctx); err != nil {
		failed["switchboard"] = err.Error()
	}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// --- Session ---

// Me echoes the identity carried by the bearer token.
func (h Handlers) Me(c *gin.Context) {
	nick, _ := auth.Nickname(c.Request.Context())
	sid, _ := auth.SessionID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"nickname": nick, "session_id": sid, "role": role})
}

// UserInfo answers a presence query. Only a live session may ask.
func (h Handlers) UserInfo(c *gin.Context) {
	if h.Switchboard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "switchboard not configured"})
		return
	}
	requester, err := auth.Nickname(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session identity required"})
		return
	}
	sid, _ := auth.SessionID(c.Request.Context())
	nick := c.Param("nickname")
	if nick == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "nickname required"})
		return
	}

	info, err := h.Switchboard.UserInfoFor(c.Request.Context(), requester, sid, nick)
	if err != nil {
		writeSwitchboardError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// --- Admin ---

// AdminStats returns live switchboard state and outcome counters.
// RBAC: operator.
func (h Handlers) AdminStats(c *gin.Context) {
	if h.Switchboard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "switchboard not configured"})
		return
	}
	st, err := h.Switchboard.Stats(c.Request.Context())
	if err != nil {
		writeSwitchboardError(c, err)
		return
	}
	out := gin.H{"switchboard": st}
	if h.Reporting != nil {
		out["outcomes"] = h.Reporting.Summary()
	}
	c.JSON(http.StatusOK, out)
}

// AdminAudit lists recent session audit events, optionally for one nickname.
// RBAC: operator.
func (h Handlers) AdminAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := h.Audit.Recent(c.Request.Context(), c.Query("nickname"), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func writeSwitchboardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, switchboard.ErrNotAuthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session is no longer online"})
	case errors.Is(err, switchboard.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "switchboard unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
