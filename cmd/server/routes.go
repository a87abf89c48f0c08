package main

import (
	"callsignal/internal/auth"
	"callsignal/internal/httpapi"
	"callsignal/internal/rbac"
	"callsignal/internal/wsapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, ws *wsapi.Handler, tokens *auth.Manager) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	v1 := r.Group("/v1")

	// Signaling socket. Clients authorize with their first frame, so the
	// upgrade itself is unauthenticated.
	v1.GET("/ws", ws.Serve)

	// Session token holders.
	authed := v1.Group("")
	authed.Use(auth.RequireSessionToken(tokens), rbac.RequireIdentity())
	{
		authed.GET("/me", h.Me)
		authed.GET("/users/:nickname", h.UserInfo)
	}

	// ADMIN routes
	admin := authed.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleOperator))
	{
		admin.GET("/stats", h.AdminStats)
		admin.GET("/audit", h.AdminAudit)
	}
}
