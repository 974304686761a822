package main

import (
	"net/http"

	"dialpoint/internal/auth"
	"dialpoint/internal/httpapi"
	"dialpoint/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, wh httpapi.WebhookHandlers, ready gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Relay status callbacks (public).
	// NOTE: This endpoint should be protected by relay signature validation in production.
	r.POST("/webhooks/relay/voice", wh.HandleCallStatus)

	// Token issuance is public; everything else under /v1 requires a token.
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Identity extraction via context.
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// DIALER routes: call control for the caller's tenant.
		dialer := v1.Group("/dialer")
		dialer.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin)...)
		{
			dialer.GET("/session", h.GetSession)
			dialer.POST("/dial", h.Dial)
			dialer.POST("/hangup", h.Hangup)
			dialer.POST("/mute-toggle", h.ToggleMute)
			dialer.POST("/digits", h.SendDigits)
			dialer.POST("/answer", h.Answer)
			dialer.POST("/reject", h.Reject)
		}

		// CALLS routes: read-only projections of the call record store.
		callsGroup := v1.Group("/calls")
		callsGroup.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleAnalyst, rbac.RoleSuperAdmin)...)
		{
			callsGroup.GET("", h.ListCalls)
			callsGroup.GET("/summary", h.CallsSummary)
		}
	}
}
