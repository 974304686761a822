package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"dialpoint/internal/auth"
	"dialpoint/internal/calls"
	"dialpoint/internal/rbac"
	"dialpoint/internal/reporting"
	"dialpoint/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Sessions  *session.Registry
	Reporting *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Dialer ---

type dialRequest struct {
	ToNumber    string `json:"to_number"`
	ContactName string `json:"contact_name,omitempty"`
}

type digitsRequest struct {
	Digits string `json:"digits"`
}

// GetSession returns the tenant's current dialer session view.
func (h Handlers) GetSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Dial starts an outbound call for the caller's tenant.
func (h Handlers) Dial(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ToNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to_number required"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	if err := ctrl.Dial(c.Request.Context(), req.ToNumber, req.ContactName, userID); err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Hangup ends the live call (or abandons a dial attempt).
func (h Handlers) Hangup(c *gin.Context) {
	h.sessionOp(c, func(ctrl *session.Controller) error {
		return ctrl.Hangup(c.Request.Context())
	})
}

// ToggleMute flips between active and muted.
func (h Handlers) ToggleMute(c *gin.Context) {
	h.sessionOp(c, func(ctrl *session.Controller) error {
		return ctrl.ToggleMute(c.Request.Context())
	})
}

// Answer accepts an inbound ringing call.
func (h Handlers) Answer(c *gin.Context) {
	h.sessionOp(c, func(ctrl *session.Controller) error {
		return ctrl.Answer(c.Request.Context())
	})
}

// Reject declines an inbound ringing call.
func (h Handlers) Reject(c *gin.Context) {
	h.sessionOp(c, func(ctrl *session.Controller) error {
		return ctrl.Reject(c.Request.Context())
	})
}

// SendDigits sends DTMF digits into the live call.
func (h Handlers) SendDigits(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req digitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Digits == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "digits required"})
		return
	}
	if err := ctrl.SendDigits(c.Request.Context(), req.Digits); err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h Handlers) sessionOp(c *gin.Context, op func(*session.Controller) error) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := op(ctrl); err != nil {
		abortWithCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h Handlers) controller(c *gin.Context) (*session.Controller, bool) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return nil, false
	}
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return nil, false
	}
	return h.Sessions.For(tenantID), true
}

// --- Reporting ---

// ListCalls lists the tenant's call log, newest first.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	req := reporting.CallLogsRequest{
		TenantID:  tenantID,
		Direction: calls.Direction(c.Query("direction")),
		Status:    calls.CallStatus(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Limit = n
		}
	}
	req.Range.From, _ = parseTimeParam(c.Query("from"))
	req.Range.To, _ = parseTimeParam(c.Query("to"))

	rows, err := h.Reporting.CallLogs(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows})
}

// CallsSummary aggregates the tenant's call outcomes over a time range.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	req := reporting.CallsSummaryRequest{TenantID: tenantID}
	var perr error
	if req.Range.From, perr = parseTimeParam(c.Query("from")); perr != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if req.Range.To, perr = parseTimeParam(c.Query("to")); perr != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}

	out, err := h.Reporting.CallsSummary(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to are required and to must be after from"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// abortWithCallError maps the call-control error taxonomy onto HTTP statuses.
//
// StateError and IdentityError are caller-resolvable conflicts (409);
// ProviderError means the relay/carrier rejected the command (502);
// NetworkError means the command outcome is unknown (504).
func abortWithCallError(c *gin.Context, err error) {
	var stateErr *calls.StateError
	var identityErr *calls.IdentityError
	var providerErr *calls.ProviderError
	var networkErr *calls.NetworkError

	switch {
	case errors.As(err, &stateErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": stateErr.Error(), "kind": "state"})
	case errors.As(err, &identityErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": identityErr.Error(), "kind": "identity"})
	case errors.As(err, &providerErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": providerErr.Error(), "kind": "provider"})
	case errors.As(err, &networkErr):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": networkErr.Error(), "kind": "network"})
	case errors.Is(err, session.ErrStopped):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dialer shutting down"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call operation failed"})
	}
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}
