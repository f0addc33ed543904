package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adamscao/ovpnpanel/internal/auth"
	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/adamscao/ovpnpanel/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionCookie is the name of the session cookie
const SessionCookie = "ovpnpanel_session"

// SessionHandler handles login and logout
type SessionHandler struct {
	creds    auth.Credentials
	sessions *auth.SessionManager
	limiter  ratelimit.Throttle
	panel    *panel.Panel
	log      logrus.FieldLogger
}

// NewSessionHandler creates a new session handler. limiter may be nil.
func NewSessionHandler(creds auth.Credentials, sessions *auth.SessionManager, limiter ratelimit.Throttle, p *panel.Panel, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{
		creds:    creds,
		sessions: sessions,
		limiter:  limiter,
		panel:    p,
		log:      log,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login verifies the administrator credentials and starts a session
// POST /api/login
func (h *SessionHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	clientIP := GetClientIP(c)
	who := panel.Actor{Username: req.Username, IP: clientIP, UserAgent: c.GetHeader("User-Agent")}

	// Check rate limit
	if h.limiter != nil {
		allowed, wait, err := h.limiter.Allow(ctx, clientIP)
		if err != nil {
			h.log.WithError(err).Warn("rate limiter unavailable")
		}
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())))
			RespondError(c, http.StatusTooManyRequests, "rate_limited", "Too many failed login attempts")
			return
		}
	}

	// Verify credentials
	if err := h.creds.Verify(req.Username, req.Password, req.TOTPCode); err != nil {
		h.panel.RecordLogin(ctx, who, err)
		if h.limiter != nil {
			if ferr := h.limiter.Fail(ctx, clientIP); ferr != nil {
				h.log.WithError(ferr).Warn("failed to record login attempt")
			}
		}
		h.log.WithFields(logrus.Fields{"username": req.Username, "client_ip": clientIP}).Warn("login failed")

		message := "Invalid credentials"
		if errors.Is(err, auth.ErrBadTOTP) {
			message = "Invalid TOTP code"
		}
		RespondError(c, http.StatusUnauthorized, "auth_failed", message)
		return
	}

	token, claims, err := h.sessions.Issue(req.Username)
	if err != nil {
		h.log.WithError(err).Error("failed to issue session")
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to create session")
		return
	}

	h.panel.RecordLogin(ctx, who, nil)
	if h.limiter != nil {
		if err := h.limiter.Reset(ctx, clientIP); err != nil {
			h.log.WithError(err).Warn("failed to reset login attempts")
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(h.sessions.TTL().Seconds()), "/", "", c.Request.TLS != nil, true)

	c.JSON(http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// Logout clears the session cookie
// POST /api/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	RespondMessage(c, "", "Logged out")
}
