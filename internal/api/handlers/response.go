package handlers

import (
	"net/http"

	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MessageResponse acknowledges a successful mutation
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// RespondMessage sends a success acknowledgement
func RespondMessage(c *gin.Context, name, message string) {
	c.JSON(http.StatusOK, MessageResponse{
		Success: true,
		Message: message,
		Name:    name,
	})
}

// RespondPanelError maps a panel error to a status code
func RespondPanelError(c *gin.Context, err error) {
	switch {
	case panel.IsInvalid(err):
		RespondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case panel.IsNotFound(err):
		RespondError(c, http.StatusNotFound, "not_found", err.Error())
	case panel.IsConflict(err):
		RespondError(c, http.StatusConflict, "client_exists", err.Error())
	default:
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// GetClientIP gets the client IP address. gin honours X-Forwarded-For and
// X-Real-IP only from the trusted proxies configured on the engine.
func GetClientIP(c *gin.Context) string {
	return c.ClientIP()
}

func actor(c *gin.Context) panel.Actor {
	return panel.Actor{
		Username:  c.GetString(UsernameKey),
		IP:        GetClientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
	}
}

// UsernameKey is the gin context key holding the authenticated username
const UsernameKey = "username"
