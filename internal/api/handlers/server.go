package handlers

import (
	"net/http"

	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/gin-gonic/gin"
)

// ServerHandler handles the dashboard and the OpenVPN service
type ServerHandler struct {
	panel *panel.Panel
}

// NewServerHandler creates a new server handler
func NewServerHandler(p *panel.Panel) *ServerHandler {
	return &ServerHandler{panel: p}
}

// Stats returns the dashboard summary
// GET /api/stats
func (h *ServerHandler) Stats(c *gin.Context) {
	stats, err := h.panel.Stats(c.Request.Context())
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Status returns the service state and server.conf settings
// GET /api/server/status
func (h *ServerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.ServerStatus(c.Request.Context()))
}

// Restart restarts the OpenVPN service
// POST /api/server/restart
func (h *ServerHandler) Restart(c *gin.Context) {
	if err := h.panel.RestartServer(c.Request.Context(), actor(c)); err != nil {
		RespondPanelError(c, err)
		return
	}
	RespondMessage(c, "", "Server restarted successfully")
}
