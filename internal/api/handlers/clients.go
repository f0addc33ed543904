package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/gin-gonic/gin"
)

// ClientHandler handles client listing and administration
type ClientHandler struct {
	panel *panel.Panel
}

// NewClientHandler creates a new client handler
func NewClientHandler(p *panel.Panel) *ClientHandler {
	return &ClientHandler{panel: p}
}

// AddClientRequest represents a client creation request
type AddClientRequest struct {
	Name           string `json:"name"`
	ExpiryDays     int    `json:"expiry_days"`
	AllowDuplicate bool   `json:"allow_duplicate"`
}

// NameRequest names the client a mutation applies to
type NameRequest struct {
	Name string `json:"name"`
}

// EditClientRequest represents a client edit request
type EditClientRequest struct {
	Name           string `json:"name"`
	AllowDuplicate bool   `json:"allow_duplicate"`
}

// ExtendRequest represents a certificate renewal request
type ExtendRequest struct {
	Name string `json:"name"`
	Days int    `json:"days"`
}

// ConfigBase64Response carries a profile as base64
type ConfigBase64Response struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Base64  string `json:"base64"`
}

// List returns one report per client
// GET /api/clients
func (h *ClientHandler) List(c *gin.Context) {
	reports, err := h.panel.ListClients(c.Request.Context())
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

// Add issues a new client
// POST /api/add_client
func (h *ClientHandler) Add(c *gin.Context) {
	var req AddClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	name, err := h.panel.AddClient(c.Request.Context(), actor(c), req.Name, req.ExpiryDays, req.AllowDuplicate)
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	RespondMessage(c, name, fmt.Sprintf("Client %s created successfully", name))
}

// Revoke revokes a client certificate
// POST /api/revoke_client
func (h *ClientHandler) Revoke(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	name, err := h.panel.RevokeClient(c.Request.Context(), actor(c), req.Name)
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	RespondMessage(c, name, fmt.Sprintf("Client %s revoked successfully", name))
}

// Delete removes a client completely
// POST /api/delete_client
func (h *ClientHandler) Delete(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	name, err := h.panel.DeleteClient(c.Request.Context(), actor(c), req.Name)
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	RespondMessage(c, name, fmt.Sprintf("Client %s completely deleted", name))
}

// Edit toggles duplicate-cn for a client
// POST /api/edit_client
func (h *ClientHandler) Edit(c *gin.Context) {
	var req EditClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	name, err := h.panel.EditClient(c.Request.Context(), actor(c), req.Name, req.AllowDuplicate)
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	RespondMessage(c, name, fmt.Sprintf("Client %s updated successfully", name))
}

// Extend renews a client certificate
// POST /api/extend_expiry
func (h *ClientHandler) Extend(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	name, err := h.panel.ExtendClient(c.Request.Context(), actor(c), req.Name, req.Days)
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	RespondMessage(c, name, fmt.Sprintf("Certificate for %s extended", name))
}

// Info returns the detail view of a client
// GET /api/client_info/:name
func (h *ClientHandler) Info(c *gin.Context) {
	info, err := h.panel.ClientInfo(c.Request.Context(), c.Param("name"))
	if err != nil {
		RespondPanelError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Download sends the .ovpn profile as an attachment
// GET /api/download_config/:name
func (h *ClientHandler) Download(c *gin.Context) {
	name, data, err := h.panel.Profile(c.Param("name"))
	if err != nil {
		RespondPanelError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ovpn"`, name))
	c.Data(http.StatusOK, "application/x-openvpn-profile", data)
}

// ConfigBase64 returns the .ovpn profile base64 encoded
// GET /api/config_base64/:name
func (h *ClientHandler) ConfigBase64(c *gin.Context) {
	name, data, err := h.panel.Profile(c.Param("name"))
	if err != nil {
		RespondPanelError(c, err)
		return
	}

	c.JSON(http.StatusOK, ConfigBase64Response{
		Success: true,
		Name:    name,
		Base64:  base64.StdEncoding.EncodeToString(data),
	})
}
