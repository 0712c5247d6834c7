package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/hub"
	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// maxImportBytes bounds uploaded session exports.
const maxImportBytes = 64 << 20

// GhostHandler serves the REST surface for importing and managing ghost
// sessions alongside the live websocket registry.
type GhostHandler struct {
	hub *hub.Hub
	log *zap.SugaredLogger
}

func NewGhostHandler(h *hub.Hub, log *zap.SugaredLogger) *GhostHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GhostHandler{hub: h, log: log}
}

// ImportGhost registers an uploaded session export as a ghost device.
func (h *GhostHandler) ImportGhost(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	export, err := wire.ParseSessionExport(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reg, err := h.hub.RegisterGhost(c.Request.Context(), export)
	if err != nil {
		h.log.Warnf("ghost import failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register ghost session"})
		return
	}
	c.JSON(http.StatusOK, reg)
}

// ListGhosts returns all registered ghost sessions.
func (h *GhostHandler) ListGhosts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ghosts": h.hub.Ghosts()})
}

// GetGhost downloads the stored export document for a ghost session.
func (h *GhostHandler) GetGhost(c *gin.Context) {
	sessionID := c.Param("id")
	export, ok := h.hub.GhostExport(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ghost session not found"})
		return
	}
	data, err := export.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize export"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "reaktiv_session_"+sessionID+".json"))
	c.Data(http.StatusOK, "application/json", data)
}

// DeleteGhost unregisters a ghost session.
func (h *GhostHandler) DeleteGhost(c *gin.Context) {
	if err := h.hub.RemoveGhost(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListClients returns the current registry snapshot (live + ghost).
func (h *GhostHandler) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.hub.Clients()})
}

// AssignRole assigns a connection role to a live client.
func (h *GhostHandler) AssignRole(c *gin.Context) {
	var req struct {
		ClientID          string    `json:"clientId" binding:"required"`
		Role              wire.Role `json:"role" binding:"required"`
		PublisherClientID string    `json:"publisherClientId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.hub.AssignRole(req.ClientID, req.Role, req.PublisherClientID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SeekGhost replays a ghost session at a scrub index, broadcasting the
// reconstructed state to attached listeners.
func (h *GhostHandler) SeekGhost(c *gin.Context) {
	var req struct {
		Index int `json:"index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.hub.SeekGhost(c.Param("id"), req.Index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
