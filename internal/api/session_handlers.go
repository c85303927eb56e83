package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/mule-engine/internal/alerts"
	"github.com/rawblock/mule-engine/internal/db"
	"github.com/rawblock/mule-engine/internal/events"
	"go.uber.org/zap"
)

func (h *APIHandler) requireSessions(c *gin.Context) bool {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session history is disabled (no database configured)"})
		return false
	}
	return true
}

func (h *APIHandler) handleListSessions(c *gin.Context) {
	if !h.requireSessions(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	sessions, err := h.sessions.ListSessions(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("listing sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (h *APIHandler) handleGetSession(c *gin.Context) {
	if !h.requireSessions(c) {
		return
	}
	id := c.Param("id")

	detail, err := h.sessions.GetSession(c.Request.Context(), id)
	if errors.Is(err, db.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "id": id})
		return
	}
	if err != nil {
		h.logger.Error("loading session", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *APIHandler) handleDeleteSession(c *gin.Context) {
	if !h.requireSessions(c) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	err := h.sessions.DeleteSession(ctx, id)
	if errors.Is(err, db.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "id": id})
		return
	}
	if err != nil {
		h.logger.Error("deleting session", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, id); err != nil {
			h.logger.Warn("failed to invalidate cached result", zap.String("id", id), zap.Error(err))
		}
	}
	payload := gin.H{"session_id": id}
	h.wsHub.Publish(MessageSessionDeleted, payload)
	if err := h.events.Emit(ctx, events.TypeSessionDeleted, id, payload); err != nil {
		h.logger.Warn("failed to publish delete event", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleGetAlerts returns recent ring alerts, optionally filtered by
// ?severity=high (that level and above).
func (h *APIHandler) handleGetAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []alerts.Alert{}, "count": 0})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var list []alerts.Alert
	if sev := c.Query("severity"); sev != "" {
		list = h.alerts.GetAlertsBySeverity(sev)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = h.alerts.GetRecentAlerts(limit)
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}
