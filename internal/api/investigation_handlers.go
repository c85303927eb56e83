package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/mule-engine/internal/alerts"
	"github.com/rawblock/mule-engine/internal/db"
	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
)

// accountInvestigation is the case view of one flagged account.
type accountInvestigation struct {
	SessionID string                   `json:"session_id"`
	Account   models.SuspiciousAccount `json:"account"`
	Rings     []models.FraudRing       `json:"rings"`
	Severity  string                   `json:"severity"`
	Action    string                   `json:"recommended_action"`
}

// GET /api/v1/sessions/:id/accounts/:account
// Returns a flagged account with every ring of the session it belongs to.
func (h *APIHandler) handleInvestigateAccount(c *gin.Context) {
	if !h.requireSessions(c) {
		return
	}
	id, accountID := c.Param("id"), c.Param("account")

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

	inv := accountInvestigation{SessionID: id, Rings: []models.FraudRing{}}
	found := false
	for _, a := range detail.SuspiciousAccounts {
		if a.AccountID == accountID {
			inv.Account, found = a, true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account was not flagged in this session", "account": accountID})
		return
	}

	for _, r := range detail.FraudRings {
		for _, m := range r.MemberAccounts {
			if m == accountID {
				inv.Rings = append(inv.Rings, r)
				break
			}
		}
	}
	score := float64(inv.Account.SuspicionScore)
	inv.Severity = alerts.ClassifySeverity(score)
	inv.Action = alerts.RecommendAction(score)

	c.JSON(http.StatusOK, inv)
}
