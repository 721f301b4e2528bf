// Lead intake HTTP handler.
//
// This file exposes the marketing-facing intake endpoint:
//   - POST /api/v1/leads   (process one captured lead)
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/services"
)

// LeadProcessor turns one captured lead into a conversion strategy.
type LeadProcessor interface {
	ProcessLead(ctx context.Context, in services.LeadInput) (*services.LeadStrategy, error)
}

// processLeadRequest is the POST /leads body, matching the intake form.
type processLeadRequest struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Profession  string `json:"profession"`
	Interest    string `json:"interest"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	DealID      string `json:"deal_id"`
}

// PostLead scores and registers a lead and returns the outreach strategy.
func (h *Handlers) PostLead(c *gin.Context) {
	var req processLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name is required")
		return
	}

	strategy, err := h.leads.ProcessLead(c.Request.Context(), services.LeadInput{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Profession:  req.Profession,
		Interest:    req.Interest,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		DealID:      req.DealID,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not process lead")
		return
	}
	ok(c, http.StatusOK, strategy)
}
