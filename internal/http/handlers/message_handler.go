// Message HTTP handlers.
//
// This file exposes the operator-facing send endpoint:
//   - POST /api/v1/messages   (send a text to a contact)
//
// Handlers are transport-thin: they validate input, call the outbound
// sender, and translate service errors into the HTTP error taxonomy.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/services"
)

// OutboundSender delivers one text under the per-contact serialization lock.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OutboundSender interface {
	Send(ctx context.Context, contactID, text string) error
}

// sendMessageRequest is the POST /messages body.
type sendMessageRequest struct {
	Phone   string `json:"phone" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// PostMessage sends a text to a contact on behalf of an operator.
//
// Responses:
//   - 202 accepted and delivered to the gateway
//   - 409 lock_timeout: a send to this contact is already in flight
//   - 502 send_failed: the gateway rejected the message
func (h *Handlers) PostMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone and message are required")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.Message = strings.TrimSpace(req.Message)
	if req.Phone == "" || req.Message == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone and message are required")
		return
	}

	err := h.sender.Send(c.Request.Context(), req.Phone, req.Message)
	switch {
	case err == nil:
		ok(c, http.StatusAccepted, gin.H{"status": "sent", "phone": req.Phone})
	case errors.Is(err, dedup.ErrLockTimeout):
		fail(c, http.StatusConflict, ErrCodeLockTimeout, "contact is busy, try again")
	case errors.Is(err, services.ErrSendFailed):
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, "gateway rejected the message")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not send message")
	}
}
