// Webhook HTTP handler.
//
// This file exposes the gateway-facing endpoint:
//   - POST /webhook   (inbound message events)
//
// The gateway treats any non-2xx response as a delivery failure and retries,
// which would re-inject events we already processed. The handler therefore
// acknowledges immediately and hands the raw payload to the dispatcher in the
// background; decode errors, unknown shapes, and suppressed events never
// surface to the gateway.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/http/middleware"
)

// InboundDispatcher consumes one raw webhook payload. Implementations must
// never fail; anything unprocessable is absorbed and logged.
type InboundDispatcher interface {
	HandleInbound(ctx context.Context, raw []byte)
}

// PostWebhook accepts a gateway event and acknowledges it unconditionally.
// Even an unreadable body (client disconnect, the body size cap) answers
// 200: a non-2xx here would make the gateway re-deliver the event.
func (h *Handlers) PostWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("webhook body unreadable, payload dropped")
		ok(c, http.StatusOK, gin.H{"status": "received"})
		return
	}

	if len(raw) > 0 {
		// Detach from the request so processing survives the response.
		ctx := context.WithoutCancel(c.Request.Context())
		go h.dispatcher.HandleInbound(ctx, raw)
	} else {
		middleware.LoggerFrom(c).Debug().Msg("empty webhook payload")
	}

	ok(c, http.StatusOK, gin.H{"status": "received"})
}
