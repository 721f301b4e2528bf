// Package gateway implements the HTTP client for the hosted WhatsApp
// messaging gateway's send API. The gateway is an opaque remote collaborator:
// one fallible call per send, no built-in retry (retry policy, if any,
// belongs to the caller).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/config"
)

// Sender is the narrow contract the outbound pipeline depends on.
type Sender interface {
	SendText(ctx context.Context, phone, message string) error
}

// Client talks to a Z-API style instance endpoint:
//
//	POST {base}/instances/{id}/token/{token}/send-text
//	{"phone": "<digits>", "message": "<text>"}
//
// The optional account security token travels in the Client-Token header.
type Client struct {
	baseURL     string
	instanceID  string
	token       string
	clientToken string
	http        *http.Client
}

// NewClient builds a Client from gateway configuration.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL:     cfg.BaseURL,
		instanceID:  cfg.InstanceID,
		token:       cfg.InstanceToken,
		clientToken: cfg.ClientToken,
		http:        &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
}

// sendTextRequest is the gateway's send-text body.
type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// sendTextResponse is the subset of the gateway's response we care about.
type sendTextResponse struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
}

// SendText delivers one text message. Any non-2xx status, transport error,
// or undecodable success body is returned as an error; the caller decides
// how to classify it.
func (c *Client) SendText(ctx context.Context, phone, message string) error {
	tr := otel.Tracer("gateway/Client")
	ctx, span := tr.Start(ctx, "SendText",
		trace.WithAttributes(attribute.String("gateway.phone", phone)),
	)
	defer span.End()

	body, err := json.Marshal(sendTextRequest{Phone: phone, Message: message})
	if err != nil {
		return fmt.Errorf("gateway: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/instances/%s/token/%s/send-text", c.baseURL, c.instanceID, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientToken != "" {
		req.Header.Set("Client-Token", c.clientToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: send-text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway: send-text status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out sendTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	span.SetAttributes(attribute.String("gateway.message_id", out.MessageID))
	return nil
}

// compile-time interface check
var _ Sender = (*Client)(nil)

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
