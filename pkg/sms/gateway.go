package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mariiahub/booking-reconciliation/pkg/validator"
)

// Gateway defines the interface for sending SMS messages
type Gateway interface {
	// Send delivers message to phone and returns the gateway's message id
	Send(ctx context.Context, phone, message string) (string, error)

	// GetName returns the name of the SMS gateway implementation
	GetName() string
}

// HTTPConfig holds configuration for an API-key SMS gateway
type HTTPConfig struct {
	APIURL   string
	APIKey   string
	SenderID string
	Timeout  time.Duration
}

// HTTPGateway sends SMS through a JSON API authenticated with a static key
type HTTPGateway struct {
	apiURL    string
	apiKey    string
	senderID  string
	client    *http.Client
	validator *validator.PhoneValidator
}

// NewHTTPGateway creates a new HTTP SMS gateway client
func NewHTTPGateway(config HTTPConfig) *HTTPGateway {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		apiURL:    strings.TrimRight(config.APIURL, "/"),
		apiKey:    config.APIKey,
		senderID:  config.SenderID,
		client:    &http.Client{Timeout: timeout},
		validator: validator.NewPhoneValidator(),
	}
}

// SendMessageRequest represents the SMS sending request structure
type SendMessageRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// SendMessageResponse represents the SMS sending response structure
type SendMessageResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send sends a single message
func (g *HTTPGateway) Send(ctx context.Context, phone, message string) (string, error) {
	to, err := g.validator.Validate(phone)
	if err != nil {
		return "", fmt.Errorf("invalid phone number: %w", err)
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message cannot be empty")
	}

	jsonData, err := json.Marshal(SendMessageRequest{
		To:      to,
		From:    g.senderID,
		Message: message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read SMS response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var smsResp SendMessageResponse
	if err := json.Unmarshal(body, &smsResp); err != nil {
		return "", fmt.Errorf("failed to parse SMS response: %w", err)
	}
	if smsResp.Status != "queued" && smsResp.Status != "sent" {
		return "", fmt.Errorf("SMS sending failed: %s (%s)", smsResp.Status, smsResp.Error)
	}

	return smsResp.MessageID, nil
}

// GetName returns the name of this SMS gateway
func (g *HTTPGateway) GetName() string {
	return "HTTP SMS Gateway"
}
