package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" on webhook deliveries
const SignatureHeader = "Payment-Signature"

// ErrInvalidSignature is returned for unsigned, tampered or stale deliveries
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook event types the service reacts to
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventCheckoutPaymentFailed = "checkout.session.async_payment_failed"
	EventCheckoutPaymentPaid   = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is a verified webhook delivery
type WebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object CheckoutSession `json:"object"`
	} `json:"data"`
}

// SessionID returns the checkout session the event refers to
func (e *WebhookEvent) SessionID() string {
	return e.Data.Object.ID
}

// VerifyWebhook checks the signature header against the raw body and decodes
// the event
func (c *Client) VerifyWebhook(payload []byte, header string) (*WebhookEvent, error) {
	if c.config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret not configured")
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	age := c.now().Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > c.config.WebhookTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := computeSignature(c.config.WebhookSecret, timestamp, payload)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	if event.SessionID() == "" {
		return nil, fmt.Errorf("webhook event %s carries no session", event.ID)
	}
	return &event, nil
}

// SignPayload builds a signature header value for payload at ts
func SignPayload(secret string, ts time.Time, payload []byte) string {
	sig := computeSignature(secret, ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func computeSignature(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	var (
		timestamp  int64
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err == nil {
				signatures = append(signatures, sig)
			}
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}
