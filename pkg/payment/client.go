// Package payment is the HTTP client for the hosted checkout provider.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	circuit "github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable wraps transport failures, 5xx/429 responses and an open breaker
	ErrUnavailable = errors.New("payment provider unavailable")
)

// Provider session states
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusFailed = "failed"
)

// Config holds provider credentials and client tuning
type Config struct {
	BaseURL          string
	SecretKey        string
	WebhookSecret    string
	Timeout          time.Duration
	WebhookTolerance time.Duration
	BreakerThreshold int64
}

// APIError is a non-retryable rejection from the provider
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment provider rejected request (HTTP %d): %s %s", e.StatusCode, e.Code, e.Message)
}

// CreateSessionParams describes a checkout session to open
type CreateSessionParams struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description"`
	SuccessURL     string            `json:"success_url"`
	CancelURL      string            `json:"cancel_url"`
	CustomerEmail  string            `json:"customer_email,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ExpiresAt      int64             `json:"expires_at,omitempty"` // unix seconds
	IdempotencyKey string            `json:"-"`
}

// CheckoutSession is the provider's view of a session
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ExpiresAt     int64             `json:"expires_at,omitempty"`
}

// ExpiresAtTime converts the unix expiry, if any
func (s *CheckoutSession) ExpiresAtTime() *time.Time {
	if s.ExpiresAt == 0 {
		return nil
	}
	t := time.Unix(s.ExpiresAt, 0).UTC()
	return &t
}

// Client talks to the checkout provider
type Client struct {
	config  Config
	logger  *logrus.Logger
	client  *http.Client
	breaker *circuit.Breaker
	now     func() time.Time
}

// NewClient creates a provider client guarded by a consecutive-failure breaker
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:  cfg,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.NewConsecutiveBreaker(cfg.BreakerThreshold),
		now:     time.Now,
	}
}

// CreateCheckoutSession opens a hosted checkout session
func (c *Client) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*CheckoutSession, error) {
	params.Currency = strings.ToLower(params.Currency)

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", params, params.IdempotencyKey, &session); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"amount":     params.Amount,
		"currency":   params.Currency,
	}).Info("Checkout session created")

	return &session, nil
}

// RetrieveCheckoutSession reads the current session state. Safe to repeat.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	var session CheckoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// do sends one request through the breaker. Only transport failures and
// 5xx/429 responses count against the breaker; 4xx responses are returned
// as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var rejected error

	err := c.breaker.Call(func() error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				rejected = fmt.Errorf("failed to encode request: %w", err)
				return nil
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			rejected = fmt.Errorf("failed to build request: %w", err)
			return nil
		}
		req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var envelope struct {
				Error APIError `json:"error"`
			}
			if json.Unmarshal(respBody, &envelope) == nil {
				apiErr.Code = envelope.Error.Code
				apiErr.Message = envelope.Error.Message
			}
			rejected = apiErr
			return nil
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			rejected = fmt.Errorf("failed to decode provider response: %w", err)
		}
		return nil
	}, 0)

	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"method":       method,
			"path":         path,
			"breaker_open": errors.Is(err, circuit.ErrBreakerOpen),
		}).WithError(err).Warn("Payment provider call failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rejected
}
