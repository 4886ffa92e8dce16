package models

import "time"

// PaymentSession is the checkout session created at the provider
type PaymentSession struct {
	SessionID   string     `json:"sessionId"`
	RedirectURL string     `json:"redirectUrl"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// PaymentOutcomeStatus is the provider's verdict on a session
type PaymentOutcomeStatus string

const (
	PaymentOutcomePaid   PaymentOutcomeStatus = "paid"
	PaymentOutcomeUnpaid PaymentOutcomeStatus = "unpaid"
	PaymentOutcomeFailed PaymentOutcomeStatus = "failed"
)

// PaymentOutcome is the authoritative payment state read back from the provider
type PaymentOutcome struct {
	SessionID        string               `json:"sessionId"`
	Status           PaymentOutcomeStatus `json:"status"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency"`
	PaymentReference string               `json:"paymentReference,omitempty"`
	ProviderStatus   string               `json:"providerStatus,omitempty"`
	ExpiresAt        *time.Time           `json:"expiresAt,omitempty"`
}
