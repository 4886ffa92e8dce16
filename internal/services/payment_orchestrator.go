package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
	"github.com/sirupsen/logrus"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// PaymentOrchestratorConfig holds checkout redirect settings
type PaymentOrchestratorConfig struct {
	SuccessURL string
	CancelURL  string
}

// PaymentOrchestrator opens and inspects checkout sessions at the provider
type PaymentOrchestrator struct {
	ledger   *BookingLedger
	holds    *HoldService
	provider PaymentProvider
	audit    *AuditRecorder
	config   PaymentOrchestratorConfig
	logger   *logrus.Logger
}

// NewPaymentOrchestrator creates a new payment orchestrator
func NewPaymentOrchestrator(
	ledger *BookingLedger,
	holds *HoldService,
	provider PaymentProvider,
	audit *AuditRecorder,
	config PaymentOrchestratorConfig,
	logger *logrus.Logger,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		ledger:   ledger,
		holds:    holds,
		provider: provider,
		audit:    audit,
		config:   config,
		logger:   logger,
	}
}

// ============================================================================
// SESSIONS
// ============================================================================

// CreatePaymentSession opens a checkout session for a pending booking and
// attaches it to the booking
func (o *PaymentOrchestrator) CreatePaymentSession(
	ctx context.Context,
	bookingID uuid.UUID,
	amount int64,
	currency string,
	description string,
) (*models.PaymentSession, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.KindInvalidAmount, "amount must be positive")
	}
	if !currencyPattern.MatchString(currency) {
		return nil, apperr.New(apperr.KindInvalidCurrency, "currency must be a 3-letter ISO code")
	}
	currency = strings.ToUpper(currency)

	booking, err := o.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, apperr.New(apperr.KindConflict, "booking is %s, not pending", booking.Status)
	}
	if amount != booking.AmountDue() {
		return nil, apperr.New(apperr.KindInvalidAmount, "amount does not match the amount due").
			WithDetail("expected", booking.AmountDue())
	}
	if currency != booking.Currency {
		return nil, apperr.New(apperr.KindInvalidCurrency, "currency does not match the booking currency").
			WithDetail("expected", booking.Currency)
	}

	params := payment.CreateSessionParams{
		Amount:      amount,
		Currency:    currency,
		Description: description,
		SuccessURL:  withBookingID(o.config.SuccessURL, bookingID),
		CancelURL:   withBookingID(o.config.CancelURL, bookingID),
		Metadata: map[string]string{
			"booking_id": bookingID.String(),
			"hold_id":    booking.HoldID.String(),
		},
		IdempotencyKey: "booking-" + bookingID.String(),
	}
	hold, err := o.holds.GetHold(ctx, booking.HoldID)
	if err != nil {
		return nil, err
	}
	if hold != nil {
		// The session must not stay payable once the slot can go to someone else
		params.ExpiresAt = hold.ExpiresAt.Unix()
	}
	if booking.CustomerEmail != nil {
		params.CustomerEmail = *booking.CustomerEmail
	}

	session, err := o.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		o.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventSessionFailed, models.PaymentSourceBackend).
			SetBooking(bookingID).
			SetError(err.Error()), nil)
		return nil, providerError(err, "failed to create checkout session")
	}

	if err := o.ledger.AttachPaymentSession(ctx, bookingID, session.ID); err != nil {
		return nil, err
	}

	audit := models.NewPaymentAudit(models.PaymentEventSessionCreated, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetSession(session.ID).
		SetProviderStatus(session.Status)
	audit.SetAmounts(amount, session.AmountTotal, currency)
	o.audit.Record(ctx, audit, nil)

	o.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"session_id": session.ID,
		"amount":     amount,
		"currency":   currency,
	}).Info("Payment session attached to booking")

	return &models.PaymentSession{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   session.ExpiresAtTime(),
	}, nil
}

// VerifyPaymentSession reads the session back from the provider and maps it
// to a payment outcome. It changes nothing locally.
func (o *PaymentOrchestrator) VerifyPaymentSession(ctx context.Context, sessionID string) (*models.PaymentOutcome, error) {
	session, err := o.provider.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, apperr.Wrap(err, apperr.KindUnknownSession, "payment session not found at provider")
		}
		return nil, providerError(err, "failed to retrieve checkout session")
	}
	return outcomeFromSession(session), nil
}

func outcomeFromSession(session *payment.CheckoutSession) *models.PaymentOutcome {
	outcome := &models.PaymentOutcome{
		SessionID:        session.ID,
		Amount:           session.AmountTotal,
		Currency:         strings.ToUpper(session.Currency),
		PaymentReference: session.PaymentIntent,
		ProviderStatus:   session.Status + "/" + session.PaymentStatus,
		ExpiresAt:        session.ExpiresAtTime(),
	}

	switch {
	case session.PaymentStatus == payment.PaymentStatusPaid:
		outcome.Status = models.PaymentOutcomePaid
	case session.Status == payment.SessionStatusExpired, session.PaymentStatus == payment.PaymentStatusFailed:
		outcome.Status = models.PaymentOutcomeFailed
	default:
		outcome.Status = models.PaymentOutcomeUnpaid
	}
	return outcome
}

// ============================================================================
// CHECKOUT
// ============================================================================

// CheckoutRequest is a customer's request to pay for a held slot
type CheckoutRequest struct {
	HoldID  uuid.UUID
	Details models.BookingDetails
}

// CheckoutResult is returned to the client so it can redirect to the provider
type CheckoutResult struct {
	BookingID   uuid.UUID  `json:"bookingId"`
	SessionID   string     `json:"sessionId"`
	RedirectURL string     `json:"redirectUrl"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Checkout validates the hold, records a pending booking and opens its
// payment session. If no session can be opened the booking is failed so
// the hold can back a new attempt.
func (o *PaymentOrchestrator) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	details := req.Details
	expected := models.HoldExpectation{
		ServiceID:  details.ServiceID,
		ResourceID: details.ResourceID,
		Slot:       details.Slot,
		SessionID:  details.SessionID,
	}
	if _, err := o.holds.ValidateHold(ctx, req.HoldID, expected); err != nil {
		return nil, err
	}

	booking, err := o.ledger.CreatePendingBooking(ctx, details, req.HoldID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("%s on %s", booking.ServiceID, booking.SlotStart.UTC().Format("2006-01-02 15:04 MST"))
	session, err := o.CreatePaymentSession(ctx, booking.ID, booking.AmountDue(), booking.Currency, description)
	if err != nil {
		reason := models.FailureReasonSessionUnavailable
		failed := models.PaymentStatusFailed
		if _, failErr := o.ledger.TransitionStatus(ctx, booking.ID, models.BookingStatusPending, models.BookingStatusFailed,
			models.PaymentFields{PaymentStatus: &failed, FailureReason: &reason}); failErr != nil && !apperr.Is(failErr, apperr.KindConflict) {
			o.logger.WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"error":      apperr.Verbose(failErr),
			}).Error("Failed to fail booking after session error")
		}
		return nil, err
	}

	return &CheckoutResult{
		BookingID:   booking.ID,
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		Amount:      booking.AmountDue(),
		Currency:    booking.Currency,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// providerError classifies a provider client failure
func providerError(err error, message string) error {
	if errors.Is(err, payment.ErrUnavailable) {
		return apperr.Wrap(err, apperr.KindProviderUnavailable, "payment provider is unavailable, try again later")
	}
	return apperr.Internal(err, "%s", message)
}

func withBookingID(base string, bookingID uuid.UUID) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("booking_id", bookingID.String())
	u.RawQuery = q.Encode()
	return u.String()
}
