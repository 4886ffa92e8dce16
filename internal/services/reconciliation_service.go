package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/sirupsen/logrus"
)

// ReconciliationConfig controls when unpaid sessions are given up on
type ReconciliationConfig struct {
	FailureWindow  time.Duration
	StaleThreshold time.Duration
	SweepBatch     int
}

// ReconciliationService applies provider payment outcomes to bookings. Every
// entry point is safe to repeat and to run concurrently with itself.
type ReconciliationService struct {
	ledger       *BookingLedger
	holds        *HoldService
	orchestrator *PaymentOrchestrator
	catalog      CatalogStore
	grants       PackageGrantStore
	dispatcher   Dispatcher
	audit        *AuditRecorder
	config       ReconciliationConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	ledger *BookingLedger,
	holds *HoldService,
	orchestrator *PaymentOrchestrator,
	catalog CatalogStore,
	grants PackageGrantStore,
	dispatcher Dispatcher,
	audit *AuditRecorder,
	config ReconciliationConfig,
	logger *logrus.Logger,
) *ReconciliationService {
	if config.SweepBatch <= 0 {
		config.SweepBatch = 100
	}
	return &ReconciliationService{
		ledger:       ledger,
		holds:        holds,
		orchestrator: orchestrator,
		catalog:      catalog,
		grants:       grants,
		dispatcher:   dispatcher,
		audit:        audit,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// ReconcileOptions describes who triggered a reconciliation
type ReconcileOptions struct {
	Source models.PaymentEventSource
	// ForceFailUnpaid fails unpaid sessions regardless of the failure window
	ForceFailUnpaid bool
	Meta            *RequestMeta
}

// ReconcileResult is the booking state after a reconciliation
type ReconcileResult struct {
	BookingID        uuid.UUID              `json:"bookingId"`
	Status           models.BookingStatus   `json:"status"`
	PaymentStatus    models.PaymentStatus   `json:"paymentStatus"`
	AlreadyProcessed bool                   `json:"alreadyProcessed"`
	Outcome          *models.PaymentOutcome `json:"outcome,omitempty"`
}

func resultFor(booking *models.Booking, alreadyProcessed bool, outcome *models.PaymentOutcome) *ReconcileResult {
	return &ReconcileResult{
		BookingID:        booking.ID,
		Status:           booking.Status,
		PaymentStatus:    booking.PaymentStatus,
		AlreadyProcessed: alreadyProcessed,
		Outcome:          outcome,
	}
}

// ============================================================================
// RECONCILE
// ============================================================================

// Reconcile resolves the booking for sessionID and moves it to the state the
// provider reports. Only the provider's answer is trusted; callers supply
// nothing but the session id.
func (s *ReconciliationService) Reconcile(ctx context.Context, sessionID string, opts ReconcileOptions) (*ReconcileResult, error) {
	if sessionID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "session id is required")
	}
	if opts.Source == "" {
		opts.Source = models.PaymentSourceBackend
	}

	booking, err := s.ledger.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"session_id": sessionID,
		"source":     opts.Source,
	})

	if booking.Status.IsTerminal() {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventDuplicate, opts.Source).
			SetBooking(booking.ID).
			SetSession(sessionID).
			SetDetail("status", booking.Status), opts.Meta)
		log.WithField("status", booking.Status).Info("Booking already reconciled")
		return resultFor(booking, true, nil), nil
	}

	outcome, err := s.orchestrator.VerifyPaymentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log = log.WithField("provider_status", outcome.ProviderStatus)

	switch outcome.Status {
	case models.PaymentOutcomePaid:
		if outcome.Amount != booking.AmountDue() || !strings.EqualFold(outcome.Currency, booking.Currency) {
			return s.failAmountMismatch(ctx, booking, outcome, opts, log)
		}
		return s.confirm(ctx, booking, outcome, opts, log)

	case models.PaymentOutcomeFailed:
		reason := models.FailureReasonPaymentFailed
		if strings.HasPrefix(outcome.ProviderStatus, "expired") {
			reason = models.FailureReasonPaymentExpired
		}
		return s.fail(ctx, booking, outcome, models.PaymentStatusFailed, reason, opts, log)

	default:
		if outcome.ExpiresAt != nil && s.now().Before(*outcome.ExpiresAt) {
			log.WithField("session_expires_at", *outcome.ExpiresAt).Debug("Payment session still open")
			return resultFor(booking, false, outcome), nil
		}
		age := s.now().Sub(booking.CreatedAt)
		if opts.ForceFailUnpaid || age > s.config.FailureWindow {
			return s.fail(ctx, booking, outcome, models.PaymentStatusFailed, models.FailureReasonPaymentExpired, opts, log)
		}
		log.WithField("age", age.String()).Debug("Payment still pending")
		return resultFor(booking, false, outcome), nil
	}
}

func (s *ReconciliationService) confirm(
	ctx context.Context,
	booking *models.Booking,
	outcome *models.PaymentOutcome,
	opts ReconcileOptions,
	log *logrus.Entry,
) (*ReconcileResult, error) {
	// The slot is claimed before the booking is confirmed. A hold that lapsed
	// and lost its slot to another session cannot back a confirmation.
	if _, err := s.holds.ConsumeHold(ctx, booking.HoldID); err != nil {
		if apperr.Is(err, apperr.KindHoldNotFound) {
			return s.failHoldLost(ctx, booking, outcome, err, opts, log)
		}
		return nil, err
	}

	paid := models.PaymentStatusPaid
	fields := models.PaymentFields{PaymentStatus: &paid, PaidAmount: &outcome.Amount}
	if outcome.PaymentReference != "" {
		fields.PaymentReference = &outcome.PaymentReference
	}

	confirmed, err := s.ledger.TransitionStatus(ctx, booking.ID, models.BookingStatusPending, models.BookingStatusConfirmed, fields)
	if err != nil {
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, err
		}
		result, err := s.alreadyProcessed(ctx, booking.ID, outcome, log)
		if err == nil && result.Status != models.BookingStatusConfirmed && result.Status != models.BookingStatusCancelled {
			// Another worker failed the booking after we claimed the slot
			if _, relErr := s.holds.ReleaseHold(ctx, booking.HoldID); relErr != nil {
				log.WithError(relErr).Error("Failed to release hold claimed for a failed booking")
			}
		}
		return result, err
	}

	audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmed, opts.Source).
		SetBooking(booking.ID).
		SetSession(outcome.SessionID).
		SetProviderStatus(outcome.ProviderStatus)
	audit.SetAmounts(booking.AmountDue(), outcome.Amount, outcome.Currency)
	s.audit.Record(ctx, audit, opts.Meta)
	log.Info("Booking confirmed")

	s.afterConfirm(ctx, confirmed, opts, log)
	return resultFor(confirmed, false, outcome), nil
}

// afterConfirm runs the side effects owned by the worker that won the
// confirmation. None of them can undo the confirmation.
func (s *ReconciliationService) afterConfirm(ctx context.Context, booking *models.Booking, opts ReconcileOptions, log *logrus.Entry) {
	if booking.IsPackage {
		if _, err := s.createGrant(ctx, booking); err != nil {
			log.WithError(err).Error("Failed to create package grant; backfill will retry")
			s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventGrantCreateFailed, opts.Source).
				SetBooking(booking.ID).
				SetError(err.Error()), opts.Meta)
		}
	}

	s.notify(ctx, models.EventBookingConfirmed, booking, log)
}

func (s *ReconciliationService) failAmountMismatch(
	ctx context.Context,
	booking *models.Booking,
	outcome *models.PaymentOutcome,
	opts ReconcileOptions,
	log *logrus.Entry,
) (*ReconcileResult, error) {
	audit := models.NewPaymentAudit(models.PaymentEventAmountMismatch, opts.Source).
		SetBooking(booking.ID).
		SetSession(outcome.SessionID).
		SetProviderStatus(outcome.ProviderStatus).
		SetDetail("expected_currency", booking.Currency)
	audit.SetAmounts(booking.AmountDue(), outcome.Amount, outcome.Currency)
	s.audit.Record(ctx, audit, opts.Meta)

	log.WithFields(logrus.Fields{
		"expected_amount":   booking.AmountDue(),
		"expected_currency": booking.Currency,
		"paid_amount":       outcome.Amount,
		"paid_currency":     outcome.Currency,
	}).Error("Paid amount does not match booking; manual refund required")

	return s.fail(ctx, booking, outcome, models.PaymentStatusPaid, models.FailureReasonAmountMismatch, opts, log)
}

// failHoldLost fails a paid booking whose slot went to another session. The
// money stays captured and is refunded by hand, like an amount mismatch.
func (s *ReconciliationService) failHoldLost(
	ctx context.Context,
	booking *models.Booking,
	outcome *models.PaymentOutcome,
	cause error,
	opts ReconcileOptions,
	log *logrus.Entry,
) (*ReconcileResult, error) {
	audit := models.NewPaymentAudit(models.PaymentEventHoldLost, opts.Source).
		SetBooking(booking.ID).
		SetSession(outcome.SessionID).
		SetProviderStatus(outcome.ProviderStatus).
		SetError(cause.Error()).
		SetDetail("hold_id", booking.HoldID.String())
	audit.SetAmounts(booking.AmountDue(), outcome.Amount, outcome.Currency)
	s.audit.Record(ctx, audit, opts.Meta)

	log.WithField("hold_id", booking.HoldID).
		Error("Payment arrived after the hold lost its slot; manual refund required")

	return s.fail(ctx, booking, outcome, models.PaymentStatusPaid, models.FailureReasonHoldLost, opts, log)
}

func (s *ReconciliationService) fail(
	ctx context.Context,
	booking *models.Booking,
	outcome *models.PaymentOutcome,
	paymentStatus models.PaymentStatus,
	reason string,
	opts ReconcileOptions,
	log *logrus.Entry,
) (*ReconcileResult, error) {
	fields := models.PaymentFields{PaymentStatus: &paymentStatus, FailureReason: &reason}
	if paymentStatus == models.PaymentStatusPaid {
		fields.PaidAmount = &outcome.Amount
		if outcome.PaymentReference != "" {
			fields.PaymentReference = &outcome.PaymentReference
		}
	}

	failed, err := s.ledger.TransitionStatus(ctx, booking.ID, models.BookingStatusPending, models.BookingStatusFailed, fields)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return s.alreadyProcessed(ctx, booking.ID, outcome, log)
		}
		return nil, err
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventBookingFailed, opts.Source).
		SetBooking(booking.ID).
		SetSession(outcome.SessionID).
		SetProviderStatus(outcome.ProviderStatus).
		SetDetail("reason", reason), opts.Meta)
	log.WithField("reason", reason).Info("Booking failed")

	s.notify(ctx, models.EventBookingFailed, failed, log)
	return resultFor(failed, false, outcome), nil
}

// alreadyProcessed reports the state written by the worker that won a race
func (s *ReconciliationService) alreadyProcessed(
	ctx context.Context,
	bookingID uuid.UUID,
	outcome *models.PaymentOutcome,
	log *logrus.Entry,
) (*ReconcileResult, error) {
	current, err := s.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	log.WithField("status", current.Status).Info("Concurrent reconciliation already applied")
	return resultFor(current, true, outcome), nil
}

// ============================================================================
// CANCEL
// ============================================================================

// Cancel cancels a pending or confirmed booking on behalf of its owner,
// releasing the slot. Cancelling twice is harmless. Refunds are handled
// outside this service.
func (s *ReconciliationService) Cancel(ctx context.Context, bookingID uuid.UUID, actorUserID, reason string) (*models.Booking, error) {
	booking, err := s.ledger.GetBookingForUser(ctx, bookingID, actorUserID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"user_id":    actorUserID,
	})

	for attempt := 0; attempt < 2; attempt++ {
		switch booking.Status {
		case models.BookingStatusCancelled:
			return booking, nil
		case models.BookingStatusFailed:
			return nil, apperr.New(apperr.KindConflict, "failed bookings cannot be cancelled")
		}

		from := booking.Status
		cancelled, err := s.ledger.TransitionStatus(ctx, bookingID, from, models.BookingStatusCancelled, models.PaymentFields{})
		if err == nil {
			s.afterCancel(ctx, cancelled, from, reason, log)
			return cancelled, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, err
		}

		// Reconciliation moved the booking underneath us; decide again
		if booking, err = s.ledger.GetBooking(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	return nil, apperr.New(apperr.KindConflict, "booking changed while cancelling, try again")
}

func (s *ReconciliationService) afterCancel(
	ctx context.Context,
	booking *models.Booking,
	from models.BookingStatus,
	reason string,
	log *logrus.Entry,
) {
	if _, err := s.holds.ReleaseHold(ctx, booking.HoldID); err != nil {
		log.WithError(err).Error("Failed to release hold of cancelled booking")
	}

	if from == models.BookingStatusConfirmed && booking.IsPackage {
		if _, err := s.grants.RevokeForBooking(ctx, booking.ID, s.now()); err != nil {
			log.WithError(err).Error("Failed to revoke package grant")
		}
	}

	audit := models.NewPaymentAudit(models.PaymentEventBookingCancelled, models.PaymentSourceUser).
		SetBooking(booking.ID).
		SetDetail("previous_status", from)
	if booking.ExternalPaymentSessionID != nil {
		audit.SetSession(*booking.ExternalPaymentSessionID)
	}
	if reason != "" {
		audit.SetDetail("reason", reason)
	}
	s.audit.Record(ctx, audit, nil)
	log.WithField("previous_status", from).Info("Booking cancelled")

	s.notify(ctx, models.EventBookingCancelled, booking, log)
}

// ============================================================================
// SWEEPS
// ============================================================================

// SweepResult summarizes one stale-payment sweep
type SweepResult struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SweepStalePayments settles pending bookings whose payment never resolved.
// Errors on one booking are logged and the sweep moves on.
func (s *ReconciliationService) SweepStalePayments(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	cutoff := s.now().Add(-s.config.StaleThreshold)
	stale, err := s.ledger.ListStalePending(ctx, cutoff, s.config.SweepBatch)
	if err != nil {
		return result, err
	}

	for i := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		booking := &stale[i]
		result.Checked++

		log := s.logger.WithField("booking_id", booking.ID)

		if booking.ExternalPaymentSessionID == nil {
			outcome := &models.PaymentOutcome{Status: models.PaymentOutcomeFailed}
			res, err := s.fail(ctx, booking, outcome, models.PaymentStatusFailed, models.FailureReasonSessionMissing,
				ReconcileOptions{Source: models.PaymentSourceSweep}, log)
			s.tally(&result, res, err, log)
			continue
		}

		res, err := s.Reconcile(ctx, *booking.ExternalPaymentSessionID, ReconcileOptions{
			Source:          models.PaymentSourceSweep,
			ForceFailUnpaid: true,
		})
		s.tally(&result, res, err, log)
	}

	if result.Checked > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked":   result.Checked,
			"confirmed": result.Confirmed,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		}).Info("Stale payment sweep finished")
	}
	return result, nil
}

func (s *ReconciliationService) tally(result *SweepResult, res *ReconcileResult, err error, log *logrus.Entry) {
	switch {
	case err != nil:
		result.Skipped++
		log.WithField("error", apperr.Verbose(err)).Warn("Stale booking could not be reconciled")
	case res.AlreadyProcessed:
		result.Skipped++
	case res.Status == models.BookingStatusConfirmed:
		result.Confirmed++
	case res.Status == models.BookingStatusFailed:
		result.Failed++
	default:
		result.Skipped++
	}
}

// BackfillPackageGrants writes grants missing for confirmed package bookings
func (s *ReconciliationService) BackfillPackageGrants(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.config.SweepBatch
	}

	bookings, err := s.ledger.ListConfirmedPackagesWithoutGrant(ctx, limit)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range bookings {
		ok, err := s.createGrant(ctx, &bookings[i])
		if err != nil {
			s.logger.WithField("booking_id", bookings[i].ID).WithError(err).Warn("Package grant backfill failed")
			continue
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		s.logger.WithField("count", created).Info("Backfilled package grants")
	}
	return created, nil
}

// GetPackageGrant returns the grant of a package booking owned by userID
func (s *ReconciliationService) GetPackageGrant(ctx context.Context, bookingID uuid.UUID, userID string) (*models.PackageGrant, error) {
	if _, err := s.ledger.GetBookingForUser(ctx, bookingID, userID); err != nil {
		return nil, err
	}
	grant, err := s.grants.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load package grant")
	}
	if grant == nil {
		return nil, apperr.New(apperr.KindNotFound, "booking has no package grant")
	}
	return grant, nil
}

// createGrant is idempotent per booking; false means the grant already existed
func (s *ReconciliationService) createGrant(ctx context.Context, booking *models.Booking) (bool, error) {
	service, err := s.catalog.GetService(ctx, booking.ServiceID)
	if err != nil {
		return false, fmt.Errorf("failed to load service %s: %w", booking.ServiceID, err)
	}
	if service == nil || !service.IsPackage() {
		return false, fmt.Errorf("service %s is not a package", booking.ServiceID)
	}

	created, err := s.grants.CreateForBooking(ctx, models.NewPackageGrant(booking, service, s.now()))
	if err != nil {
		return false, fmt.Errorf("failed to create package grant: %w", err)
	}
	return created, nil
}

func (s *ReconciliationService) notify(ctx context.Context, eventType models.BookingEventType, booking *models.Booking, log *logrus.Entry) {
	event := models.NewBookingEvent(eventType, booking, s.now())
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		log.WithFields(logrus.Fields{
			"event_id":   event.EventID,
			"event_type": eventType,
		}).WithError(err).Error("Failed to dispatch booking notification")
	}
}
