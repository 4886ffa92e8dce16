package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/database"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/pkg/validator"
	"github.com/sirupsen/logrus"
)

// BookingLedger owns booking records and their status machine
type BookingLedger struct {
	bookings BookingStore
	catalog  CatalogStore
	phone    *validator.PhoneValidator
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingLedger creates a new booking ledger
func NewBookingLedger(bookings BookingStore, catalog CatalogStore, logger *logrus.Logger) *BookingLedger {
	return &BookingLedger{
		bookings: bookings,
		catalog:  catalog,
		phone:    validator.NewPhoneValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// Pricing is the server-side price of a booking in minor units
type Pricing struct {
	Amount        int64
	DepositAmount int64
	BalanceDue    int64
	Currency      string
}

// ValidateAddOns resolves requested add-on ids against the service's
// configured add-ons. Duplicates are collapsed; order is preserved.
func ValidateAddOns(requested []string, configured []models.AddOn) ([]models.AddOn, error) {
	byID := make(map[string]models.AddOn, len(configured))
	for _, addOn := range configured {
		if addOn.IsActive {
			byID[addOn.ID] = addOn
		}
	}

	seen := make(map[string]bool, len(requested))
	resolved := make([]models.AddOn, 0, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		addOn, ok := byID[id]
		if !ok {
			return nil, apperr.New(apperr.KindInvalidAddOn, "add-on %q is not offered for this service", id).
				WithDetail("addOnId", id)
		}
		seen[id] = true
		resolved = append(resolved, addOn)
	}
	return resolved, nil
}

// PriceBooking computes the total and, for deposits, the split between what
// is charged now and what is due later
func PriceBooking(service *models.Service, addOns []models.AddOn, paymentType models.PaymentType) (Pricing, error) {
	pricing := Pricing{Amount: service.Price, Currency: service.Currency}
	for _, addOn := range addOns {
		pricing.Amount += addOn.Price
	}
	if pricing.Amount <= 0 {
		return Pricing{}, apperr.New(apperr.KindInvalidAmount, "booking amount must be positive")
	}

	switch paymentType {
	case models.PaymentTypeFull:
		pricing.DepositAmount = 0
		pricing.BalanceDue = 0
	case models.PaymentTypeDeposit:
		if service.DepositPercent <= 0 {
			return Pricing{}, apperr.New(apperr.KindInvalidAmount, "service does not accept deposits")
		}
		pricing.DepositAmount = pricing.Amount * int64(service.DepositPercent) / 100
		if pricing.DepositAmount <= 0 {
			return Pricing{}, apperr.New(apperr.KindInvalidAmount, "deposit amount rounds to zero")
		}
		pricing.BalanceDue = pricing.Amount - pricing.DepositAmount
	default:
		return Pricing{}, apperr.New(apperr.KindInvalidRequest, "paymentType must be 'full' or 'deposit'")
	}
	return pricing, nil
}

// CreatePendingBooking prices and records a booking backed by holdID. The
// hold is re-checked under a row lock in the same transaction as the insert.
func (l *BookingLedger) CreatePendingBooking(ctx context.Context, details models.BookingDetails, holdID uuid.UUID) (*models.Booking, error) {
	if details.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "a signed-in user is required to book")
	}
	if details.PaymentType == "" {
		details.PaymentType = models.PaymentTypeFull
	}
	if details.PaymentMethod == "" {
		details.PaymentMethod = "card"
	}

	service, err := l.catalog.GetService(ctx, details.ServiceID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load service")
	}
	if service == nil || !service.IsActive {
		return nil, apperr.New(apperr.KindNotFound, "service not found")
	}

	configured, err := l.catalog.ListAddOns(ctx, details.ServiceID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load add-ons")
	}
	addOns, err := ValidateAddOns(details.AddOnIDs, configured)
	if err != nil {
		return nil, err
	}

	pricing, err := PriceBooking(service, addOns, details.PaymentType)
	if err != nil {
		return nil, err
	}

	if details.CustomerPhone != nil && *details.CustomerPhone != "" {
		normalized, err := l.phone.Validate(*details.CustomerPhone)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInvalidRequest, "%s", err.Error()).WithDetail("field", "customerPhone")
		}
		details.CustomerPhone = &normalized
	}

	addOnIDs := make(pq.StringArray, 0, len(addOns))
	for _, addOn := range addOns {
		addOnIDs = append(addOnIDs, addOn.ID)
	}

	now := l.now()
	booking := &models.Booking{
		ID:            uuid.New(),
		ServiceID:     details.ServiceID,
		ResourceID:    details.ResourceID,
		UserID:        details.UserID,
		SlotStart:     details.Slot.StartsAt,
		SlotEnd:       details.Slot.EndsAt,
		AddOnIDs:      addOnIDs,
		Amount:        pricing.Amount,
		Currency:      pricing.Currency,
		DepositAmount: pricing.DepositAmount,
		BalanceDue:    pricing.BalanceDue,
		PaymentType:   details.PaymentType,
		PaymentMethod: details.PaymentMethod,
		HoldID:        holdID,
		HoldSessionID: details.SessionID,
		IsPackage:     service.IsPackage(),
		CustomerName:  details.CustomerName,
		CustomerEmail: details.CustomerEmail,
		CustomerPhone: details.CustomerPhone,
		Notes:         details.Notes,
		CreatedAt:     now,
	}

	expected := models.HoldExpectation{
		ServiceID:  details.ServiceID,
		ResourceID: details.ResourceID,
		Slot:       details.Slot,
		SessionID:  details.SessionID,
	}
	guard := func(hold *models.Hold) error {
		if hold != nil && hold.SessionID != "" {
			booking.HoldSessionID = hold.SessionID
		}
		return checkHold(hold, expected, now)
	}

	if err := l.bookings.CreatePending(ctx, booking, guard); err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		if errors.Is(err, database.ErrHoldHasLiveBooking) {
			return nil, apperr.New(apperr.KindConflict, "hold already has an active booking")
		}
		return nil, apperr.Internal(err, "failed to create booking")
	}

	l.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"hold_id":      holdID,
		"service_id":   booking.ServiceID,
		"amount":       booking.Amount,
		"currency":     booking.Currency,
		"payment_type": booking.PaymentType,
	}).Info("Pending booking created")

	return booking, nil
}

// GetBooking returns a booking by id
func (l *BookingLedger) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := l.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load booking")
	}
	if booking == nil {
		return nil, apperr.New(apperr.KindNotFound, "booking not found")
	}
	return booking, nil
}

// GetBookingForUser returns a booking only to its owner. Other users get
// NotFound, the same as for an id that does not exist.
func (l *BookingLedger) GetBookingForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Booking, error) {
	booking, err := l.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "booking not found")
	}
	return booking, nil
}

// FindBySession resolves the booking a provider session was created for
func (l *BookingLedger) FindBySession(ctx context.Context, sessionID string) (*models.Booking, error) {
	booking, err := l.bookings.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load booking by session")
	}
	if booking == nil {
		return nil, apperr.New(apperr.KindUnknownSession, "no booking for payment session")
	}
	return booking, nil
}

// TransitionStatus moves a booking from expected to next with compare-and-swap
// semantics. Losing the race yields Conflict.
func (l *BookingLedger) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next models.BookingStatus,
	fields models.PaymentFields,
) (*models.Booking, error) {
	booking, err := l.bookings.TransitionStatus(ctx, id, expected, next, fields, l.now())
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return nil, apperr.New(apperr.KindNotFound, "booking not found")
		case errors.Is(err, database.ErrStatusConflict):
			return nil, apperr.Wrap(err, apperr.KindConflict, "booking is no longer %s", expected)
		default:
			return nil, apperr.Internal(err, "failed to update booking status")
		}
	}

	l.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"from":       expected,
		"to":         next,
	}).Info("Booking status changed")

	return booking, nil
}

// AttachPaymentSession links a provider session to a pending booking
func (l *BookingLedger) AttachPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	err := l.bookings.AttachPaymentSession(ctx, id, sessionID, l.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return apperr.New(apperr.KindNotFound, "booking not found")
	case errors.Is(err, database.ErrStatusConflict), errors.Is(err, database.ErrSessionAlreadyAttached):
		return apperr.Wrap(err, apperr.KindConflict, "booking already has a payment session or is no longer pending")
	default:
		return apperr.Internal(err, "failed to attach payment session")
	}
}

// ListStalePending returns pending bookings created before olderThan
func (l *BookingLedger) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	bookings, err := l.bookings.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list stale bookings")
	}
	return bookings, nil
}

// ListConfirmedPackagesWithoutGrant returns package bookings missing their grant
func (l *BookingLedger) ListConfirmedPackagesWithoutGrant(ctx context.Context, limit int) ([]models.Booking, error) {
	bookings, err := l.bookings.ListConfirmedPackagesWithoutGrant(ctx, limit)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list bookings missing grants")
	}
	return bookings, nil
}
