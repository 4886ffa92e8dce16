package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/database"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
)

// HoldStore persists slot holds. Implemented by database.HoldRepository.
type HoldStore interface {
	Create(ctx context.Context, hold *models.Hold, now time.Time) (*models.Hold, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Hold, error)
	Consume(ctx context.Context, id uuid.UUID, now time.Time) (*models.Hold, error)
	Release(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpireLapsed(ctx context.Context, now time.Time, limit int) (int64, error)
}

// BookingStore persists bookings. Implemented by database.BookingRepository.
type BookingStore interface {
	CreatePending(ctx context.Context, booking *models.Booking, guard database.HoldGuard) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Booking, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error)
	ListConfirmedPackagesWithoutGrant(ctx context.Context, limit int) ([]models.Booking, error)
	AttachPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, now time.Time) error
	TransitionStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus, fields models.PaymentFields, now time.Time) (*models.Booking, error)
}

// CatalogStore reads service configuration and published availability
type CatalogStore interface {
	GetService(ctx context.Context, serviceID string) (*models.Service, error)
	ListAddOns(ctx context.Context, serviceID string) ([]models.AddOn, error)
	FindSlot(ctx context.Context, serviceID, resourceID string, start, end time.Time) (*models.AvailabilitySlot, error)
}

// PackageGrantStore persists package entitlements
type PackageGrantStore interface {
	CreateForBooking(ctx context.Context, grant *models.PackageGrant) (bool, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PackageGrant, error)
	RevokeForBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (bool, error)
}

// AuditStore appends payment audit entries
type AuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// PaymentProvider is the hosted checkout API. Implemented by payment.Client.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, params payment.CreateSessionParams) (*payment.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error)
}

// Dispatcher delivers booking events to customers or downstream systems
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.BookingEvent) error
}
