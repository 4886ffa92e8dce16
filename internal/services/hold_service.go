package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/database"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/sirupsen/logrus"
)

// HoldServiceConfig holds hold lifetime settings
type HoldServiceConfig struct {
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
	CutoffWindow time.Duration // used when the service has no cutoff of its own
	ExpiryBatch  int
}

// HoldService is the hold manager: it issues, checks, consumes and expires
// slot holds
type HoldService struct {
	holds   HoldStore
	catalog CatalogStore
	config  HoldServiceConfig
	logger  *logrus.Logger
	now     func() time.Time
}

// NewHoldService creates a new hold service
func NewHoldService(holds HoldStore, catalog CatalogStore, config HoldServiceConfig, logger *logrus.Logger) *HoldService {
	if config.ExpiryBatch <= 0 {
		config.ExpiryBatch = 500
	}
	return &HoldService{
		holds:   holds,
		catalog: catalog,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateHoldRequest describes the slot a client session wants to reserve
type CreateHoldRequest struct {
	ServiceID  string
	ResourceID string
	Slot       models.Slot
	SessionID  string
	UserID     *string
	TTLSeconds int
}

// CreateHold reserves a slot for the requesting session. Repeating the
// request from the same session returns the hold it already owns.
func (s *HoldService) CreateHold(ctx context.Context, req CreateHoldRequest) (*models.Hold, error) {
	if req.ServiceID == "" || req.ResourceID == "" || req.SessionID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "serviceId, resourceId and sessionId are required")
	}
	if !req.Slot.Valid() {
		return nil, apperr.New(apperr.KindInvalidSlot, "slot must end after it starts")
	}

	service, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load service")
	}
	if service == nil || !service.IsActive {
		return nil, apperr.New(apperr.KindNotFound, "service not found")
	}

	slot, err := s.catalog.FindSlot(ctx, req.ServiceID, req.ResourceID, req.Slot.StartsAt, req.Slot.EndsAt)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load availability")
	}
	if slot == nil || slot.Capacity < 1 {
		return nil, apperr.New(apperr.KindSlotUnavailable, "slot is not offered for this resource")
	}

	now := s.now()
	if !now.Before(req.Slot.StartsAt.Add(-s.cutoffFor(service))) {
		return nil, apperr.New(apperr.KindBookingWindowClosed, "booking window for this slot has closed")
	}

	hold := &models.Hold{
		ID:         uuid.New(),
		ServiceID:  req.ServiceID,
		ResourceID: req.ResourceID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		SlotStart:  req.Slot.StartsAt,
		SlotEnd:    req.Slot.EndsAt,
		Status:     models.HoldStatusActive,
		ExpiresAt:  now.Add(s.resolveTTL(req.TTLSeconds)),
		CreatedAt:  now,
	}

	result, created, err := s.holds.Create(ctx, hold, now)
	if err != nil {
		if errors.Is(err, database.ErrSlotTaken) {
			return nil, apperr.New(apperr.KindSlotConflict, "slot is already held")
		}
		return nil, apperr.Internal(err, "failed to create hold")
	}

	if !created {
		if result.SessionID != req.SessionID || !result.IsActive(now) {
			return nil, apperr.New(apperr.KindSlotConflict, "slot is already held")
		}
		s.logger.WithFields(logrus.Fields{
			"hold_id":    result.ID,
			"session_id": req.SessionID,
		}).Debug("Returning existing hold for repeated request")
		return result, nil
	}

	s.logger.WithFields(logrus.Fields{
		"hold_id":     result.ID,
		"service_id":  result.ServiceID,
		"resource_id": result.ResourceID,
		"slot_start":  result.SlotStart,
		"expires_at":  result.ExpiresAt,
	}).Info("Hold created")

	return result, nil
}

// ValidateHold checks that holdID is an unexpired hold for the expected slot
func (s *HoldService) ValidateHold(ctx context.Context, holdID uuid.UUID, expected models.HoldExpectation) (*models.Hold, error) {
	hold, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load hold")
	}
	if err := checkHold(hold, expected, s.now()); err != nil {
		return nil, err
	}
	return hold, nil
}

// GetHold returns a hold, or nil if it does not exist
func (s *HoldService) GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	hold, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load hold")
	}
	return hold, nil
}

// ConsumeHold turns the hold into a permanent claim on its slot. Consuming
// twice is harmless.
func (s *HoldService) ConsumeHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	hold, err := s.holds.Consume(ctx, holdID, s.now())
	if err != nil {
		if errors.Is(err, database.ErrSlotTaken) {
			return nil, apperr.Wrap(err, apperr.KindHoldNotFound, "hold lapsed and its slot was taken")
		}
		return nil, apperr.Internal(err, "failed to consume hold")
	}
	if hold == nil {
		return nil, apperr.New(apperr.KindHoldNotFound, "hold not found")
	}
	return hold, nil
}

// ReleaseHold frees the slot of a cancelled booking. It reports whether the
// hold was still blocking.
func (s *HoldService) ReleaseHold(ctx context.Context, holdID uuid.UUID) (bool, error) {
	released, err := s.holds.Release(ctx, holdID, s.now())
	if err != nil {
		return false, apperr.Internal(err, "failed to release hold")
	}
	return released, nil
}

// ExpireHolds marks every hold past its expiry as expired, in batches
func (s *HoldService) ExpireHolds(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		n, err := s.holds.ExpireLapsed(ctx, now, s.config.ExpiryBatch)
		if err != nil {
			return total, apperr.Internal(err, "failed to expire holds")
		}
		total += n
		if n < int64(s.config.ExpiryBatch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.logger.WithField("count", total).Info("Expired lapsed holds")
	}
	return total, nil
}

func (s *HoldService) resolveTTL(ttlSeconds int) time.Duration {
	if ttlSeconds <= 0 {
		return s.config.DefaultTTL
	}
	// Checked before multiplying; large values overflow time.Duration
	if int64(ttlSeconds) > int64(s.config.MaxTTL/time.Second) {
		return s.config.MaxTTL
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl > s.config.MaxTTL {
		return s.config.MaxTTL
	}
	return ttl
}

func (s *HoldService) cutoffFor(service *models.Service) time.Duration {
	if service.BookingCutoffMinutes != nil {
		return time.Duration(*service.BookingCutoffMinutes) * time.Minute
	}
	return s.config.CutoffWindow
}

// checkHold reports why hold cannot back a booking for expected, if at all
func checkHold(hold *models.Hold, expected models.HoldExpectation, now time.Time) error {
	if hold == nil {
		return apperr.New(apperr.KindHoldNotFound, "hold not found")
	}
	if !hold.IsActive(now) {
		return apperr.New(apperr.KindHoldExpired, "hold has expired")
	}

	switch {
	case hold.ServiceID != expected.ServiceID:
		return apperr.New(apperr.KindHoldMismatch, "hold is for a different service").WithDetail("field", "serviceId")
	case hold.ResourceID != expected.ResourceID:
		return apperr.New(apperr.KindHoldMismatch, "hold is for a different resource").WithDetail("field", "resourceId")
	case !hold.Slot().Equal(expected.Slot):
		return apperr.New(apperr.KindHoldMismatch, "hold is for a different slot").WithDetail("field", "slot")
	case expected.SessionID != "" && hold.SessionID != expected.SessionID:
		return apperr.New(apperr.KindHoldMismatch, "hold belongs to another session").WithDetail("field", "sessionId")
	}
	return nil
}
