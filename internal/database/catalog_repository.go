package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mariiahub/booking-reconciliation/internal/models"
)

// CatalogRepository reads service configuration and published availability.
// Both are owned by the availability configuration; this service never writes them.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetService returns a service, or nil if it does not exist
func (r *CatalogRepository) GetService(ctx context.Context, serviceID string) (*models.Service, error) {
	var service models.Service
	err := r.db.GetContext(ctx, &service, `
		SELECT id, name, price, currency, deposit_percent, package_sessions,
		       package_validity_days, booking_cutoff_minutes, is_active
		FROM services
		WHERE id = $1`,
		serviceID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &service, nil
}

// ListAddOns returns the active add-ons configured for a service
func (r *CatalogRepository) ListAddOns(ctx context.Context, serviceID string) ([]models.AddOn, error) {
	var addOns []models.AddOn
	err := r.db.SelectContext(ctx, &addOns, `
		SELECT id, service_id, name, price, is_active
		FROM service_add_ons
		WHERE service_id = $1 AND is_active
		ORDER BY id`,
		serviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list add-ons: %w", err)
	}
	return addOns, nil
}

// FindSlot returns the published slot matching the tuple, or nil
func (r *CatalogRepository) FindSlot(ctx context.Context, serviceID, resourceID string, start, end time.Time) (*models.AvailabilitySlot, error) {
	var slot models.AvailabilitySlot
	err := r.db.GetContext(ctx, &slot, `
		SELECT service_id, resource_id, slot_start, slot_end, capacity
		FROM availability_slots
		WHERE service_id = $1 AND resource_id = $2 AND slot_start = $3 AND slot_end = $4`,
		serviceID, resourceID, start, end,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}
	return &slot, nil
}
