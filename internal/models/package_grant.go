package models

import (
	"time"

	"github.com/google/uuid"
)

// PackageGrantStatus represents whether a grant can still be redeemed
type PackageGrantStatus string

const (
	PackageGrantActive  PackageGrantStatus = "active"
	PackageGrantRevoked PackageGrantStatus = "revoked"
)

// PackageGrant is the entitlement created when a package purchase is confirmed
type PackageGrant struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	BookingID         uuid.UUID          `json:"bookingId" db:"booking_id"`
	UserID            string             `json:"userId" db:"user_id"`
	ServiceID         string             `json:"serviceId" db:"service_id"`
	TotalSessions     int                `json:"totalSessions" db:"total_sessions"`
	UsedSessions      int                `json:"usedSessions" db:"used_sessions"`
	RemainingSessions int                `json:"remainingSessions" db:"remaining_sessions"`
	ExpiresAt         *time.Time         `json:"expiresAt,omitempty" db:"expires_at"`
	Status            PackageGrantStatus `json:"status" db:"status"`
	CreatedAt         time.Time          `json:"createdAt" db:"created_at"`
	RevokedAt         *time.Time         `json:"revokedAt,omitempty" db:"revoked_at"`
}

// NewPackageGrant builds the grant for a confirmed package booking
func NewPackageGrant(booking *Booking, service *Service, now time.Time) *PackageGrant {
	grant := &PackageGrant{
		ID:                uuid.New(),
		BookingID:         booking.ID,
		UserID:            booking.UserID,
		ServiceID:         booking.ServiceID,
		TotalSessions:     service.PackageSessions,
		RemainingSessions: service.PackageSessions,
		Status:            PackageGrantActive,
		CreatedAt:         now,
	}
	if service.PackageValidityDays > 0 {
		expires := now.AddDate(0, 0, service.PackageValidityDays)
		grant.ExpiresAt = &expires
	}
	return grant
}
