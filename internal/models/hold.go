package models

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus represents the lifecycle state of a slot hold
// Matches PostgreSQL ENUM: hold_status
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"   // Slot reserved for the owning session until expires_at
	HoldStatusConsumed HoldStatus = "consumed" // Booking confirmed, slot sold
	HoldStatusExpired  HoldStatus = "expired"  // TTL elapsed, slot free again
	HoldStatusReleased HoldStatus = "released" // Booking cancelled, slot free again
)

// Blocking reports whether a hold in this status still occupies its slot
func (s HoldStatus) Blocking() bool {
	return s == HoldStatusActive || s == HoldStatusConsumed
}

// Slot identifies a bookable (service, resource, time-window) tuple
type Slot struct {
	StartsAt time.Time `json:"startsAt" binding:"required"`
	EndsAt   time.Time `json:"endsAt" binding:"required"`
}

// Equal compares slot boundaries ignoring location
func (s Slot) Equal(other Slot) bool {
	return s.StartsAt.Equal(other.StartsAt) && s.EndsAt.Equal(other.EndsAt)
}

// Valid reports whether the slot ends after it starts
func (s Slot) Valid() bool {
	return !s.StartsAt.IsZero() && s.EndsAt.After(s.StartsAt)
}

// Hold is a time-limited reservation of a slot owned by a client session
type Hold struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ServiceID  string     `json:"serviceId" db:"service_id"`
	ResourceID string     `json:"resourceId" db:"resource_id"`
	SessionID  string     `json:"sessionId" db:"session_id"`
	UserID     *string    `json:"userId,omitempty" db:"user_id"`
	SlotStart  time.Time  `json:"slotStart" db:"slot_start"`
	SlotEnd    time.Time  `json:"slotEnd" db:"slot_end"`
	Status     HoldStatus `json:"status" db:"status"`
	ExpiresAt  time.Time  `json:"expiresAt" db:"expires_at"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty" db:"consumed_at"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty" db:"released_at"`
}

// Slot returns the hold's slot window
func (h *Hold) Slot() Slot {
	return Slot{StartsAt: h.SlotStart, EndsAt: h.SlotEnd}
}

// IsActive reports whether the hold still reserves its slot at now
func (h *Hold) IsActive(now time.Time) bool {
	return h.Status == HoldStatusActive && now.Before(h.ExpiresAt)
}

// HoldExpectation is what a caller believes a hold refers to
type HoldExpectation struct {
	ServiceID  string
	ResourceID string
	Slot       Slot
	SessionID  string // empty skips the session check
}
