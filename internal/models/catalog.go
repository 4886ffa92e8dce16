package models

import "time"

// Service is a bookable offering with its pricing configuration
type Service struct {
	ID                   string `json:"id" db:"id"`
	Name                 string `json:"name" db:"name"`
	Price                int64  `json:"price" db:"price"`
	Currency             string `json:"currency" db:"currency"`
	DepositPercent       int    `json:"depositPercent" db:"deposit_percent"`
	PackageSessions      int    `json:"packageSessions" db:"package_sessions"`          // > 0 marks a multi-session package
	PackageValidityDays  int    `json:"packageValidityDays" db:"package_validity_days"` // 0 means no expiry
	BookingCutoffMinutes *int   `json:"bookingCutoffMinutes,omitempty" db:"booking_cutoff_minutes"`
	IsActive             bool   `json:"isActive" db:"is_active"`
}

// IsPackage reports whether purchasing the service grants multiple sessions
func (s *Service) IsPackage() bool {
	return s.PackageSessions > 0
}

// AddOn is an optional extra configured for a service
type AddOn struct {
	ID        string `json:"id" db:"id"`
	ServiceID string `json:"serviceId" db:"service_id"`
	Name      string `json:"name" db:"name"`
	Price     int64  `json:"price" db:"price"`
	IsActive  bool   `json:"isActive" db:"is_active"`
}

// AvailabilitySlot is a slot published by the availability configuration
type AvailabilitySlot struct {
	ServiceID  string    `db:"service_id"`
	ResourceID string    `db:"resource_id"`
	SlotStart  time.Time `db:"slot_start"`
	SlotEnd    time.Time `db:"slot_end"`
	Capacity   int       `db:"capacity"`
}
