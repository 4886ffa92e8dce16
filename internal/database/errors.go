package database

import "errors"

// Sentinel errors returned by repositories. Services translate them into
// API error kinds.
var (
	// ErrNotFound means the addressed row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict means a compare-and-swap saw a different current status
	ErrStatusConflict = errors.New("status changed concurrently")

	// ErrSlotTaken means another blocking hold owns the slot
	ErrSlotTaken = errors.New("slot is held by another hold")

	// ErrHoldHasLiveBooking means a pending or confirmed booking already uses the hold
	ErrHoldHasLiveBooking = errors.New("hold already has a live booking")

	// ErrSessionAlreadyAttached means the booking already references a payment session
	ErrSessionAlreadyAttached = errors.New("payment session already attached")
)
