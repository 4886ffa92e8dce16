package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventType is the routing key used by notification channels
type BookingEventType string

const (
	EventBookingConfirmed BookingEventType = "booking.confirmed"
	EventBookingFailed    BookingEventType = "booking.failed"
	EventBookingCancelled BookingEventType = "booking.cancelled"
)

// BookingEvent is handed to the notification dispatcher
type BookingEvent struct {
	EventID    uuid.UUID        `json:"eventId"`
	Type       BookingEventType `json:"type"`
	BookingID  uuid.UUID        `json:"bookingId"`
	UserID     string           `json:"userId"`
	OccurredAt time.Time        `json:"occurredAt"`
	Payload    map[string]any   `json:"payload"`
}

// NewBookingEvent builds a channel-agnostic event for a booking
func NewBookingEvent(eventType BookingEventType, booking *Booking, now time.Time) BookingEvent {
	payload := map[string]any{
		"serviceId":     booking.ServiceID,
		"resourceId":    booking.ResourceID,
		"slotStart":     booking.SlotStart,
		"slotEnd":       booking.SlotEnd,
		"amount":        booking.Amount,
		"currency":      booking.Currency,
		"status":        booking.Status,
		"paymentStatus": booking.PaymentStatus,
	}
	if booking.CustomerName != nil {
		payload["customerName"] = *booking.CustomerName
	}
	if booking.CustomerPhone != nil {
		payload["customerPhone"] = *booking.CustomerPhone
	}
	if booking.CustomerEmail != nil {
		payload["customerEmail"] = *booking.CustomerEmail
	}
	if booking.FailureReason != nil {
		payload["failureReason"] = *booking.FailureReason
	}

	return BookingEvent{
		EventID:    uuid.New(),
		Type:       eventType,
		BookingID:  booking.ID,
		UserID:     booking.UserID,
		OccurredAt: now,
		Payload:    payload,
	}
}
