package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/pkg/sms"
	"github.com/sirupsen/logrus"
)

// LogDispatcher writes booking events to the application log
type LogDispatcher struct {
	logger *logrus.Logger
}

// NewLogDispatcher creates a new log dispatcher
func NewLogDispatcher(logger *logrus.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the event
func (d *LogDispatcher) Dispatch(ctx context.Context, event models.BookingEvent) error {
	d.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.Type,
		"booking_id": event.BookingID,
		"user_id":    event.UserID,
	}).Info("Booking notification")
	return nil
}

// EventPublisher publishes JSON messages to a topic exchange. Implemented by
// mq.Publisher.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key, messageID string, v any) error
}

// AMQPDispatcher publishes booking events with the event type as routing key
type AMQPDispatcher struct {
	publisher EventPublisher
}

// NewAMQPDispatcher creates a new AMQP dispatcher
func NewAMQPDispatcher(publisher EventPublisher) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: publisher}
}

// Dispatch publishes the event
func (d *AMQPDispatcher) Dispatch(ctx context.Context, event models.BookingEvent) error {
	if err := d.publisher.PublishJSON(ctx, string(event.Type), event.EventID.String(), event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

// SMSDispatcher texts the customer when the booking carries a phone number
type SMSDispatcher struct {
	gateway sms.Gateway
	logger  *logrus.Logger
}

// NewSMSDispatcher creates a new SMS dispatcher
func NewSMSDispatcher(gateway sms.Gateway, logger *logrus.Logger) *SMSDispatcher {
	return &SMSDispatcher{gateway: gateway, logger: logger}
}

// Dispatch sends a text for the event; events without a phone are skipped
func (d *SMSDispatcher) Dispatch(ctx context.Context, event models.BookingEvent) error {
	phone, _ := event.Payload["customerPhone"].(string)
	if phone == "" {
		return nil
	}

	messageID, err := d.gateway.Send(ctx, phone, smsText(event))
	if err != nil {
		return fmt.Errorf("failed to send %s SMS via %s: %w", event.Type, d.gateway.GetName(), err)
	}

	d.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"booking_id": event.BookingID,
		"message_id": messageID,
	}).Debug("Booking SMS sent")
	return nil
}

func smsText(event models.BookingEvent) string {
	when := ""
	if start, ok := event.Payload["slotStart"].(time.Time); ok {
		when = " for " + start.Format("Mon 2 Jan 15:04")
	}
	ref := event.BookingID.String()[:8]

	switch event.Type {
	case models.EventBookingConfirmed:
		return fmt.Sprintf("Your booking%s is confirmed. Ref %s.", when, ref)
	case models.EventBookingFailed:
		return fmt.Sprintf("We could not complete payment for your booking%s. Ref %s. Please try again.", when, ref)
	case models.EventBookingCancelled:
		return fmt.Sprintf("Your booking%s has been cancelled. Ref %s.", when, ref)
	default:
		return fmt.Sprintf("Update on your booking%s. Ref %s.", when, ref)
	}
}

// MultiDispatcher fans an event out to every channel and joins the errors
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

// NewMultiDispatcher creates a new fan-out dispatcher
func NewMultiDispatcher(dispatchers ...Dispatcher) *MultiDispatcher {
	return &MultiDispatcher{dispatchers: dispatchers}
}

// Dispatch delivers to every channel even when one fails
func (d *MultiDispatcher) Dispatch(ctx context.Context, event models.BookingEvent) error {
	var errs []error
	for _, dispatcher := range d.dispatchers {
		if err := dispatcher.Dispatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
