package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/util"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	purchases     *Producer
	notifications *Producer
}

// NewEventPublisher creates a new event publisher. purchases receives
// lifecycle events, notifications receives processor webhooks.
func NewEventPublisher(purchases, notifications *Producer) *EventPublisher {
	return &EventPublisher{purchases: purchases, notifications: notifications}
}

func purchaseKey(id int64) string {
	return fmt.Sprintf("purchase-%d", id)
}

func newBaseEvent(id, eventType string) models.BaseEvent {
	if id == "" {
		id = uuid.NewString()
	}
	return models.BaseEvent{
		EventID:   id,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishPurchaseEvent publishes a purchase lifecycle transition
func (ep *EventPublisher) PublishPurchaseEvent(ctx context.Context, eventType string, p *models.Purchase, trigger string) error {
	event := &models.PurchaseEvent{
		BaseEvent:     newBaseEvent("", eventType),
		PurchaseID:    p.ID,
		UserID:        p.UserID,
		CourseID:      p.CourseID,
		Amount:        p.Amount,
		Status:        p.Status,
		PaymentMethod: p.PaymentMethod,
		TxID:          p.TxID(),
		Trigger:       trigger,
	}
	return ep.purchases.PublishEvent(ctx, purchaseKey(p.ID), event)
}

// PublishProcessorNotification hands a webhook delivery to the payment
// worker. The delivery id becomes the event id so redeliveries dedupe.
func (ep *EventPublisher) PublishProcessorNotification(ctx context.Context, n *processor.Notification) error {
	event := &models.ProcessorNotificationEvent{
		BaseEvent:  newBaseEvent(n.DeliveryID, models.EventTypeProcessorNotified),
		Processor:  string(n.Processor),
		PurchaseID: n.PurchaseID,
		TxID:       n.TxID,
		Outcome:    n.Outcome,
		RawType:    n.RawType,
	}
	return ep.notifications.PublishEvent(ctx, purchaseKey(n.PurchaseID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onProcessorNotification func(context.Context, *models.ProcessorNotificationEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnProcessorNotification registers a handler for processor webhook events
func (eh *EventHandler) OnProcessorNotification(handler func(context.Context, *models.ProcessorNotificationEvent) error) {
	eh.onProcessorNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeProcessorNotified:
		if eh.onProcessorNotification != nil {
			var event models.ProcessorNotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProcessorNotified event: %w", err)
			}
			return eh.onProcessorNotification(ctx, &event)
		}

	default:
		logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
