package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-bot/internal/models"
	"course-bot/internal/processor"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestPublishPurchaseEvent(t *testing.T) {
	w := &captureWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(w, "purchase-events"), nil)

	tx := "PAY-1"
	p := &models.Purchase{
		ID:            7,
		UserID:        42,
		CourseID:      "course_1",
		Amount:        100,
		Status:        models.StatusCompleted,
		PaymentMethod: "paypal",
		TransactionID: &tx,
	}
	require.NoError(t, pub.PublishPurchaseEvent(context.Background(), models.EventTypePurchaseCompleted, p, "webhook"))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "purchase-7", string(w.msgs[0].Key))

	var got models.PurchaseEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, models.EventTypePurchaseCompleted, got.EventType)
	assert.NotEmpty(t, got.EventID)
	assert.Equal(t, int64(7), got.PurchaseID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "PAY-1", got.TxID)
	assert.Equal(t, "webhook", got.Trigger)
}

func TestPublishFailureIsReturned(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	pub := NewEventPublisher(NewProducerWithWriter(w, "purchase-events"), nil)

	err := pub.PublishPurchaseEvent(context.Background(), models.EventTypePurchaseCreated, &models.Purchase{ID: 1}, "user")
	assert.Error(t, err)
}

func TestNotificationRoundTripsThroughHandler(t *testing.T) {
	w := &captureWriter{}
	pub := NewEventPublisher(nil, NewProducerWithWriter(w, "processor-notifications"))

	n := &processor.Notification{
		DeliveryID: "WH-1",
		Processor:  processor.PayPal,
		PurchaseID: 9,
		TxID:       "PAY-9",
		Outcome:    models.ProcessorOutcomePaid,
		RawType:    "PAYMENT.SALE.COMPLETED",
	}
	require.NoError(t, pub.PublishProcessorNotification(context.Background(), n))
	require.Len(t, w.msgs, 1)

	var seen *models.ProcessorNotificationEvent
	h := NewEventHandler()
	h.OnProcessorNotification(func(_ context.Context, e *models.ProcessorNotificationEvent) error {
		seen = e
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), w.msgs[0]))
	require.NotNil(t, seen)
	assert.Equal(t, "WH-1", seen.EventID)
	assert.Equal(t, "paypal", seen.Processor)
	assert.Equal(t, int64(9), seen.PurchaseID)
	assert.Equal(t, "PAY-9", seen.TxID)
}

func TestHandlerIgnoresUnknownAndRejectsGarbage(t *testing.T) {
	h := NewEventHandler()

	other, _ := json.Marshal(models.BaseEvent{EventID: "x", EventType: models.EventTypePurchaseCreated})
	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: other}))

	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}
