package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"course-bot/internal/models"
)

// ErrIgnoredEvent marks a webhook delivery that carries nothing to reconcile
var ErrIgnoredEvent = errors.New("webhook event ignored")

// Notification is a decoded processor webhook
type Notification struct {
	// DeliveryID identifies the webhook delivery for deduplication
	DeliveryID string
	Processor  Name
	PurchaseID int64
	TxID       string
	Outcome    string
	RawType    string
}

type paypalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		Custom        string `json:"custom"`
		ParentPayment string `json:"parent_payment"`
		State         string `json:"state"`
	} `json:"resource"`
}

// ParsePayPalWebhook decodes a PayPal sale event
func ParsePayPalWebhook(body []byte) (*Notification, error) {
	var w paypalWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("invalid paypal webhook: %w", err)
	}

	var outcome string
	switch w.EventType {
	case "PAYMENT.SALE.COMPLETED":
		outcome = models.ProcessorOutcomePaid
	case "PAYMENT.SALE.DENIED":
		outcome = models.ProcessorOutcomeFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, w.EventType)
	}

	id, err := parsePurchaseID(w.Resource.Custom)
	if err != nil {
		return nil, err
	}

	return &Notification{
		DeliveryID: w.ID,
		Processor:  PayPal,
		PurchaseID: id,
		TxID:       w.Resource.ParentPayment,
		Outcome:    outcome,
		RawType:    w.EventType,
	}, nil
}

type yookassaWebhook struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// ParseYooKassaWebhook decodes a YooKassa payment notification
func ParseYooKassaWebhook(body []byte) (*Notification, error) {
	var w yookassaWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("invalid yookassa webhook: %w", err)
	}

	var outcome string
	switch strings.ToLower(w.Object.Status) {
	case "succeeded":
		outcome = models.ProcessorOutcomePaid
	case "canceled":
		outcome = models.ProcessorOutcomeCancelled
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, w.Object.Status)
	}

	id, err := parsePurchaseID(w.Object.Metadata["payment_id"])
	if err != nil {
		return nil, err
	}
	return &Notification{
		DeliveryID: w.Object.ID + ":" + w.Event,
		Processor:  YooKassa,
		PurchaseID: id,
		TxID:       w.Object.ID,
		Outcome:    outcome,
		RawType:    w.Event,
	}, nil
}

func parsePurchaseID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: no purchase reference", ErrIgnoredEvent)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid purchase reference %q", raw)
	}
	return id, nil
}
