package models

import "time"

// Event types
const (
	EventTypePurchaseCreated      = "PURCHASE_CREATED"
	EventTypePurchasePendingAdmin = "PURCHASE_PENDING_ADMIN"
	EventTypePurchaseCompleted    = "PURCHASE_COMPLETED"
	EventTypePurchaseRejected     = "PURCHASE_REJECTED"
	EventTypePurchaseCancelled    = "PURCHASE_CANCELLED"
	EventTypePurchaseFailed       = "PURCHASE_FAILED"
	EventTypeProcessorNotified    = "PROCESSOR_NOTIFIED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PurchaseEvent is published on every purchase lifecycle transition
type PurchaseEvent struct {
	BaseEvent
	PurchaseID    int64  `json:"purchase_id"`
	UserID        int64  `json:"user_id"`
	CourseID      string `json:"course_id"`
	Amount        int64  `json:"amount"`
	Status        Status `json:"status"`
	PaymentMethod string `json:"payment_method,omitempty"`
	TxID          string `json:"tx_id,omitempty"`
	Trigger       string `json:"trigger,omitempty"`
}

// Processor notification outcomes
const (
	ProcessorOutcomePaid      = "paid"
	ProcessorOutcomeFailed    = "failed"
	ProcessorOutcomeCancelled = "cancelled"
)

// ProcessorNotificationEvent carries a webhook delivery from a payment processor
// to the payment worker.
type ProcessorNotificationEvent struct {
	BaseEvent
	Processor  string `json:"processor"`
	PurchaseID int64  `json:"purchase_id"`
	TxID       string `json:"tx_id,omitempty"`
	Outcome    string `json:"outcome"`
	RawType    string `json:"raw_type,omitempty"`
}
