package processor

import (
	"context"
	"errors"
)

// Name identifies a payment processor
type Name string

const (
	PayPal   Name = "paypal"
	YooKassa Name = "yookassa"
)

// ParseName validates a processor name
func ParseName(raw string) (Name, bool) {
	switch Name(raw) {
	case PayPal, YooKassa:
		return Name(raw), true
	}
	return "", false
}

// ErrUnavailable means the processor could not be used for this request.
// Callers fall back to the manual transfer flow; it never means the payment failed.
var ErrUnavailable = errors.New("payment processor unavailable")

// RemoteStatus is the processor-side state of a payment
type RemoteStatus int

const (
	StatusUnavailable RemoteStatus = iota
	StatusNotPaid
	StatusPaid
	StatusFailed
)

func (s RemoteStatus) String() string {
	switch s {
	case StatusNotPaid:
		return "not_paid"
	case StatusPaid:
		return "paid"
	case StatusFailed:
		return "failed"
	default:
		return "unavailable"
	}
}

// SessionRequest asks a processor to open a hosted payment page
type SessionRequest struct {
	PurchaseID int64
	CourseID   string
	Amount     int64
}

// Session is a created remote payment
type Session struct {
	URL           string
	TransactionID string
}

// Adapter is the integration boundary to one payment processor
type Adapter interface {
	Name() Name
	CreateRemoteSession(ctx context.Context, req SessionRequest) (*Session, error)
	VerifyRemoteStatus(ctx context.Context, txID string) RemoteStatus
}
