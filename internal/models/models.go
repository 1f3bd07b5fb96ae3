package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a purchase
type Status string

// Purchase statuses
const (
	StatusPending      Status = "pending"
	StatusPendingAdmin Status = "pending_admin"
	StatusCompleted    Status = "completed"
	StatusRejected     Status = "rejected"
	StatusCancelled    Status = "cancelled"
	StatusFailed       Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusPendingAdmin,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
	StatusFailed,
}

// transitions lists every status change the reconciliation engine may apply.
// Deletion of a pending purchase is not a status change and is not listed.
var transitions = map[Status][]Status{
	StatusPending:      {StatusPendingAdmin, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPendingAdmin: {StatusCompleted, StatusRejected},
}

// ParseStatus validates a raw status value
func ParseStatus(raw string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown purchase status: %q", raw)
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal transition
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses that may move into the target status
func SourcesFor(to Status) []Status {
	var from []Status
	for _, s := range allStatuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Purchase is one user's attempt to buy one course
type Purchase struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Status        Status    `db:"status" json:"status"`
	PaymentMethod string    `db:"payment_method" json:"payment_method,omitempty"`
	TransactionID *string   `db:"transaction_id" json:"transaction_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TxID returns the processor transaction id or an empty string
func (p *Purchase) TxID() string {
	if p == nil || p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}

// Referral links a referred user to the user who brought them in
type Referral struct {
	ReferrerID int64           `db:"referrer_id" json:"referrer_id"`
	ReferredID int64           `db:"referred_id" json:"referred_id"`
	Commission decimal.Decimal `db:"commission" json:"commission"`
	PaidOut    decimal.Decimal `db:"paid_out" json:"paid_out"`
	Paid       bool            `db:"paid" json:"paid"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// ReferralStats aggregates a referrer's referrals
type ReferralStats struct {
	Referred int64           `db:"referred" json:"referred"`
	Unpaid   decimal.Decimal `db:"unpaid" json:"unpaid"`
	PaidOut  decimal.Decimal `db:"paid_out" json:"paid_out"`
}

// DailyQuota counts AI assistant requests per user per UTC day
type DailyQuota struct {
	UserID int64  `db:"user_id" json:"user_id"`
	Day    string `db:"request_date" json:"day"`
	Count  int    `db:"request_count" json:"count"`
}

// DayKey formats the quota key for t
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Event is an append-only analytics record
type Event struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Type      string          `db:"event_type" json:"event_type"`
	CourseID  *string         `db:"course_id" json:"course_id,omitempty"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Analytics event types
const (
	EventClickCourse         = "click_course"
	EventStartPayment        = "start_payment"
	EventPaymentPendingAdmin = "payment_pending_admin"
	EventPurchaseCompleted   = "purchase_completed"
	EventPurchaseRejected    = "purchase_rejected"
	EventPurchaseCancelled   = "purchase_cancelled"
	EventPurchaseFailed      = "purchase_failed"
	EventReferralJoin        = "referral_join"
	EventAssistantQuestion   = "assistant_question"
)

// FunnelRow is the count of one event type
type FunnelRow struct {
	EventType string `db:"event_type" json:"event_type"`
	Count     int64  `db:"cnt" json:"count"`
}

// CoursePopularity counts clicks and completed purchases per course
type CoursePopularity struct {
	CourseID  string `db:"course_id" json:"course_id"`
	Clicks    int64  `db:"clicks" json:"clicks"`
	Purchases int64  `db:"purchases" json:"purchases"`
}

// SalesSummary totals completed sales
type SalesSummary struct {
	Users     int64 `db:"users" json:"users"`
	Completed int64 `db:"completed" json:"completed"`
	Revenue   int64 `db:"revenue" json:"revenue"`
	Pending   int64 `db:"pending" json:"pending"`
}

// Course is a sellable course
type Course struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Price       int64     `db:"price" json:"price"`
	Description string    `db:"description" json:"description"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	Lessons     []Lesson  `db:"-" json:"lessons,omitempty"`
}

// Lesson is one lesson of a course
type Lesson struct {
	CourseID string `db:"course_id" json:"course_id"`
	Number   int    `db:"lesson_number" json:"number"`
	Title    string `db:"title" json:"title"`
	Content  string `db:"content" json:"content"`
}

// ReferralCredit is a commission credited to a referrer when a referred
// user's purchase completes
type ReferralCredit struct {
	ReferrerID int64           `json:"referrer_id"`
	ReferredID int64           `json:"referred_id"`
	Commission decimal.Decimal `json:"commission"`
}

// Completion is the result of moving a purchase to completed
type Completion struct {
	Purchase         *Purchase       `json:"purchase"`
	AlreadyCompleted bool            `json:"already_completed"`
	Credit           *ReferralCredit `json:"credit,omitempty"`
}

// Commission computes a referral commission rounded to cents
func Commission(amount int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(rate).Round(2)
}
