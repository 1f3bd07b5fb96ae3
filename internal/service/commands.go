package service

import (
	"course-bot/internal/models"
	"course-bot/internal/processor"
)

// Actor is the chat user issuing a command
type Actor struct {
	UserID   int64
	Username string
}

// Command is one of the engine's inputs. The set is closed; Dispatch
// matches every variant.
type Command interface {
	command()
}

// Buy starts a purchase of a course
type Buy struct {
	CourseID string
}

// PayWith opens a hosted payment page at a processor
type PayWith struct {
	PurchaseID int64
	Processor  processor.Name
}

// ClaimManualPayment tells the admin the buyer paid by manual transfer
type ClaimManualPayment struct {
	PurchaseID int64
	Method     string
}

// Cancel withdraws a pending purchase. A zero PurchaseID means "my pending purchase".
type Cancel struct {
	PurchaseID int64
}

type AdminApprove struct {
	PurchaseID int64
}

type AdminReject struct {
	PurchaseID int64
}

// CheckPayment asks the processor whether the purchase has been paid
type CheckPayment struct {
	PurchaseID int64
}

// CheckStatus reads the current status without side effects
type CheckStatus struct {
	PurchaseID int64
}

func (Buy) command()                {}
func (PayWith) command()            {}
func (ClaimManualPayment) command() {}
func (Cancel) command()             {}
func (AdminApprove) command()       {}
func (AdminReject) command()        {}
func (CheckPayment) command()       {}
func (CheckStatus) command()        {}

// OutcomeKind classifies a command result
type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota + 1
	OutcomeAlreadyOwned
	OutcomeSessionCreated
	OutcomeManualInstructions
	OutcomeAwaitingAdmin
	OutcomeCancelled
	OutcomeNotCancellable
	OutcomeCompleted
	OutcomeAlreadyCompleted
	OutcomeRejected
	OutcomeFailed
	OutcomeStillPending
	OutcomeStatus
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyOwned:
		return "already_owned"
	case OutcomeSessionCreated:
		return "session_created"
	case OutcomeManualInstructions:
		return "manual_instructions"
	case OutcomeAwaitingAdmin:
		return "awaiting_admin"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNotCancellable:
		return "not_cancellable"
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyCompleted:
		return "already_completed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeStillPending:
		return "still_pending"
	case OutcomeStatus:
		return "status"
	}
	return "unknown"
}

// Outcome is the result of a command, rendered by the front end
type Outcome struct {
	Kind     OutcomeKind
	Purchase *models.Purchase
	// SessionURL is set for OutcomeSessionCreated
	SessionURL string
	Processor  processor.Name
	// Repeated is set when the command found its effect already applied
	Repeated bool
}
