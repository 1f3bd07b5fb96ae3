package service

import (
	"context"

	"github.com/shopspring/decimal"

	"course-bot/internal/models"
	"course-bot/internal/store"
)

// Ledger is the durable record the engine reconciles against. It is
// implemented by store.Store and memory.Store.
type Ledger interface {
	AddUser(ctx context.Context, userID int64, username string) error

	CreatePurchase(ctx context.Context, userID int64, courseID string, amount int64) (*models.Purchase, error)
	GetPurchase(ctx context.Context, id int64) (*models.Purchase, error)
	ListPurchasesForUser(ctx context.Context, userID int64) ([]models.Purchase, error)
	ListPendingForUser(ctx context.Context, userID int64) ([]models.Purchase, error)
	ListAwaitingProcessor(ctx context.Context, limit int) ([]models.Purchase, error)
	SetStatus(ctx context.Context, id int64, upd store.StatusUpdate) (*models.Purchase, error)
	AttachTransaction(ctx context.Context, id int64, method, txID string) error
	DeletePendingPurchase(ctx context.Context, id int64) error
	CompletePurchase(ctx context.Context, id int64, txID *string, rate decimal.Decimal) (*models.Completion, error)
	HasCompletedAccess(ctx context.Context, userID int64, courseID string) (bool, error)
	HasAnyCompletedAccess(ctx context.Context, userID int64) (bool, error)

	SaveReferrer(ctx context.Context, referredID, referrerID int64) (bool, error)
	MarkCommissionPaid(ctx context.Context, referrerID int64) (decimal.Decimal, error)
	ReferralStats(ctx context.Context, referrerID int64) (*models.ReferralStats, error)

	RecordEvent(ctx context.Context, userID int64, eventType string, courseID *string, metadata map[string]any) error
	FunnelStats(ctx context.Context) ([]models.FunnelRow, error)
	PopularCourses(ctx context.Context, limit int) ([]models.CoursePopularity, error)
	SalesSummary(ctx context.Context) (*models.SalesSummary, error)

	GetCourse(ctx context.Context, id string) (*models.Course, error)
	ListCourses(ctx context.Context) ([]models.Course, error)
}

// Notifier delivers chat notifications. Calls are best effort.
type Notifier interface {
	NotifyBuyerCompleted(ctx context.Context, p *models.Purchase) error
	NotifyBuyerRejected(ctx context.Context, p *models.Purchase) error
	NotifyAdminPendingReview(ctx context.Context, p *models.Purchase) error
	NotifyChannelSale(ctx context.Context, p *models.Purchase) error
	NotifyReferrerCommission(ctx context.Context, credit *models.ReferralCredit) error
}

// Publisher emits purchase lifecycle events to the broker
type Publisher interface {
	PublishPurchaseEvent(ctx context.Context, eventType string, p *models.Purchase, trigger string) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyBuyerCompleted(context.Context, *models.Purchase) error          { return nil }
func (noopNotifier) NotifyBuyerRejected(context.Context, *models.Purchase) error           { return nil }
func (noopNotifier) NotifyAdminPendingReview(context.Context, *models.Purchase) error      { return nil }
func (noopNotifier) NotifyChannelSale(context.Context, *models.Purchase) error             { return nil }
func (noopNotifier) NotifyReferrerCommission(context.Context, *models.ReferralCredit) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishPurchaseEvent(context.Context, string, *models.Purchase, string) error {
	return nil
}
