package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/store"
	"course-bot/internal/util"
)

// Triggers recorded on transitions
const (
	TriggerUser      = "user"
	TriggerAdmin     = "admin"
	TriggerWebhook   = "webhook"
	TriggerPoll      = "poll"
	TriggerCheck     = "check"
	TriggerReturnURL = "return_url"
)

type EngineConfig struct {
	AdminID        int64
	CommissionRate decimal.Decimal
	ReconcileBatch int
}

// Engine is the purchase state machine. Every status change goes through a
// conditional ledger write; side effects run only after a write applied.
type Engine struct {
	ledger    Ledger
	registry  *processor.Registry
	notifier  Notifier
	publisher Publisher
	cfg       EngineConfig
	logger    *zap.Logger
}

// NewEngine creates the reconciliation engine. notifier and publisher may be nil.
func NewEngine(ledger Ledger, registry *processor.Registry, notifier Notifier, publisher Publisher, cfg EngineConfig) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if cfg.CommissionRate.IsZero() {
		cfg.CommissionRate = decimal.RequireFromString("0.15")
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 50
	}
	return &Engine{
		ledger:    ledger,
		registry:  registry,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// IsAdmin reports whether userID is the configured administrator
func (e *Engine) IsAdmin(userID int64) bool {
	return e.cfg.AdminID != 0 && userID == e.cfg.AdminID
}

// Processors lists the available payment processors
func (e *Engine) Processors() []processor.Name {
	return e.registry.Names()
}

// Dispatch runs a decoded command
func (e *Engine) Dispatch(ctx context.Context, actor Actor, cmd Command) (*Outcome, error) {
	switch c := cmd.(type) {
	case Buy:
		return e.Buy(ctx, actor, c.CourseID)
	case PayWith:
		return e.StartProcessorPayment(ctx, actor, c.PurchaseID, c.Processor)
	case ClaimManualPayment:
		return e.ClaimManualPayment(ctx, actor, c.PurchaseID, c.Method)
	case Cancel:
		return e.Cancel(ctx, actor, c.PurchaseID)
	case AdminApprove:
		return e.AdminApprove(ctx, actor, c.PurchaseID)
	case AdminReject:
		return e.AdminReject(ctx, actor, c.PurchaseID)
	case CheckPayment:
		return e.CheckPayment(ctx, actor, c.PurchaseID)
	case CheckStatus:
		return e.CheckStatus(ctx, c.PurchaseID)
	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}

// Buy creates a pending purchase unless the user already owns the course
func (e *Engine) Buy(ctx context.Context, actor Actor, courseID string) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.Buy", attribute.String("course_id", courseID))
	defer span.End()

	course, err := e.ledger.GetCourse(ctx, courseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !course.Active {
		return nil, fmt.Errorf("%w: course %s is not on sale", ErrNotFound, courseID)
	}

	owned, err := e.ledger.HasCompletedAccess(ctx, actor.UserID, courseID)
	if err != nil {
		return nil, err
	}
	if owned {
		return &Outcome{Kind: OutcomeAlreadyOwned}, nil
	}

	p, err := e.ledger.CreatePurchase(ctx, actor.UserID, courseID, course.Price)
	if err != nil {
		return nil, err
	}

	util.PurchasesCreatedTotal.Inc()
	e.logger.Info("Purchase created",
		zap.Int64("purchase_id", p.ID),
		zap.Int64("user_id", p.UserID),
		zap.String("course_id", p.CourseID),
	)
	e.recordEvent(ctx, p.UserID, models.EventStartPayment, &p.CourseID, map[string]any{"purchase_id": p.ID})
	e.publish(ctx, models.EventTypePurchaseCreated, p, TriggerUser)

	return &Outcome{Kind: OutcomeCreated, Purchase: p}, nil
}

// StartProcessorPayment opens a hosted payment page. When the processor is
// not configured or does not answer, the buyer is sent to manual transfer.
func (e *Engine) StartProcessorPayment(ctx context.Context, actor Actor, purchaseID int64, name processor.Name) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.StartProcessorPayment",
		attribute.Int64("purchase_id", purchaseID),
		attribute.String("processor", string(name)),
	)
	defer span.End()

	p, err := e.ownedPurchase(ctx, actor, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.StatusPending {
		return nil, &InvalidStateError{PurchaseID: p.ID, Status: p.Status}
	}

	adapter, ok := e.registry.Get(name)
	if !ok {
		return &Outcome{Kind: OutcomeManualInstructions, Purchase: p, Processor: name}, nil
	}

	sess, err := adapter.CreateRemoteSession(ctx, processor.SessionRequest{
		PurchaseID: p.ID,
		CourseID:   p.CourseID,
		Amount:     p.Amount,
	})
	if err != nil {
		e.logger.Warn("Processor unavailable, falling back to manual transfer",
			zap.Int64("purchase_id", p.ID),
			zap.String("processor", string(name)),
			zap.Error(err),
		)
		return &Outcome{Kind: OutcomeManualInstructions, Purchase: p, Processor: name}, nil
	}

	if err := e.ledger.AttachTransaction(ctx, p.ID, string(name), sess.TransactionID); err != nil {
		return nil, mapStoreErr(err)
	}
	tx := sess.TransactionID
	p.TransactionID = &tx
	p.PaymentMethod = string(name)

	return &Outcome{Kind: OutcomeSessionCreated, Purchase: p, SessionURL: sess.URL, Processor: name}, nil
}

// ClaimManualPayment moves a pending purchase to admin review
func (e *Engine) ClaimManualPayment(ctx context.Context, actor Actor, purchaseID int64, method string) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ClaimManualPayment", attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	if _, err := e.ownedPurchase(ctx, actor, purchaseID); err != nil {
		return nil, err
	}

	p, err := e.ledger.SetStatus(ctx, purchaseID, store.StatusUpdate{
		From:   models.StatusPending,
		To:     models.StatusPendingAdmin,
		Method: method,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		current, gerr := e.ledger.GetPurchase(ctx, purchaseID)
		if gerr != nil {
			return nil, mapStoreErr(gerr)
		}
		if current.Status == models.StatusPendingAdmin {
			return &Outcome{Kind: OutcomeAwaitingAdmin, Purchase: current, Repeated: true}, nil
		}
		return nil, &InvalidStateError{PurchaseID: purchaseID, Status: current.Status}
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}

	e.transitioned(p, TriggerUser)
	e.recordEvent(ctx, p.UserID, models.EventPaymentPendingAdmin, &p.CourseID, map[string]any{"purchase_id": p.ID, "method": method})
	e.notify("admin_pending_review", p.ID, func() error { return e.notifier.NotifyAdminPendingReview(ctx, p) })
	e.publish(ctx, models.EventTypePurchasePendingAdmin, p, TriggerUser)

	return &Outcome{Kind: OutcomeAwaitingAdmin, Purchase: p}, nil
}

// Cancel deletes a pending purchase. Without an id it resolves the caller's
// only pending purchase and refuses to guess when there are several.
func (e *Engine) Cancel(ctx context.Context, actor Actor, purchaseID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.Cancel", attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	var p *models.Purchase
	if purchaseID == 0 {
		pending, err := e.ledger.ListPendingForUser(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		switch len(pending) {
		case 0:
			return nil, fmt.Errorf("%w: no pending purchase", ErrNotFound)
		case 1:
			p = &pending[0]
		default:
			return nil, &AmbiguousError{Candidates: pending}
		}
	} else {
		var err error
		p, err = e.ledger.GetPurchase(ctx, purchaseID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if p.UserID != actor.UserID && !e.IsAdmin(actor.UserID) {
			return nil, ErrPermissionDenied
		}
	}

	if p.Status != models.StatusPending {
		return &Outcome{Kind: OutcomeNotCancellable, Purchase: p}, nil
	}

	if err := e.ledger.DeletePendingPurchase(ctx, p.ID); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, gerr := e.ledger.GetPurchase(ctx, p.ID)
			if gerr != nil {
				return nil, mapStoreErr(gerr)
			}
			return &Outcome{Kind: OutcomeNotCancellable, Purchase: current}, nil
		}
		return nil, mapStoreErr(err)
	}

	util.PurchasesDeletedTotal.Inc()
	e.logger.Info("Pending purchase withdrawn",
		zap.Int64("purchase_id", p.ID),
		zap.Int64("user_id", p.UserID),
		zap.Int64("actor", actor.UserID),
	)
	e.recordEvent(ctx, p.UserID, models.EventPurchaseCancelled, &p.CourseID, map[string]any{"purchase_id": p.ID})
	e.publish(ctx, models.EventTypePurchaseCancelled, p, TriggerUser)

	return &Outcome{Kind: OutcomeCancelled, Purchase: p}, nil
}

// AdminApprove completes a pending purchase, with or without a payment claim
func (e *Engine) AdminApprove(ctx context.Context, actor Actor, purchaseID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.AdminApprove", attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	if err := e.requireAdmin(actor, "approve", purchaseID); err != nil {
		return nil, err
	}

	p, err := e.ledger.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	switch p.Status {
	case models.StatusPending, models.StatusPendingAdmin, models.StatusCompleted:
	default:
		return nil, &InvalidStateError{PurchaseID: p.ID, Status: p.Status}
	}

	return e.complete(ctx, purchaseID, nil, TriggerAdmin)
}

// AdminReject declines a purchase that is awaiting review
func (e *Engine) AdminReject(ctx context.Context, actor Actor, purchaseID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.AdminReject", attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	if err := e.requireAdmin(actor, "reject", purchaseID); err != nil {
		return nil, err
	}

	p, err := e.ledger.SetStatus(ctx, purchaseID, store.StatusUpdate{
		From: models.StatusPendingAdmin,
		To:   models.StatusRejected,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		current, gerr := e.ledger.GetPurchase(ctx, purchaseID)
		if gerr != nil {
			return nil, mapStoreErr(gerr)
		}
		if current.Status == models.StatusRejected {
			return &Outcome{Kind: OutcomeRejected, Purchase: current, Repeated: true}, nil
		}
		return nil, &InvalidStateError{PurchaseID: purchaseID, Status: current.Status}
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}

	e.transitioned(p, TriggerAdmin)
	e.recordEvent(ctx, p.UserID, models.EventPurchaseRejected, &p.CourseID, map[string]any{"purchase_id": p.ID})
	e.notify("buyer_rejected", p.ID, func() error { return e.notifier.NotifyBuyerRejected(ctx, p) })
	e.publish(ctx, models.EventTypePurchaseRejected, p, TriggerAdmin)

	return &Outcome{Kind: OutcomeRejected, Purchase: p}, nil
}

// CheckStatus returns the purchase as stored
func (e *Engine) CheckStatus(ctx context.Context, purchaseID int64) (*Outcome, error) {
	p, err := e.ledger.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &Outcome{Kind: OutcomeStatus, Purchase: p}, nil
}

// CheckPayment verifies a pending purchase with its processor on demand
func (e *Engine) CheckPayment(ctx context.Context, actor Actor, purchaseID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.CheckPayment", attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	p, err := e.ownedPurchase(ctx, actor, purchaseID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case models.StatusCompleted:
		return &Outcome{Kind: OutcomeAlreadyCompleted, Purchase: p}, nil
	case models.StatusPendingAdmin:
		return &Outcome{Kind: OutcomeAwaitingAdmin, Purchase: p}, nil
	case models.StatusPending:
	default:
		return &Outcome{Kind: OutcomeStatus, Purchase: p}, nil
	}

	outcome, err := e.verify(ctx, p, TriggerCheck)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ConfirmReturn verifies a purchase when the buyer comes back from the
// processor page. Non-pending purchases are reported as stored.
func (e *Engine) ConfirmReturn(ctx context.Context, purchaseID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ConfirmReturn", attribute.Int64("purchase_id", purchaseID))
	defer span.End()

	p, err := e.ledger.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if p.Status != models.StatusPending {
		return &Outcome{Kind: OutcomeStatus, Purchase: p}, nil
	}
	return e.verify(ctx, p, TriggerReturnURL)
}

// ApplyProcessorResult reconciles a processor notification
func (e *Engine) ApplyProcessorResult(ctx context.Context, n processor.Notification, trigger string) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ApplyProcessorResult",
		attribute.Int64("purchase_id", n.PurchaseID),
		attribute.String("outcome", n.Outcome),
	)
	defer span.End()

	p, err := e.ledger.GetPurchase(ctx, n.PurchaseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	// a result only applies to the purchase its transaction was created for
	if p.TxID() == "" || n.TxID != p.TxID() {
		e.logger.Warn("Processor notification does not match purchase transaction",
			zap.Int64("purchase_id", p.ID),
			zap.String("expected", p.TxID()),
			zap.String("got", n.TxID),
		)
		return nil, fmt.Errorf("%w: transaction mismatch for purchase %d", ErrInvalidState, p.ID)
	}
	tx := n.TxID
	txID := &tx

	switch n.Outcome {
	case models.ProcessorOutcomePaid:
		return e.complete(ctx, p.ID, txID, trigger)
	case models.ProcessorOutcomeFailed:
		return e.settleUnpaid(ctx, p, models.StatusFailed, txID, trigger)
	case models.ProcessorOutcomeCancelled:
		return e.settleUnpaid(ctx, p, models.StatusCancelled, txID, trigger)
	default:
		return nil, fmt.Errorf("unknown processor outcome %q", n.Outcome)
	}
}

// ReconcileReport summarizes one polling pass
type ReconcileReport struct {
	Checked     int
	Completed   int
	Failed      int
	Unavailable int
}

// ReconcilePending polls processors for pending purchases that carry a transaction id
func (e *Engine) ReconcilePending(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ReconcilePending")
	defer span.End()

	list, err := e.ledger.ListAwaitingProcessor(ctx, e.cfg.ReconcileBatch)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for i := range list {
		if ctx.Err() != nil {
			break
		}
		p := &list[i]
		report.Checked++

		outcome, err := e.verify(ctx, p, TriggerPoll)
		if err != nil {
			e.logger.Error("Reconcile failed", zap.Int64("purchase_id", p.ID), zap.Error(err))
			continue
		}
		switch outcome.Kind {
		case OutcomeCompleted:
			report.Completed++
		case OutcomeFailed:
			report.Failed++
		case OutcomeStillPending:
			if outcome.Processor == "" {
				report.Unavailable++
			}
		}
	}

	if report.Completed+report.Failed > 0 {
		e.logger.Info("Reconciled pending purchases",
			zap.Int("checked", report.Checked),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// verify asks the purchase's processor for its remote status and applies it
func (e *Engine) verify(ctx context.Context, p *models.Purchase, trigger string) (*Outcome, error) {
	name, _ := processor.ParseName(p.PaymentMethod)
	adapter, ok := e.registry.Get(name)
	if !ok || p.TxID() == "" {
		return &Outcome{Kind: OutcomeStillPending, Purchase: p}, nil
	}

	switch adapter.VerifyRemoteStatus(ctx, p.TxID()) {
	case processor.StatusPaid:
		return e.complete(ctx, p.ID, nil, trigger)
	case processor.StatusFailed:
		return e.settleUnpaid(ctx, p, models.StatusFailed, nil, trigger)
	case processor.StatusNotPaid:
		return &Outcome{Kind: OutcomeStillPending, Purchase: p, Processor: name}, nil
	default:
		return &Outcome{Kind: OutcomeStillPending, Purchase: p}, nil
	}
}

// complete moves a purchase to completed. Side effects run once, on the
// call that performed the transition.
func (e *Engine) complete(ctx context.Context, purchaseID int64, txID *string, trigger string) (*Outcome, error) {
	res, err := e.ledger.CompletePurchase(ctx, purchaseID, txID, e.cfg.CommissionRate)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			if current, gerr := e.ledger.GetPurchase(ctx, purchaseID); gerr == nil {
				return nil, &InvalidStateError{PurchaseID: purchaseID, Status: current.Status}
			}
		}
		return nil, mapStoreErr(err)
	}

	p := res.Purchase
	if res.AlreadyCompleted {
		util.DuplicateCompletionsTotal.Inc()
		e.logger.Info("Purchase already completed",
			zap.Int64("purchase_id", p.ID),
			zap.String("trigger", trigger),
		)
		return &Outcome{Kind: OutcomeAlreadyCompleted, Purchase: p, Repeated: true}, nil
	}

	e.transitioned(p, trigger)
	e.recordEvent(ctx, p.UserID, models.EventPurchaseCompleted, &p.CourseID, map[string]any{"purchase_id": p.ID, "trigger": trigger})
	e.notify("buyer_completed", p.ID, func() error { return e.notifier.NotifyBuyerCompleted(ctx, p) })
	e.notify("channel_sale", p.ID, func() error { return e.notifier.NotifyChannelSale(ctx, p) })

	if credit := res.Credit; credit != nil {
		amount, _ := credit.Commission.Float64()
		util.CommissionCreditedTotal.Add(amount)
		e.logger.Info("Referral commission credited",
			zap.Int64("referrer_id", credit.ReferrerID),
			zap.Int64("referred_id", credit.ReferredID),
			zap.String("commission", credit.Commission.String()),
		)
		e.notify("referrer_commission", p.ID, func() error { return e.notifier.NotifyReferrerCommission(ctx, credit) })
	}

	e.publish(ctx, models.EventTypePurchaseCompleted, p, trigger)
	return &Outcome{Kind: OutcomeCompleted, Purchase: p}, nil
}

// settleUnpaid applies a processor-side failure or cancellation to a pending purchase
func (e *Engine) settleUnpaid(ctx context.Context, p *models.Purchase, to models.Status, txID *string, trigger string) (*Outcome, error) {
	updated, err := e.ledger.SetStatus(ctx, p.ID, store.StatusUpdate{
		From: models.StatusPending,
		To:   to,
		TxID: txID,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		current, gerr := e.ledger.GetPurchase(ctx, p.ID)
		if gerr != nil {
			return nil, mapStoreErr(gerr)
		}
		e.logger.Info("Processor result ignored",
			zap.Int64("purchase_id", p.ID),
			zap.String("status", string(current.Status)),
			zap.String("wanted", string(to)),
		)
		return &Outcome{Kind: OutcomeStatus, Purchase: current, Repeated: current.Status == to}, nil
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}

	e.transitioned(updated, trigger)
	eventType, analytics := models.EventTypePurchaseFailed, models.EventPurchaseFailed
	if to == models.StatusCancelled {
		eventType, analytics = models.EventTypePurchaseCancelled, models.EventPurchaseCancelled
	}
	e.recordEvent(ctx, updated.UserID, analytics, &updated.CourseID, map[string]any{"purchase_id": updated.ID, "trigger": trigger})
	e.publish(ctx, eventType, updated, trigger)

	return &Outcome{Kind: OutcomeFailed, Purchase: updated}, nil
}

func (e *Engine) ownedPurchase(ctx context.Context, actor Actor, purchaseID int64) (*models.Purchase, error) {
	p, err := e.ledger.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if p.UserID != actor.UserID {
		return nil, ErrPermissionDenied
	}
	return p, nil
}

func (e *Engine) requireAdmin(actor Actor, action string, purchaseID int64) error {
	if e.IsAdmin(actor.UserID) {
		return nil
	}
	e.logger.Warn("Admin action denied",
		zap.String("action", action),
		zap.Int64("actor", actor.UserID),
		zap.Int64("purchase_id", purchaseID),
	)
	return ErrPermissionDenied
}

func (e *Engine) transitioned(p *models.Purchase, trigger string) {
	util.PurchaseTransitionsTotal.WithLabelValues(string(p.Status), trigger).Inc()
	e.logger.Info("Purchase status changed",
		zap.Int64("purchase_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.String("trigger", trigger),
	)
}

func (e *Engine) notify(kind string, purchaseID int64, send func() error) {
	if err := send(); err != nil {
		util.NotificationFailuresTotal.WithLabelValues(kind).Inc()
		e.logger.Warn("Notification failed",
			zap.String("kind", kind),
			zap.Int64("purchase_id", purchaseID),
			zap.Error(err),
		)
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, p *models.Purchase, trigger string) {
	if err := e.publisher.PublishPurchaseEvent(ctx, eventType, p, trigger); err != nil {
		e.logger.Warn("Failed to publish purchase event",
			zap.String("event_type", eventType),
			zap.Int64("purchase_id", p.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) recordEvent(ctx context.Context, userID int64, eventType string, courseID *string, meta map[string]any) {
	if err := e.ledger.RecordEvent(ctx, userID, eventType, courseID, meta); err != nil {
		e.logger.Warn("Failed to record event", zap.String("event_type", eventType), zap.Error(err))
	}
}
