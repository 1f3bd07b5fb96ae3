package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"course-bot/internal/broker"
	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/service"
	"course-bot/internal/util"
)

// ResultApplier applies processor notifications to purchases
type ResultApplier interface {
	ApplyProcessorResult(ctx context.Context, n processor.Notification, trigger string) (*service.Outcome, error)
}

// EventLog remembers which broker events were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentWorker applies processor webhooks delivered through Kafka
type PaymentWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	engine   ResultApplier
	events   EventLog
	logger   *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, engine ResultApplier, events EventLog) *PaymentWorker {
	w := &PaymentWorker{
		consumer: consumer,
		handler:  broker.NewEventHandler(),
		engine:   engine,
		events:   events,
		logger:   util.GetLogger(),
	}
	w.handler.OnProcessorNotification(w.HandleNotification)
	return w
}

// Start starts the payment worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

// HandleNotification applies one processor notification. Permanent
// rejections are acknowledged; other errors are returned for redelivery.
func (w *PaymentWorker) HandleNotification(ctx context.Context, event *models.ProcessorNotificationEvent) error {
	logger := w.logger.With(
		zap.String("event_id", event.EventID),
		zap.Int64("purchase_id", event.PurchaseID),
		zap.String("outcome", event.Outcome),
	)

	done, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		logger.Debug("Notification already processed")
		return nil
	}

	n := processor.Notification{
		DeliveryID: event.EventID,
		Processor:  processor.Name(event.Processor),
		PurchaseID: event.PurchaseID,
		TxID:       event.TxID,
		Outcome:    event.Outcome,
		RawType:    event.RawType,
	}

	outcome, err := w.engine.ApplyProcessorResult(ctx, n, service.TriggerWebhook)
	switch {
	case err == nil:
		logger.Info("Applied processor notification", zap.String("result", outcome.Kind.String()))
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidState):
		logger.Warn("Dropping processor notification", zap.Error(err))
	default:
		return err
	}

	return w.events.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// Reconciler polls processors for purchases still awaiting payment
type Reconciler interface {
	ReconcilePending(ctx context.Context) (*service.ReconcileReport, error)
}

// Locker serializes reconcile passes across instances
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

const reconcileLockKey = "reconcile-pending"

// ReconcileWorker periodically reconciles pending purchases
type ReconcileWorker struct {
	reconciler Reconciler
	locker     Locker
	interval   time.Duration
	logger     *zap.Logger
}

// NewReconcileWorker creates a reconcile worker. locker may be nil for a
// single instance deployment.
func NewReconcileWorker(reconciler Reconciler, locker Locker, interval time.Duration) *ReconcileWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileWorker{
		reconciler: reconciler,
		locker:     locker,
		interval:   interval,
		logger:     util.GetLogger(),
	}
}

// Start runs reconcile passes until ctx is done
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reconcile worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping reconcile worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single pass. It returns a nil report when another
// instance holds the lock.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (*service.ReconcileReport, error) {
	if w.locker != nil {
		token, ok, err := w.locker.AcquireLock(ctx, reconcileLockKey, w.interval)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), reconcileLockKey, token); err != nil {
				w.logger.Warn("Failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	return w.reconciler.ReconcilePending(ctx)
}
