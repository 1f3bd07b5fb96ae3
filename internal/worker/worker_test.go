package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-bot/internal/catalog"
	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/redisclient"
	"course-bot/internal/service"
	"course-bot/internal/store/memory"
)

func newPaymentWorker(t *testing.T) (*PaymentWorker, *service.Engine, *memory.Store) {
	t.Helper()
	ledger := memory.New()
	require.NoError(t, catalog.Seed(context.Background(), ledger))

	engine := service.NewEngine(ledger, processor.NewStaticRegistry(), nil, nil, service.EngineConfig{AdminID: 999})
	return NewPaymentWorker(nil, engine, ledger), engine, ledger
}

func notification(id string, purchaseID int64, outcome string) *models.ProcessorNotificationEvent {
	return &models.ProcessorNotificationEvent{
		BaseEvent:  models.BaseEvent{EventID: id, EventType: models.EventTypeProcessorNotified},
		Processor:  "paypal",
		PurchaseID: purchaseID,
		TxID:       "PAY-1",
		Outcome:    outcome,
	}
}

func TestPaymentWorkerCompletesOnce(t *testing.T) {
	w, engine, ledger := newPaymentWorker(t)
	ctx := context.Background()

	out, err := engine.Buy(ctx, service.Actor{UserID: 1}, "course_1")
	require.NoError(t, err)
	id := out.Purchase.ID
	require.NoError(t, ledger.AttachTransaction(ctx, id, "paypal", "PAY-1"))

	require.NoError(t, w.HandleNotification(ctx, notification("WH-1", id, models.ProcessorOutcomePaid)))

	p, err := ledger.GetPurchase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, p.Status)

	done, err := ledger.IsEventProcessed(ctx, "WH-1")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, w.HandleNotification(ctx, notification("WH-1", id, models.ProcessorOutcomePaid)))
}

func TestPaymentWorkerAcknowledgesForeignTransaction(t *testing.T) {
	w, engine, ledger := newPaymentWorker(t)
	ctx := context.Background()

	out, err := engine.Buy(ctx, service.Actor{UserID: 2}, "course_2")
	require.NoError(t, err)

	require.NoError(t, w.HandleNotification(ctx, notification("WH-4", out.Purchase.ID, models.ProcessorOutcomePaid)))

	p, err := ledger.GetPurchase(ctx, out.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, p.Status)

	done, err := ledger.IsEventProcessed(ctx, "WH-4")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPaymentWorkerAcknowledgesUnknownPurchase(t *testing.T) {
	w, _, ledger := newPaymentWorker(t)
	ctx := context.Background()

	require.NoError(t, w.HandleNotification(ctx, notification("WH-2", 12345, models.ProcessorOutcomePaid)))

	done, err := ledger.IsEventProcessed(ctx, "WH-2")
	require.NoError(t, err)
	assert.True(t, done)
}

type failingApplier struct{}

func (failingApplier) ApplyProcessorResult(context.Context, processor.Notification, string) (*service.Outcome, error) {
	return nil, errors.New("db down")
}

func TestPaymentWorkerRetriesTransientErrors(t *testing.T) {
	ledger := memory.New()
	w := NewPaymentWorker(nil, failingApplier{}, ledger)

	err := w.HandleNotification(context.Background(), notification("WH-3", 1, models.ProcessorOutcomePaid))
	assert.Error(t, err)

	done, err := ledger.IsEventProcessed(context.Background(), "WH-3")
	require.NoError(t, err)
	assert.False(t, done)
}

type countingReconciler struct {
	calls int
}

func (r *countingReconciler) ReconcilePending(context.Context) (*service.ReconcileReport, error) {
	r.calls++
	return &service.ReconcileReport{Checked: 1}, nil
}

func TestReconcileWorkerHonoursLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	locker := redisclient.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	rec := &countingReconciler{}
	w := NewReconcileWorker(rec, locker, time.Minute)
	ctx := context.Background()

	report, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, rec.calls)

	token, ok, err := locker.AcquireLock(ctx, reconcileLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 1, rec.calls)

	require.NoError(t, locker.ReleaseLock(ctx, reconcileLockKey, token))
}

func TestReconcileWorkerWithoutLocker(t *testing.T) {
	rec := &countingReconciler{}
	w := NewReconcileWorker(rec, nil, 0)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, time.Minute, w.interval)
}
