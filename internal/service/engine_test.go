package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-bot/internal/catalog"
	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/store/memory"
)

const adminID int64 = 999

type recordingNotifier struct {
	mu        sync.Mutex
	completed []int64
	rejected  []int64
	review    []int64
	channel   []int64
	credits   []models.ReferralCredit
	fail      bool
}

func (n *recordingNotifier) record(list *[]int64, id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	*list = append(*list, id)
	if n.fail {
		return errors.New("telegram is down")
	}
	return nil
}

func (n *recordingNotifier) NotifyBuyerCompleted(_ context.Context, p *models.Purchase) error {
	return n.record(&n.completed, p.ID)
}

func (n *recordingNotifier) NotifyBuyerRejected(_ context.Context, p *models.Purchase) error {
	return n.record(&n.rejected, p.ID)
}

func (n *recordingNotifier) NotifyAdminPendingReview(_ context.Context, p *models.Purchase) error {
	return n.record(&n.review, p.ID)
}

func (n *recordingNotifier) NotifyChannelSale(_ context.Context, p *models.Purchase) error {
	return n.record(&n.channel, p.ID)
}

func (n *recordingNotifier) NotifyReferrerCommission(_ context.Context, c *models.ReferralCredit) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.credits = append(n.credits, *c)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishPurchaseEvent(_ context.Context, eventType string, _ *models.Purchase, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

type fakeAdapter struct {
	name    processor.Name
	session *processor.Session
	err     error
	status  processor.RemoteStatus
}

func (f *fakeAdapter) Name() processor.Name { return f.name }

func (f *fakeAdapter) CreateRemoteSession(context.Context, processor.SessionRequest) (*processor.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeAdapter) VerifyRemoteStatus(context.Context, string) processor.RemoteStatus {
	return f.status
}

type fixture struct {
	engine    *Engine
	ledger    *memory.Store
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newFixture(t *testing.T, adapters ...processor.Adapter) *fixture {
	t.Helper()
	ledger := memory.New()
	require.NoError(t, catalog.Seed(context.Background(), ledger))

	n := &recordingNotifier{}
	p := &recordingPublisher{}
	e := NewEngine(ledger, processor.NewStaticRegistry(adapters...), n, p, EngineConfig{
		AdminID:        adminID,
		CommissionRate: decimal.RequireFromString("0.15"),
	})
	return &fixture{engine: e, ledger: ledger, notifier: n, publisher: p}
}

func (f *fixture) buy(t *testing.T, user int64, course string) *models.Purchase {
	t.Helper()
	out, err := f.engine.Buy(context.Background(), Actor{UserID: user}, course)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Kind)
	return out.Purchase
}

func (f *fixture) status(t *testing.T, id int64) models.Status {
	t.Helper()
	p, err := f.ledger.GetPurchase(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestScenarioA_AdminApprovalGrantsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{UserID: adminID}

	p := f.buy(t, 1, "course_1")
	assert.Equal(t, models.StatusPending, p.Status)
	assert.Equal(t, int64(100), p.Amount)

	out, err := f.engine.AdminApprove(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, models.StatusCompleted, f.status(t, p.ID))
	assert.Empty(t, f.notifier.credits)

	ok, err := f.ledger.HasCompletedAccess(ctx, 1, "course_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScenarioB_CommissionCreditedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{UserID: adminID}

	stored, err := f.engine.SaveReferrer(ctx, 2, 1)
	require.NoError(t, err)
	require.True(t, stored)

	p := f.buy(t, 2, "course_2")
	_, err = f.engine.ClaimManualPayment(ctx, Actor{UserID: 2}, p.ID, "paypal")
	require.NoError(t, err)

	_, err = f.engine.AdminApprove(ctx, admin, p.ID)
	require.NoError(t, err)

	again, err := f.engine.AdminApprove(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, again.Kind)
	assert.True(t, again.Repeated)

	st, err := f.ledger.ReferralStats(ctx, 1)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30").Equal(st.Unpaid), "got %s", st.Unpaid)

	assert.Len(t, f.notifier.completed, 1)
	assert.Len(t, f.notifier.channel, 1)
	require.Len(t, f.notifier.credits, 1)
	assert.Equal(t, int64(1), f.notifier.credits[0].ReferrerID)
}

func TestScenarioC_BareCancelIsAmbiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := Actor{UserID: 3}

	first := f.buy(t, 3, "course_1")
	second := f.buy(t, 3, "course_2")

	_, err := f.engine.Cancel(ctx, user, 0)
	require.ErrorIs(t, err, ErrAmbiguous)
	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Len(t, amb.Candidates, 2)

	out, err := f.engine.Cancel(ctx, user, first.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out.Kind)

	_, err = f.ledger.GetPurchase(ctx, first.ID)
	assert.Error(t, err)
	assert.Equal(t, models.StatusPending, f.status(t, second.ID))

	out, err = f.engine.Cancel(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, out.Purchase.ID)

	_, err = f.engine.Cancel(ctx, user, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScenarioD_NoAdaptersFallsBackToManual(t *testing.T) {
	f := newFixture(t)
	p := f.buy(t, 4, "course_1")

	out, err := f.engine.StartProcessorPayment(context.Background(), Actor{UserID: 4}, p.ID, processor.PayPal)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManualInstructions, out.Kind)
	assert.Equal(t, models.StatusPending, f.status(t, p.ID))
}

func TestUnavailableProcessorFallsBackToManual(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: processor.YooKassa, err: processor.ErrUnavailable})
	p := f.buy(t, 4, "course_1")

	out, err := f.engine.Dispatch(context.Background(), Actor{UserID: 4}, PayWith{PurchaseID: p.ID, Processor: processor.YooKassa})
	require.NoError(t, err)
	assert.Equal(t, OutcomeManualInstructions, out.Kind)
}

func TestProcessorFlowWithDuplicateWebhook(t *testing.T) {
	adapter := &fakeAdapter{
		name:    processor.PayPal,
		session: &processor.Session{URL: "https://paypal/approve", TransactionID: "PAY-1"},
		status:  processor.StatusNotPaid,
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	p := f.buy(t, 5, "course_3")
	out, err := f.engine.StartProcessorPayment(ctx, Actor{UserID: 5}, p.ID, processor.PayPal)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSessionCreated, out.Kind)
	assert.Equal(t, "https://paypal/approve", out.SessionURL)

	n := processor.Notification{Processor: processor.PayPal, PurchaseID: p.ID, TxID: "PAY-1", Outcome: models.ProcessorOutcomePaid}
	out, err = f.engine.ApplyProcessorResult(ctx, n, TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)

	out, err = f.engine.ApplyProcessorResult(ctx, n, TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, out.Kind)
	assert.Len(t, f.notifier.completed, 1)
}

func TestProcessorNotificationWithForeignTransaction(t *testing.T) {
	adapter := &fakeAdapter{name: processor.PayPal, session: &processor.Session{URL: "u", TransactionID: "PAY-1"}}
	f := newFixture(t, adapter)
	ctx := context.Background()

	p := f.buy(t, 5, "course_3")
	_, err := f.engine.StartProcessorPayment(ctx, Actor{UserID: 5}, p.ID, processor.PayPal)
	require.NoError(t, err)

	_, err = f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: p.ID, TxID: "PAY-OTHER", Outcome: models.ProcessorOutcomePaid}, TriggerWebhook)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.StatusPending, f.status(t, p.ID))
}

func TestProcessorResultBoundToItsTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cheap := f.buy(t, 8, "course_1")
	require.NoError(t, f.ledger.AttachTransaction(ctx, cheap.ID, "paypal", "PAY-CHEAP"))
	manual := f.buy(t, 8, "course_2")
	_, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 8}, manual.ID, "card")
	require.NoError(t, err)
	bare := f.buy(t, 8, "course_3")

	for _, id := range []int64{manual.ID, bare.ID} {
		_, err = f.engine.ApplyProcessorResult(ctx, processor.Notification{
			Processor:  processor.PayPal,
			PurchaseID: id,
			TxID:       "PAY-CHEAP",
			Outcome:    models.ProcessorOutcomePaid,
		}, TriggerReturnURL)
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, models.StatusPendingAdmin, f.status(t, manual.ID))
	assert.Equal(t, models.StatusPending, f.status(t, bare.ID))

	_, err = f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: cheap.ID, Outcome: models.ProcessorOutcomePaid}, TriggerWebhook)
	assert.ErrorIs(t, err, ErrInvalidState)

	out, err := f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: cheap.ID, TxID: "PAY-CHEAP", Outcome: models.ProcessorOutcomePaid}, TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)

	ok, err := f.ledger.HasCompletedAccess(ctx, 8, "course_2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminApproveRefusesSettledPurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 9, "course_1")
	require.NoError(t, f.ledger.AttachTransaction(ctx, p.ID, "yookassa", "2c62"))
	_, err := f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: p.ID, TxID: "2c62", Outcome: models.ProcessorOutcomeFailed}, TriggerWebhook)
	require.NoError(t, err)

	_, err = f.engine.AdminApprove(ctx, Actor{UserID: adminID}, p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.StatusFailed, f.status(t, p.ID))
}

func TestProcessorFailureOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 6, "course_1")
	require.NoError(t, f.ledger.AttachTransaction(ctx, p.ID, "yookassa", "2c60"))
	_, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 6}, p.ID, "card")
	require.NoError(t, err)

	out, err := f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: p.ID, TxID: "2c60", Outcome: models.ProcessorOutcomeFailed}, TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStatus, out.Kind)
	assert.Equal(t, models.StatusPendingAdmin, f.status(t, p.ID))

	q := f.buy(t, 6, "course_2")
	require.NoError(t, f.ledger.AttachTransaction(ctx, q.ID, "yookassa", "2c61"))
	out, err = f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: q.ID, TxID: "2c61", Outcome: models.ProcessorOutcomeCancelled}, TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, models.StatusCancelled, f.status(t, q.ID))
}

func TestAdminActionsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 7, "course_1")
	_, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 7}, p.ID, "card")
	require.NoError(t, err)

	_, err = f.engine.AdminApprove(ctx, Actor{UserID: 7}, p.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.AdminReject(ctx, Actor{UserID: 7}, p.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.PayoutReferrer(ctx, Actor{UserID: 7}, 1)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.Stats(ctx, Actor{UserID: 7})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	assert.Equal(t, models.StatusPendingAdmin, f.status(t, p.ID))
}

func TestRejectFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{UserID: adminID}

	p := f.buy(t, 8, "course_1")
	_, err := f.engine.AdminReject(ctx, admin, p.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "pending purchases are not reviewable")

	_, err = f.engine.ClaimManualPayment(ctx, Actor{UserID: 8}, p.ID, "card")
	require.NoError(t, err)

	out, err := f.engine.AdminReject(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)

	out, err = f.engine.AdminReject(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Repeated)
	assert.Len(t, f.notifier.rejected, 1)

	_, err = f.engine.AdminApprove(ctx, admin, p.ID)
	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.StatusRejected, stateErr.Status)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 9, "course_1")
	_, err := f.engine.Cancel(ctx, Actor{UserID: 10}, p.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.engine.ClaimManualPayment(ctx, Actor{UserID: 9}, p.ID, "card")
	require.NoError(t, err)
	_, err = f.engine.AdminApprove(ctx, Actor{UserID: adminID}, p.ID)
	require.NoError(t, err)

	out, err := f.engine.Cancel(ctx, Actor{UserID: 9}, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotCancellable, out.Kind)
	assert.Equal(t, models.StatusCompleted, f.status(t, p.ID))
}

func TestClaimTwiceNotifiesAdminOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 11, "course_1")
	_, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 11}, p.ID, "card")
	require.NoError(t, err)

	out, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 11}, p.ID, "card")
	require.NoError(t, err)
	assert.True(t, out.Repeated)
	assert.Len(t, f.notifier.review, 1)
}

func TestBuyOwnedCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 12, "course_1")
	require.NoError(t, f.ledger.AttachTransaction(ctx, p.ID, "paypal", "PAY-12"))
	_, err := f.engine.ApplyProcessorResult(ctx, processor.Notification{PurchaseID: p.ID, TxID: "PAY-12", Outcome: models.ProcessorOutcomePaid}, TriggerWebhook)
	require.NoError(t, err)

	out, err := f.engine.Buy(ctx, Actor{UserID: 12}, "course_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyOwned, out.Kind)

	_, err = f.engine.Buy(ctx, Actor{UserID: 12}, "course_404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcilePending(t *testing.T) {
	adapter := &fakeAdapter{
		name:    processor.YooKassa,
		session: &processor.Session{URL: "u", TransactionID: "2c5d"},
		status:  processor.StatusPaid,
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	p := f.buy(t, 13, "course_2")
	_, err := f.engine.StartProcessorPayment(ctx, Actor{UserID: 13}, p.ID, processor.YooKassa)
	require.NoError(t, err)
	f.buy(t, 13, "course_3")

	report, err := f.engine.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, models.StatusCompleted, f.status(t, p.ID))

	report, err = f.engine.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestCheckPayment(t *testing.T) {
	adapter := &fakeAdapter{
		name:    processor.YooKassa,
		session: &processor.Session{URL: "u", TransactionID: "2c5d"},
		status:  processor.StatusNotPaid,
	}
	f := newFixture(t, adapter)
	ctx := context.Background()
	user := Actor{UserID: 14}

	p := f.buy(t, 14, "course_2")
	out, err := f.engine.CheckPayment(ctx, user, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStillPending, out.Kind)

	_, err = f.engine.StartProcessorPayment(ctx, user, p.ID, processor.YooKassa)
	require.NoError(t, err)

	adapter.status = processor.StatusFailed
	out, err = f.engine.CheckPayment(ctx, user, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, models.StatusFailed, f.status(t, p.ID))
}

func TestNotifierFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	ctx := context.Background()

	p := f.buy(t, 15, "course_1")
	_, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 15}, p.ID, "card")
	require.NoError(t, err)
	out, err := f.engine.AdminApprove(ctx, Actor{UserID: adminID}, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
}

func TestLifecycleEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.buy(t, 16, "course_1")
	_, err := f.engine.ClaimManualPayment(ctx, Actor{UserID: 16}, p.ID, "card")
	require.NoError(t, err)
	_, err = f.engine.AdminApprove(ctx, Actor{UserID: adminID}, p.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		models.EventTypePurchaseCreated,
		models.EventTypePurchasePendingAdmin,
		models.EventTypePurchaseCompleted,
	}, f.publisher.events)
}

func TestPayoutReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.engine.SaveReferrer(ctx, 21, 20)
	p := f.buy(t, 21, "course_3")
	_, err := f.engine.AdminApprove(ctx, Actor{UserID: adminID}, p.ID)
	require.NoError(t, err)

	total, err := f.engine.PayoutReferrer(ctx, Actor{UserID: adminID}, 20)
	require.NoError(t, err)
	assert.Equal(t, "45", total.String())

	info, err := f.engine.ReferralInfo(ctx, Actor{UserID: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Referred)
	assert.True(t, info.Unpaid.IsZero())
}

func TestConfirmReturn(t *testing.T) {
	adapter := &fakeAdapter{
		name:    processor.YooKassa,
		session: &processor.Session{URL: "u", TransactionID: "2c5e"},
		status:  processor.StatusPaid,
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	p := f.buy(t, 15, "course_1")
	_, err := f.engine.StartProcessorPayment(ctx, Actor{UserID: 15}, p.ID, processor.YooKassa)
	require.NoError(t, err)

	out, err := f.engine.ConfirmReturn(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)

	out, err = f.engine.ConfirmReturn(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStatus, out.Kind)
	assert.Len(t, f.notifier.completed, 1)

	_, err = f.engine.ConfirmReturn(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}
