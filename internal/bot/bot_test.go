package bot

import (
	"context"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-bot/internal/access"
	"course-bot/internal/catalog"
	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/service"
	"course-bot/internal/store/memory"
)

const testAdmin int64 = 999

type sent struct {
	chatID int64
	text   string
	data   []string
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sent
	requests int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, nil
	}
	s := sent{chatID: msg.ChatID, text: msg.Text}
	if kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				if btn.CallbackData != nil {
					s.data = append(s.data, *btn.CallbackData)
				}
			}
		}
	}
	f.messages = append(f.messages, s)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(chatID int64) sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].chatID == chatID {
			return f.messages[i]
		}
	}
	return sent{}
}

type botFixture struct {
	bot    *Bot
	sender *fakeSender
	ledger *memory.Store
}

func newBotFixture(t *testing.T, adapters ...processor.Adapter) *botFixture {
	t.Helper()
	ctx := context.Background()
	ledger := memory.New()
	require.NoError(t, catalog.Seed(ctx, ledger))

	sender := &fakeSender{}
	render := NewRenderer(ManualConfig{WebMoneyWallet: "Z123"}, "RUB")
	notifier := NewNotifier(sender, render, testAdmin, 0)
	rate := decimal.RequireFromString("0.15")
	engine := service.NewEngine(ledger, processor.NewStaticRegistry(adapters...), notifier, nil, service.EngineConfig{
		AdminID:        testAdmin,
		CommissionRate: rate,
	})

	b := New(sender, engine, access.NewGate(ledger), ledger, nil, render, Config{
		BotUsername:    "course_bot",
		CommissionRate: rate,
	})
	require.NoError(t, b.LoadCourses(ctx))
	return &botFixture{bot: b, sender: sender, ledger: ledger}
}

func command(user int64, text string) tgbotapi.Update {
	cmdLen := len(strings.Fields(text)[0])
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: user},
		Chat:     &tgbotapi.Chat{ID: user},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func press(user int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "q",
		From:    &tgbotapi.User{ID: user},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: user}},
		Data:    data,
	}}
}

func TestParseCallback(t *testing.T) {
	cases := []struct {
		data string
		want Callback
	}{
		{"menu", Callback{View: ViewMenu}},
		{"course:course_1", Callback{View: ViewCourse, CourseID: "course_1"}},
		{"lesson:course_1:2", Callback{View: ViewLesson, CourseID: "course_1", Lesson: 2}},
		{"buy:course_2", Callback{Command: service.Buy{CourseID: "course_2"}}},
		{"pay:7:paypal", Callback{Command: service.PayWith{PurchaseID: 7, Processor: processor.PayPal}}},
		{"manual:7:webmoney", Callback{View: ViewManual, PurchaseID: 7, Method: MethodWebMoney}},
		{"claim:7:paypal", Callback{Command: service.ClaimManualPayment{PurchaseID: 7, Method: MethodPayPal}}},
		{"cancel", Callback{Command: service.Cancel{}}},
		{"cancel:7", Callback{Command: service.Cancel{PurchaseID: 7}}},
		{"approve:7", Callback{Command: service.AdminApprove{PurchaseID: 7}}},
		{"reject:7", Callback{Command: service.AdminReject{PurchaseID: 7}}},
		{"check:7", Callback{Command: service.CheckPayment{PurchaseID: 7}}},
		{"status:7", Callback{Command: service.CheckStatus{PurchaseID: 7}}},
	}
	for _, tc := range cases {
		t.Run(tc.data, func(t *testing.T) {
			got, err := ParseCallback(tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCallbackRejectsMalformed(t *testing.T) {
	for _, data := range []string{
		"", "unknown", "buy", "buy:", "pay:7", "pay:7:bitcoin", "pay:x:paypal",
		"approve:-1", "approve:0", "claim:7:cash", "lesson:course_1:zero", "menu:extra", "cancel:1:2",
	} {
		_, err := ParseCallback(data)
		assert.ErrorIs(t, err, ErrBadCallback, data)
	}
}

func TestCallbackBuildersRoundTrip(t *testing.T) {
	for _, data := range []string{
		buyData("course_1"), payData(3, processor.YooKassa), manualData(3, MethodWebMoney),
		claimData(3, MethodPayPal), cancelData(3), approveData(3), rejectData(3), checkData(3),
		courseData("course_1"), lessonData("course_1", 1),
	} {
		_, err := ParseCallback(data)
		assert.NoError(t, err, data)
	}
}

type stubAdapter struct {
	name processor.Name
}

func (s stubAdapter) Name() processor.Name { return s.name }

func (stubAdapter) CreateRemoteSession(context.Context, processor.SessionRequest) (*processor.Session, error) {
	return nil, processor.ErrUnavailable
}

func (stubAdapter) VerifyRemoteStatus(context.Context, string) processor.RemoteStatus {
	return processor.StatusUnavailable
}

func TestPaymentButtonsFollowConfiguredProcessors(t *testing.T) {
	ctx := context.Background()

	manualOnly := newBotFixture(t)
	manualOnly.bot.HandleUpdate(ctx, press(5, "buy:course_1"))
	pending, err := manualOnly.ledger.ListPendingForUser(ctx, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	data := manualOnly.sender.last(5).data
	assert.NotContains(t, data, payData(pending[0].ID, processor.PayPal))
	assert.Contains(t, data, manualData(pending[0].ID, MethodWebMoney))

	withPayPal := newBotFixture(t, stubAdapter{name: processor.PayPal})
	withPayPal.bot.HandleUpdate(ctx, press(5, "buy:course_1"))
	pending, err = withPayPal.ledger.ListPendingForUser(ctx, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	data = withPayPal.sender.last(5).data
	assert.Contains(t, data, payData(pending[0].ID, processor.PayPal))
	assert.NotContains(t, data, payData(pending[0].ID, processor.YooKassa))
}

func TestManualPurchaseFlow(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	const buyer int64 = 2

	f.bot.HandleUpdate(ctx, command(1, "/start"))
	f.bot.HandleUpdate(ctx, command(buyer, "/start ref_1"))

	ref, err := f.ledger.GetReferral(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.ReferrerID)

	f.bot.HandleUpdate(ctx, press(buyer, "buy:course_2"))
	options := f.sender.last(buyer)
	require.Contains(t, options.text, "Choose a payment method")

	pending, err := f.ledger.ListPendingForUser(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID
	assert.Contains(t, options.data, manualData(id, MethodWebMoney))

	f.bot.HandleUpdate(ctx, press(buyer, manualData(id, MethodWebMoney)))
	assert.Contains(t, f.sender.last(buyer).text, "Z123")

	f.bot.HandleUpdate(ctx, press(buyer, claimData(id, MethodWebMoney)))
	assert.Contains(t, f.sender.last(buyer).text, "sent to the administrator")

	review := f.sender.last(testAdmin)
	assert.Contains(t, review.data, approveData(id))
	assert.Contains(t, review.data, rejectData(id))

	// a buyer cannot approve their own purchase
	f.bot.HandleUpdate(ctx, press(buyer, approveData(id)))
	assert.Contains(t, f.sender.last(buyer).text, "Access denied")

	f.bot.HandleUpdate(ctx, press(testAdmin, approveData(id)))
	assert.Contains(t, f.sender.last(testAdmin).text, "approved")
	assert.Contains(t, f.sender.last(buyer).text, "was confirmed")
	assert.Contains(t, f.sender.last(1).text, "30.00")

	p, err := f.ledger.GetPurchase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, p.Status)

	f.bot.HandleUpdate(ctx, press(buyer, lessonData("course_2", 1)))
	assert.Contains(t, f.sender.last(buyer).text, "Lesson 1")
}

func TestLessonRequiresPurchase(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), press(5, lessonData("course_1", 1)))
	last := f.sender.last(5)
	assert.Contains(t, last.text, "Buy the course")
	assert.Contains(t, last.data, buyData("course_1"))
}

func TestCancelCommandAmbiguous(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, press(3, "buy:course_1"))
	f.bot.HandleUpdate(ctx, press(3, "buy:course_2"))

	f.bot.HandleUpdate(ctx, command(3, "/cancel"))
	last := f.sender.last(3)
	assert.Contains(t, last.text, "several pending purchases")
	assert.Len(t, last.data, 2)

	f.bot.HandleUpdate(ctx, press(3, last.data[0]))
	assert.Contains(t, f.sender.last(3).text, "cancelled")

	pending, err := f.ledger.ListPendingForUser(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStatsAndPayoutAreAdminOnly(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, command(4, "/stats"))
	assert.Contains(t, f.sender.last(4).text, "Access denied")

	f.bot.HandleUpdate(ctx, command(4, "/payout 1"))
	assert.Contains(t, f.sender.last(4).text, "Access denied")

	f.bot.HandleUpdate(ctx, command(testAdmin, "/stats"))
	assert.Contains(t, f.sender.last(testAdmin).text, "Statistics")

	f.bot.HandleUpdate(ctx, command(testAdmin, "/payout 1"))
	assert.Contains(t, f.sender.last(testAdmin).text, "no unpaid commission")
}

func TestBadButtonIsAnswered(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), press(6, "pay:abc:paypal"))
	assert.Equal(t, 1, f.sender.requests)
	assert.Empty(t, f.sender.last(6).text)
}
