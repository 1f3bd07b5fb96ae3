package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"course-bot/internal/assistant"
	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/service"
	"course-bot/internal/store"
	"course-bot/internal/util"
)

// Engine is the set of engine operations the chat front end calls
type Engine interface {
	IsAdmin(userID int64) bool
	Processors() []processor.Name
	Dispatch(ctx context.Context, actor service.Actor, cmd service.Command) (*service.Outcome, error)
	RegisterUser(ctx context.Context, actor service.Actor) error
	SaveReferrer(ctx context.Context, referredID, referrerID int64) (bool, error)
	Courses(ctx context.Context) ([]models.Course, error)
	Course(ctx context.Context, actor service.Actor, courseID string) (*models.Course, error)
	MyPurchases(ctx context.Context, actor service.Actor) ([]models.Purchase, error)
	ReferralInfo(ctx context.Context, actor service.Actor) (*models.ReferralStats, error)
	PayoutReferrer(ctx context.Context, actor service.Actor, referrerID int64) (decimal.Decimal, error)
	Stats(ctx context.Context, actor service.Actor) (*service.StatsReport, error)
}

// AccessGate answers whether a user owns a course
type AccessGate interface {
	HasAccess(ctx context.Context, userID int64, courseID string) (bool, error)
}

type LessonReader interface {
	GetLesson(ctx context.Context, courseID string, number int) (*models.Lesson, error)
}

type Asker interface {
	Ask(ctx context.Context, userID int64, prompt string) (*assistant.Answer, error)
}

// Deduper swallows repeated presses of the same button
type Deduper interface {
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Throttle counts actions in a fixed window
type Throttle interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Config struct {
	BotUsername    string
	CommissionRate decimal.Decimal
	// AssistantPerMinute caps questions per user per minute when a throttle is set
	AssistantPerMinute int
	DailyLimit         int
}

// Bot routes Telegram updates to the engine and renders the results
type Bot struct {
	sender   Sender
	engine   Engine
	gate     AccessGate
	lessons  LessonReader
	asker    Asker
	render   *Renderer
	dedupe   Deduper
	throttle Throttle
	cfg      Config
	logger   *zap.Logger
}

// New creates the bot. asker may be nil when the assistant is disabled.
func New(sender Sender, engine Engine, gate AccessGate, lessons LessonReader, asker Asker, render *Renderer, cfg Config) *Bot {
	if cfg.AssistantPerMinute <= 0 {
		cfg.AssistantPerMinute = 5
	}
	return &Bot{
		sender:  sender,
		engine:  engine,
		gate:    gate,
		lessons: lessons,
		asker:   asker,
		render:  render,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// WithRedis enables button dedupe and assistant throttling
func (b *Bot) WithRedis(dedupe Deduper, throttle Throttle) *Bot {
	b.dedupe = dedupe
	b.throttle = throttle
	return b
}

// LoadCourses primes course titles and payment buttons for rendering
func (b *Bot) LoadCourses(ctx context.Context) error {
	courses, err := b.engine.Courses(ctx)
	if err != nil {
		return err
	}
	b.render.SetCourses(courses)
	b.render.SetProcessors(b.engine.Processors())
	return nil
}

// HandleUpdate processes one Telegram update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func actorOf(u *tgbotapi.User) service.Actor {
	return service.Actor{UserID: u.ID, Username: u.UserName}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil {
		return
	}
	actor := actorOf(m.From)
	chatID := m.Chat.ID

	if !m.IsCommand() {
		b.askAssistant(ctx, chatID, actor.UserID, m.Text)
		return
	}

	switch m.Command() {
	case "start":
		b.handleStart(ctx, chatID, actor, m.CommandArguments())
	case "catalog":
		b.showCatalog(ctx, chatID)
	case "mycourse":
		b.showMyPurchases(ctx, chatID, actor)
	case "referral":
		b.showReferral(ctx, chatID, actor)
	case "stats":
		rep, err := b.engine.Stats(ctx, actor)
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.reply(chatID, b.render.Stats(rep))
	case "payout":
		b.handlePayout(ctx, chatID, actor, m.CommandArguments())
	case "cancel":
		var id int64
		if arg := strings.TrimSpace(m.CommandArguments()); arg != "" {
			parsed, err := strconv.ParseInt(arg, 10, 64)
			if err != nil || parsed <= 0 {
				b.reply(chatID, Screen{Text: "Usage: /cancel [purchase id]"})
				return
			}
			id = parsed
		}
		b.dispatch(ctx, chatID, actor, service.Cancel{PurchaseID: id})
	case "help":
		b.reply(chatID, b.render.Help())
	default:
		b.reply(chatID, Screen{Text: "Unknown command. Use /start"})
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64, actor service.Actor, args string) {
	if err := b.engine.RegisterUser(ctx, actor); err != nil {
		b.logger.Error("Failed to register user", zap.Int64("user_id", actor.UserID), zap.Error(err))
	}

	if ref := strings.TrimPrefix(strings.TrimSpace(args), "ref_"); ref != strings.TrimSpace(args) {
		if referrerID, err := strconv.ParseInt(ref, 10, 64); err == nil && referrerID > 0 {
			if _, err := b.engine.SaveReferrer(ctx, actor.UserID, referrerID); err != nil {
				b.logger.Warn("Failed to save referrer",
					zap.Int64("user_id", actor.UserID),
					zap.Int64("referrer_id", referrerID),
					zap.Error(err))
			}
		}
	}

	b.reply(chatID, b.render.Menu())
}

func (b *Bot) handlePayout(ctx context.Context, chatID int64, actor service.Actor, args string) {
	referrerID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || referrerID <= 0 {
		if !b.engine.IsAdmin(actor.UserID) {
			b.replyError(chatID, service.ErrPermissionDenied)
			return
		}
		b.reply(chatID, Screen{Text: "Usage: /payout <referrer id>"})
		return
	}

	total, err := b.engine.PayoutReferrer(ctx, actor, referrerID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if total.IsZero() {
		b.reply(chatID, Screen{Text: fmt.Sprintf("Referrer %d has no unpaid commission.", referrerID)})
		return
	}
	b.reply(chatID, Screen{Text: fmt.Sprintf("Marked %s %s as paid to referrer %d.", total.StringFixed(2), b.render.currency, referrerID)})
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		b.answer(q.ID, "")
		return
	}
	actor := actorOf(q.From)
	chatID := q.Message.Chat.ID

	cb, err := ParseCallback(q.Data)
	if err != nil {
		b.logger.Warn("Bad callback data", zap.String("data", q.Data), zap.Int64("user_id", actor.UserID))
		b.answer(q.ID, "This button is no longer valid")
		return
	}

	if cb.Command != nil {
		if b.duplicate(ctx, actor.UserID, q.Data) {
			b.answer(q.ID, "Already in progress")
			return
		}
		b.answer(q.ID, "")
		b.dispatch(ctx, chatID, actor, cb.Command)
		return
	}

	b.answer(q.ID, "")
	b.showView(ctx, chatID, actor, cb)
}

// duplicate reports whether the same user pressed the same button moments ago
func (b *Bot) duplicate(ctx context.Context, userID int64, data string) bool {
	if b.dedupe == nil {
		return false
	}
	first, err := b.dedupe.ClaimOnce(ctx, fmt.Sprintf("cb:%d:%s", userID, data), 3*time.Second)
	if err != nil {
		b.logger.Warn("Callback dedupe unavailable", zap.Error(err))
		return false
	}
	return !first
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, actor service.Actor, cmd service.Command) {
	out, err := b.engine.Dispatch(ctx, actor, cmd)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, b.render.Outcome(out, b.engine.IsAdmin(actor.UserID)))
}

func (b *Bot) showView(ctx context.Context, chatID int64, actor service.Actor, cb Callback) {
	switch cb.View {
	case ViewMenu:
		b.reply(chatID, b.render.Menu())
	case ViewCatalog:
		b.showCatalog(ctx, chatID)
	case ViewMyPurchases:
		b.showMyPurchases(ctx, chatID, actor)
	case ViewHelp:
		b.reply(chatID, b.render.Help())
	case ViewRefund:
		b.reply(chatID, b.render.Refund())
	case ViewCourse:
		b.showCourse(ctx, chatID, actor, cb.CourseID)
	case ViewLesson:
		b.showLesson(ctx, chatID, actor, cb.CourseID, cb.Lesson)
	case ViewManual:
		b.showManual(ctx, chatID, actor, cb.PurchaseID, cb.Method)
	}
}

func (b *Bot) showCatalog(ctx context.Context, chatID int64) {
	courses, err := b.engine.Courses(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.render.SetCourses(courses)
	b.reply(chatID, b.render.Catalog(courses))
}

func (b *Bot) showMyPurchases(ctx context.Context, chatID int64, actor service.Actor) {
	list, err := b.engine.MyPurchases(ctx, actor)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, b.render.MyPurchases(list))
}

func (b *Bot) showReferral(ctx context.Context, chatID int64, actor service.Actor) {
	stats, err := b.engine.ReferralInfo(ctx, actor)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	link := fmt.Sprintf("https://t.me/%s?start=ref_%d", b.cfg.BotUsername, actor.UserID)
	b.reply(chatID, b.render.Referral(stats, link, b.cfg.CommissionRate))
}

func (b *Bot) showCourse(ctx context.Context, chatID int64, actor service.Actor, courseID string) {
	course, err := b.engine.Course(ctx, actor, courseID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	owned, err := b.gate.HasAccess(ctx, actor.UserID, courseID)
	if err != nil {
		b.logger.Error("Access check failed", zap.Int64("user_id", actor.UserID), zap.Error(err))
	}
	b.reply(chatID, b.render.Course(course, owned))
}

// showLesson releases lesson content only to owners of the course
func (b *Bot) showLesson(ctx context.Context, chatID int64, actor service.Actor, courseID string, number int) {
	owned, err := b.gate.HasAccess(ctx, actor.UserID, courseID)
	if err != nil {
		b.logger.Error("Access check failed", zap.Int64("user_id", actor.UserID), zap.Error(err))
		b.replyError(chatID, err)
		return
	}
	if !owned {
		b.reply(chatID, Screen{
			Text:     "Buy the course to open its lessons.",
			Keyboard: BuildInlineKeyboard([][]InlineButton{{{Text: "🛒 Buy", Data: buyData(courseID)}}}),
		})
		return
	}

	lesson, err := b.lessons.GetLesson(ctx, courseID, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = service.ErrNotFound
		}
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, b.render.Lesson(lesson))
}

func (b *Bot) showManual(ctx context.Context, chatID int64, actor service.Actor, purchaseID int64, method string) {
	out, err := b.engine.Dispatch(ctx, actor, service.CheckStatus{PurchaseID: purchaseID})
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	p := out.Purchase
	if p.UserID != actor.UserID {
		b.replyError(chatID, service.ErrNotFound)
		return
	}
	if p.Status != models.StatusPending {
		b.reply(chatID, b.render.Outcome(out, false))
		return
	}
	b.reply(chatID, b.render.Manual(p, method))
}

func (b *Bot) askAssistant(ctx context.Context, chatID, userID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if b.asker == nil {
		b.reply(chatID, Screen{Text: "Use /start to open the menu."})
		return
	}

	if b.throttle != nil {
		n, wait, err := b.throttle.IncrementWindow(ctx, fmt.Sprintf("assistant:%d", userID), time.Minute)
		if err != nil {
			b.logger.Warn("Assistant throttle unavailable", zap.Error(err))
		} else if n > int64(b.cfg.AssistantPerMinute) {
			b.reply(chatID, Screen{Text: fmt.Sprintf("Too many questions. Try again in %d seconds.", int(wait.Seconds())+1)})
			return
		}
	}

	if _, err := b.sender.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Typing action failed", zap.Error(err))
	}

	ans, err := b.asker.Ask(ctx, userID, text)
	switch {
	case err == nil:
		b.reply(chatID, Screen{Text: fmt.Sprintf("%s\n\nQuestions left today: %d", ans.Text, ans.Remaining)})
	case errors.Is(err, assistant.ErrNoAccess):
		b.reply(chatID, Screen{
			Text:     "The AI assistant is available to buyers of any course.",
			Keyboard: BuildInlineKeyboard([][]InlineButton{backRow("📚 Course catalog", "catalog")}),
		})
	case errors.Is(err, assistant.ErrQuotaExceeded):
		b.reply(chatID, Screen{Text: fmt.Sprintf("You have used all %d questions for today. Come back tomorrow!", b.cfg.DailyLimit)})
	case errors.Is(err, assistant.ErrEmptyPrompt):
	case errors.Is(err, assistant.ErrUnavailable):
		b.reply(chatID, Screen{Text: "The assistant is unavailable right now. Please try again later."})
	default:
		b.logger.Error("Assistant failed", zap.Int64("user_id", userID), zap.Error(err))
		b.replyError(chatID, err)
	}
}

func (b *Bot) reply(chatID int64, s Screen) {
	msg := tgbotapi.NewMessage(chatID, s.Text)
	if s.Keyboard != nil {
		msg.ReplyMarkup = *s.Keyboard
	}
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) replyError(chatID int64, err error) {
	var amb *service.AmbiguousError
	var inv *service.InvalidStateError
	if !errors.Is(err, service.ErrNotFound) && !errors.Is(err, service.ErrPermissionDenied) &&
		!errors.As(err, &amb) && !errors.As(err, &inv) && !errors.Is(err, service.ErrInvalidState) {
		b.logger.Error("Request failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	b.reply(chatID, b.render.Error(err))
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.sender.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Debug("Failed to answer callback", zap.Error(err))
	}
}
