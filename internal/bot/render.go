package bot

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/service"
)

// ManualConfig holds the details shown for manual transfers
type ManualConfig struct {
	PayPalEmail    string
	WebMoneyWallet string
}

// Screen is one message with an optional inline keyboard
type Screen struct {
	Text     string
	Keyboard *tgbotapi.InlineKeyboardMarkup
}

var statusLabels = map[models.Status]string{
	models.StatusPending:      "awaiting payment",
	models.StatusPendingAdmin: "awaiting confirmation",
	models.StatusCompleted:    "completed",
	models.StatusRejected:     "rejected",
	models.StatusCancelled:    "cancelled",
	models.StatusFailed:       "failed",
}

// Renderer turns engine results into chat screens
type Renderer struct {
	mu         sync.RWMutex
	titles     map[string]string
	processors []processor.Name
	manual     ManualConfig
	currency   string
}

func NewRenderer(manual ManualConfig, currency string) *Renderer {
	if currency == "" {
		currency = "RUB"
	}
	return &Renderer{
		titles:   make(map[string]string),
		manual:   manual,
		currency: currency,
	}
}

// SetProcessors sets the processors offered as payment buttons
func (r *Renderer) SetProcessors(names []processor.Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append([]processor.Name(nil), names...)
}

// SetCourses refreshes the course titles used in messages
func (r *Renderer) SetCourses(courses []models.Course) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range courses {
		r.titles[c.ID] = c.Name
	}
}

func (r *Renderer) title(courseID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.titles[courseID]; ok {
		return t
	}
	return courseID
}

func (r *Renderer) price(amount int64) string {
	return fmt.Sprintf("%d %s", amount, r.currency)
}

func (r *Renderer) hasProcessor(name processor.Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.processors {
		if n == name {
			return true
		}
	}
	return false
}

func statusLabel(s models.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (r *Renderer) Menu() Screen {
	return Screen{
		Text: "Welcome! Learn freelancing, crypto investing and building SaaS products.\n\nChoose an option:",
		Keyboard: BuildInlineKeyboard([][]InlineButton{
			{{Text: "📚 Course catalog", Data: "catalog"}},
			{{Text: "💰 My purchases", Data: "mine"}},
			{{Text: "❓ Help", Data: "help"}},
		}),
	}
}

func (r *Renderer) Catalog(courses []models.Course) Screen {
	rows := make([][]InlineButton, 0, len(courses)+1)
	for _, c := range courses {
		rows = append(rows, []InlineButton{{
			Text: fmt.Sprintf("%s - %s", c.Name, r.price(c.Price)),
			Data: courseData(c.ID),
		}})
	}
	rows = append(rows, backRow("◀️ Back", "menu"))

	text := "Course catalog:"
	if len(courses) == 0 {
		text = "No courses are on sale right now."
	}
	return Screen{Text: text, Keyboard: BuildInlineKeyboard(rows)}
}

// Course shows the description, and the lesson list once the user owns it
func (r *Renderer) Course(c *models.Course, owned bool) Screen {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n\nPrice: %s", c.Name, c.Description, r.price(c.Price))

	var rows [][]InlineButton
	if owned {
		for _, l := range c.Lessons {
			rows = append(rows, []InlineButton{{
				Text: fmt.Sprintf("%d. %s", l.Number, l.Title),
				Data: lessonData(c.ID, l.Number),
			}})
		}
	} else {
		rows = append(rows, []InlineButton{{Text: "🛒 Buy", Data: buyData(c.ID)}})
	}
	rows = append(rows, backRow("◀️ Back to courses", "catalog"))
	return Screen{Text: b.String(), Keyboard: BuildInlineKeyboard(rows)}
}

func (r *Renderer) Lesson(l *models.Lesson) Screen {
	return Screen{
		Text:     fmt.Sprintf("Lesson %d: %s\n\n%s", l.Number, l.Title, l.Content),
		Keyboard: BuildInlineKeyboard([][]InlineButton{backRow("◀️ Back to course", courseData(l.CourseID))}),
	}
}

func (r *Renderer) MyPurchases(list []models.Purchase) Screen {
	var rows [][]InlineButton
	var b strings.Builder

	if len(list) == 0 {
		b.WriteString("You have not bought anything yet. Visit the catalog!")
	} else {
		b.WriteString("Your purchases:\n\n")
		for _, p := range list {
			fmt.Fprintf(&b, "#%d %s - %s\n", p.ID, r.title(p.CourseID), statusLabel(p.Status))
			switch p.Status {
			case models.StatusCompleted:
				rows = append(rows, []InlineButton{{Text: "📖 " + r.title(p.CourseID), Data: courseData(p.CourseID)}})
			case models.StatusPending:
				rows = append(rows, []InlineButton{{Text: fmt.Sprintf("❌ Cancel #%d", p.ID), Data: cancelData(p.ID)}})
			}
		}
	}

	rows = append(rows, backRow("❓ Refund policy", "refund"), backRow("◀️ Main menu", "menu"))
	return Screen{Text: b.String(), Keyboard: BuildInlineKeyboard(rows)}
}

// PaymentOptions lists the ways to pay for a fresh purchase
func (r *Renderer) PaymentOptions(p *models.Purchase) Screen {
	var rows [][]InlineButton
	if r.hasProcessor(processor.PayPal) {
		rows = append(rows, []InlineButton{{Text: "💳 PayPal", Data: payData(p.ID, processor.PayPal)}})
	} else if r.manual.PayPalEmail != "" {
		rows = append(rows, []InlineButton{{Text: "💳 PayPal transfer", Data: manualData(p.ID, MethodPayPal)}})
	}
	if r.hasProcessor(processor.YooKassa) {
		rows = append(rows, []InlineButton{{Text: "💳 Bank card (YooKassa)", Data: payData(p.ID, processor.YooKassa)}})
	}
	rows = append(rows,
		[]InlineButton{{Text: "💰 WebMoney", Data: manualData(p.ID, MethodWebMoney)}},
		[]InlineButton{{Text: "◀️ Cancel", Data: cancelData(p.ID)}},
	)

	return Screen{
		Text: fmt.Sprintf("Purchase #%d: %s\nAmount: %s\n\nChoose a payment method:",
			p.ID, r.title(p.CourseID), r.price(p.Amount)),
		Keyboard: BuildInlineKeyboard(rows),
	}
}

// Manual shows transfer details and the button that hands the claim to the admin
func (r *Renderer) Manual(p *models.Purchase, method string) Screen {
	var details string
	switch {
	case method == MethodPayPal && r.manual.PayPalEmail != "":
		details = "Send the payment via PayPal to: " + r.manual.PayPalEmail
	case method == MethodWebMoney && r.manual.WebMoneyWallet != "":
		details = "Send the payment to WebMoney wallet: " + r.manual.WebMoneyWallet
	default:
		details = "Payment details are provided by the administrator on request."
	}

	return Screen{
		Text: fmt.Sprintf("Purchase #%d: %s\nAmount: %s\n\n%s\nPut %d in the payment comment.\n\nPress the button below once you have paid.",
			p.ID, r.title(p.CourseID), r.price(p.Amount), details, p.ID),
		Keyboard: BuildInlineKeyboard([][]InlineButton{
			{{Text: "✅ I have paid", Data: claimData(p.ID, method)}},
			{{Text: "◀️ Cancel", Data: cancelData(p.ID)}},
		}),
	}
}

// manualMethodFor picks the manual fallback for an unavailable processor
func (r *Renderer) manualMethodFor(name processor.Name) string {
	if name == processor.PayPal && r.manual.PayPalEmail != "" {
		return MethodPayPal
	}
	return MethodWebMoney
}

// Outcome renders a command result for the user who issued it
func (r *Renderer) Outcome(out *service.Outcome, admin bool) Screen {
	p := out.Purchase
	switch out.Kind {
	case service.OutcomeCreated:
		return r.PaymentOptions(p)

	case service.OutcomeAlreadyOwned:
		return Screen{
			Text:     "You already own this course.",
			Keyboard: BuildInlineKeyboard([][]InlineButton{backRow("💰 My purchases", "mine")}),
		}

	case service.OutcomeSessionCreated:
		return Screen{
			Text: fmt.Sprintf("Purchase #%d: %s\nAmount: %s\n\nPay using the link below, then press \"Check payment\".",
				p.ID, r.title(p.CourseID), r.price(p.Amount)),
			Keyboard: BuildInlineKeyboard([][]InlineButton{
				{{Text: "💳 Pay", URL: out.SessionURL}},
				{{Text: "🔄 Check payment", Data: checkData(p.ID)}},
				{{Text: "◀️ Cancel", Data: cancelData(p.ID)}},
			}),
		}

	case service.OutcomeManualInstructions:
		return r.Manual(p, r.manualMethodFor(out.Processor))

	case service.OutcomeAwaitingAdmin:
		if out.Repeated {
			return Screen{Text: fmt.Sprintf("Purchase #%d is already waiting for confirmation.", p.ID)}
		}
		return Screen{Text: fmt.Sprintf("Thank you! Purchase #%d was sent to the administrator for confirmation. You will get a message once it is approved.", p.ID)}

	case service.OutcomeCancelled:
		return Screen{Text: fmt.Sprintf("Purchase #%d was cancelled.", p.ID)}

	case service.OutcomeNotCancellable:
		return Screen{Text: fmt.Sprintf("Purchase #%d is %s and can no longer be cancelled.", p.ID, statusLabel(p.Status))}

	case service.OutcomeCompleted:
		if admin {
			return Screen{Text: fmt.Sprintf("✅ Purchase #%d approved. The buyer has been notified.", p.ID)}
		}
		return Screen{
			Text:     fmt.Sprintf("✅ Payment received! %s is now available.", r.title(p.CourseID)),
			Keyboard: BuildInlineKeyboard([][]InlineButton{{{Text: "📖 Open course", Data: courseData(p.CourseID)}}}),
		}

	case service.OutcomeAlreadyCompleted:
		return Screen{Text: fmt.Sprintf("Purchase #%d is already completed.", p.ID)}

	case service.OutcomeRejected:
		if out.Repeated {
			return Screen{Text: fmt.Sprintf("Purchase #%d was already rejected.", p.ID)}
		}
		return Screen{Text: fmt.Sprintf("❌ Purchase #%d rejected. The buyer has been notified.", p.ID)}

	case service.OutcomeFailed:
		return Screen{
			Text:     fmt.Sprintf("The payment for purchase #%d did not go through.", p.ID),
			Keyboard: BuildInlineKeyboard([][]InlineButton{{{Text: "🔁 Try again", Data: buyData(p.CourseID)}}}),
		}

	case service.OutcomeStillPending:
		text := "The payment has not arrived yet. Please check again in a minute."
		if out.Processor == "" {
			text = "We could not reach the payment service. We will keep checking and message you once the payment arrives."
		}
		return Screen{
			Text:     text,
			Keyboard: BuildInlineKeyboard([][]InlineButton{{{Text: "🔄 Check payment", Data: checkData(p.ID)}}}),
		}

	case service.OutcomeStatus:
		return Screen{Text: fmt.Sprintf("Purchase #%d (%s): %s", p.ID, r.title(p.CourseID), statusLabel(p.Status))}
	}
	return Screen{Text: "Done."}
}

// Error converts an engine error into a user message
func (r *Renderer) Error(err error) Screen {
	var amb *service.AmbiguousError
	var inv *service.InvalidStateError

	switch {
	case errors.As(err, &amb):
		rows := make([][]InlineButton, 0, len(amb.Candidates))
		for _, p := range amb.Candidates {
			rows = append(rows, []InlineButton{{
				Text: fmt.Sprintf("❌ #%d %s", p.ID, r.title(p.CourseID)),
				Data: cancelData(p.ID),
			}})
		}
		return Screen{
			Text:     "You have several pending purchases. Choose the one to cancel:",
			Keyboard: BuildInlineKeyboard(rows),
		}
	case errors.As(err, &inv):
		return Screen{Text: fmt.Sprintf("Purchase #%d is already %s.", inv.PurchaseID, statusLabel(inv.Status))}
	case errors.Is(err, service.ErrNotFound):
		return Screen{Text: "Not found."}
	case errors.Is(err, service.ErrPermissionDenied):
		return Screen{Text: "⛔ Access denied."}
	case errors.Is(err, service.ErrInvalidState):
		return Screen{Text: "This action is not possible right now."}
	case errors.Is(err, ErrBadCallback):
		return Screen{Text: "This button is no longer valid."}
	default:
		return Screen{Text: "Something went wrong. Please try again later."}
	}
}

func (r *Renderer) Help() Screen {
	return Screen{
		Text: "How to buy a course:\n" +
			"1. Open the course catalog\n" +
			"2. Pick a course\n" +
			"3. Choose a payment method and follow the instructions\n\n" +
			"Commands:\n/catalog - courses\n/mycourse - your purchases\n/referral - invite friends\n/cancel - cancel a pending purchase\n\n" +
			"Buyers can ask the AI assistant any question by writing a message.",
		Keyboard: BuildInlineKeyboard([][]InlineButton{backRow("◀️ Main menu", "menu")}),
	}
}

func (r *Renderer) Refund() Screen {
	return Screen{
		Text: "Refund policy:\n\n" +
			"A purchase that has not been paid can be cancelled at any time from \"My purchases\".\n" +
			"For paid courses contact the administrator within 14 days of purchase.",
		Keyboard: BuildInlineKeyboard([][]InlineButton{backRow("◀️ My purchases", "mine")}),
	}
}

func (r *Renderer) Referral(stats *models.ReferralStats, link string, rate decimal.Decimal) Screen {
	percent := rate.Mul(decimal.NewFromInt(100)).StringFixed(0)
	return Screen{Text: fmt.Sprintf(
		"Referral program\n\nInvite friends and earn %s%% of every purchase they make.\n\nYour link:\n%s\n\nInvited: %d\nEarned, not paid yet: %s %s\nPaid out: %s %s",
		percent, link, stats.Referred,
		stats.Unpaid.StringFixed(2), r.currency,
		stats.PaidOut.StringFixed(2), r.currency,
	)}
}

func (r *Renderer) Stats(rep *service.StatsReport) Screen {
	var b strings.Builder
	s := rep.Summary
	fmt.Fprintf(&b, "Statistics\n\nUsers: %d\nCompleted sales: %d\nRevenue: %s\nAwaiting payment: %d\n",
		s.Users, s.Completed, r.price(s.Revenue), s.Pending)

	if len(rep.Funnel) > 0 {
		b.WriteString("\nFunnel:\n")
		for _, row := range rep.Funnel {
			fmt.Fprintf(&b, "%s: %d\n", row.EventType, row.Count)
		}
	}
	if len(rep.Popular) > 0 {
		b.WriteString("\nPopular courses:\n")
		for _, c := range rep.Popular {
			fmt.Fprintf(&b, "%s: %d views, %d sales\n", r.title(c.CourseID), c.Clicks, c.Purchases)
		}
	}
	return Screen{Text: b.String()}
}
