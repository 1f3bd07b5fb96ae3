package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"course-bot/internal/models"
)

// Notifier delivers purchase notifications through Telegram
type Notifier struct {
	sender    Sender
	render    *Renderer
	adminID   int64
	channelID int64
}

// NewNotifier creates a notifier. channelID 0 disables sale announcements.
func NewNotifier(sender Sender, render *Renderer, adminID, channelID int64) *Notifier {
	return &Notifier{sender: sender, render: render, adminID: adminID, channelID: channelID}
}

func (n *Notifier) send(chatID int64, s Screen) error {
	msg := tgbotapi.NewMessage(chatID, s.Text)
	if s.Keyboard != nil {
		msg.ReplyMarkup = *s.Keyboard
	}
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

func (n *Notifier) NotifyBuyerCompleted(_ context.Context, p *models.Purchase) error {
	return n.send(p.UserID, Screen{
		Text:     fmt.Sprintf("✅ Your payment for %s was confirmed. The course is now available!", n.render.title(p.CourseID)),
		Keyboard: BuildInlineKeyboard([][]InlineButton{{{Text: "📖 Open course", Data: courseData(p.CourseID)}}}),
	})
}

func (n *Notifier) NotifyBuyerRejected(_ context.Context, p *models.Purchase) error {
	return n.send(p.UserID, Screen{
		Text: fmt.Sprintf("❌ Your payment for %s (purchase #%d) was not confirmed. If you believe this is a mistake, contact support.",
			n.render.title(p.CourseID), p.ID),
	})
}

func (n *Notifier) NotifyAdminPendingReview(_ context.Context, p *models.Purchase) error {
	if n.adminID == 0 {
		return nil
	}
	return n.send(n.adminID, Screen{
		Text: fmt.Sprintf("🔔 New payment to review\n\nPurchase #%d\nUser: %d\nCourse: %s\nAmount: %s\nMethod: %s",
			p.ID, p.UserID, n.render.title(p.CourseID), n.render.price(p.Amount), p.PaymentMethod),
		Keyboard: BuildInlineKeyboard([][]InlineButton{{
			{Text: "✅ Approve", Data: approveData(p.ID)},
			{Text: "❌ Reject", Data: rejectData(p.ID)},
		}}),
	})
}

func (n *Notifier) NotifyChannelSale(_ context.Context, p *models.Purchase) error {
	if n.channelID == 0 {
		return nil
	}
	return n.send(n.channelID, Screen{
		Text: fmt.Sprintf("🎉 Someone just bought %s!", n.render.title(p.CourseID)),
	})
}

func (n *Notifier) NotifyReferrerCommission(_ context.Context, c *models.ReferralCredit) error {
	return n.send(c.ReferrerID, Screen{
		Text: fmt.Sprintf("💰 A friend you invited made a purchase. You earned %s %s.",
			c.Commission.StringFixed(2), n.render.currency),
	})
}
