package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-bot/internal/models"
	"course-bot/internal/processor"
	"course-bot/internal/service"
)

const maxWebhookBody = 1 << 20

type paypalReturnQuery struct {
	PurchaseID int64  `form:"payment_id" validate:"required,gt=0"`
	PaymentID  string `form:"paymentId" validate:"required"`
	PayerID    string `form:"PayerID" validate:"required"`
}

type returnQuery struct {
	PurchaseID int64 `form:"payment_id" validate:"required,gt=0"`
}

func (h *Handler) paypalWebhook(c *gin.Context) {
	if !processor.VerifyPayPalWebhook(c.Request.Header) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing transmission headers",
		})
		return
	}
	h.handleWebhook(c, processor.ParsePayPalWebhook)
}

func (h *Handler) yookassaWebhook(c *gin.Context) {
	h.handleWebhook(c, processor.ParseYooKassaWebhook)
}

// handleWebhook decodes a delivery and either queues it for the payment
// worker or applies it in-process. Deliveries that can never apply are
// acknowledged so the processor stops retrying them.
func (h *Handler) handleWebhook(c *gin.Context, parse func([]byte) (*processor.Notification, error)) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	n, err := parse(body)
	if err != nil {
		if errors.Is(err, processor.ErrIgnoredEvent) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		h.logger.Warn("Rejected webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid webhook",
			"details": err.Error(),
		})
		return
	}

	logger := h.logger.With(
		zap.String("processor", string(n.Processor)),
		zap.Int64("purchase_id", n.PurchaseID),
		zap.String("outcome", n.Outcome),
	)

	if h.cfg.Publisher != nil {
		if err := h.cfg.Publisher.PublishProcessorNotification(c.Request.Context(), n); err != nil {
			logger.Error("Failed to queue webhook", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try again later"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	out, err := h.cfg.Engine.ApplyProcessorResult(c.Request.Context(), *n, service.TriggerWebhook)
	switch {
	case err == nil:
		logger.Info("Applied webhook", zap.String("result", out.Kind.String()))
		c.JSON(http.StatusOK, gin.H{"status": out.Kind.String()})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidState):
		logger.Warn("Dropped webhook", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	default:
		logger.Error("Failed to apply webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply"})
	}
}

// paypalReturn executes the approved payment and applies the result
func (h *Handler) paypalReturn(c *gin.Context) {
	var q paypalReturnQuery
	if !bindQuery(c, &q) {
		return
	}
	if h.cfg.PayPal == nil {
		c.String(http.StatusNotFound, "PayPal payments are not enabled.")
		return
	}

	ctx := c.Request.Context()
	current, err := h.cfg.Engine.CheckStatus(ctx, q.PurchaseID)
	if err != nil {
		h.renderReturn(c, q.PurchaseID, nil, err)
		return
	}
	if current.Purchase.TxID() != q.PaymentID {
		h.logger.Warn("PayPal return does not match purchase",
			zap.Int64("purchase_id", q.PurchaseID),
			zap.String("payment_id", q.PaymentID),
		)
		c.String(http.StatusNotFound, "Unknown payment.")
		return
	}

	var outcome string
	switch h.cfg.PayPal.ExecutePayment(ctx, q.PaymentID, q.PayerID) {
	case processor.StatusPaid:
		outcome = models.ProcessorOutcomePaid
	case processor.StatusFailed:
		outcome = models.ProcessorOutcomeFailed
	default:
		c.String(http.StatusOK, "We are confirming your payment. The bot will message you once it is done.")
		return
	}

	n := processor.Notification{
		Processor:  processor.PayPal,
		PurchaseID: q.PurchaseID,
		TxID:       q.PaymentID,
		Outcome:    outcome,
	}
	out, err := h.cfg.Engine.ApplyProcessorResult(ctx, n, service.TriggerReturnURL)
	h.renderReturn(c, q.PurchaseID, out, err)
}

func (h *Handler) paypalCancel(c *gin.Context) {
	var q returnQuery
	if !bindQuery(c, &q) {
		return
	}
	c.String(http.StatusOK, "Payment was cancelled. You can choose another payment method in the bot.")
}

// yookassaReturn asks YooKassa for the payment status
func (h *Handler) yookassaReturn(c *gin.Context) {
	var q returnQuery
	if !bindQuery(c, &q) {
		return
	}
	out, err := h.cfg.Engine.ConfirmReturn(c.Request.Context(), q.PurchaseID)
	h.renderReturn(c, q.PurchaseID, out, err)
}

func (h *Handler) renderReturn(c *gin.Context, purchaseID int64, out *service.Outcome, err error) {
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrInvalidState) {
			c.String(http.StatusNotFound, "Unknown payment.")
			return
		}
		h.logger.Error("Failed to confirm return", zap.Int64("purchase_id", purchaseID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Something went wrong. Use the bot to check your payment.")
		return
	}

	switch {
	case out.Kind == service.OutcomeCompleted, out.Kind == service.OutcomeAlreadyCompleted,
		out.Purchase != nil && out.Purchase.Status == models.StatusCompleted:
		c.String(http.StatusOK, "Payment received. Return to the bot to open your course.")
	case out.Kind == service.OutcomeFailed:
		c.String(http.StatusOK, "The payment did not go through. You can try again in the bot.")
	default:
		c.String(http.StatusOK, "We are confirming your payment. The bot will message you once it is done.")
	}
}
