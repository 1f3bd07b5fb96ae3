package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"course-bot/internal/processor"
	"course-bot/internal/service"
	"course-bot/internal/util"
)

// Engine is the part of the reconciliation engine the HTTP surface drives
type Engine interface {
	CheckStatus(ctx context.Context, purchaseID int64) (*service.Outcome, error)
	ConfirmReturn(ctx context.Context, purchaseID int64) (*service.Outcome, error)
	ApplyProcessorResult(ctx context.Context, n processor.Notification, trigger string) (*service.Outcome, error)
}

// NotificationPublisher forwards webhook deliveries to the payment worker
type NotificationPublisher interface {
	PublishProcessorNotification(ctx context.Context, n *processor.Notification) error
}

// PaymentExecutor finalizes approved PayPal payments
type PaymentExecutor interface {
	ExecutePayment(ctx context.Context, txID, payerID string) processor.RemoteStatus
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Engine Engine
	// Publisher is optional; webhooks are applied in-process without it
	Publisher NotificationPublisher
	// PayPal is set only when PayPal is configured
	PayPal         PaymentExecutor
	Checks         map[string]Pinger
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handler contains HTTP handlers
type Handler struct {
	cfg    Config
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg Config) *Handler {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	return &Handler{cfg: cfg, logger: util.GetLogger()}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := router.Group("/")
	limited.Use(RateLimitMiddleware(h.cfg.RateLimitRPS, h.cfg.RateLimitBurst))
	{
		limited.POST("/webhook/paypal", h.paypalWebhook)
		limited.POST("/webhook/yookassa", h.yookassaWebhook)

		limited.GET("/paypal/return", h.paypalReturn)
		limited.GET("/paypal/cancel", h.paypalCancel)
		limited.GET("/yookassa/return", h.yookassaReturn)
	}

	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(h.cfg.RateLimitRPS, h.cfg.RateLimitBurst))
	{
		v1.GET("/purchases/:id", h.getPurchase)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.cfg.Checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getPurchase returns the stored state of a purchase
func (h *Handler) getPurchase(c *gin.Context) {
	purchaseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || purchaseID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid purchase ID",
		})
		return
	}

	out, err := h.cfg.Engine.CheckStatus(c.Request.Context(), purchaseID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Purchase not found",
			})
			return
		}
		h.logger.Error("Failed to load purchase", zap.Int64("purchase_id", purchaseID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load purchase",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchase": out.Purchase,
	})
}
