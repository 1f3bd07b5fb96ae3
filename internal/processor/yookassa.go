package processor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"course-bot/internal/util"
)

const yookassaURL = "https://api.yookassa.ru/v3"

type YooKassaConfig struct {
	ShopID    string
	SecretKey string
	// BaseURL overrides the public API host
	BaseURL string
}

// YooKassaAdapter talks to the YooKassa v3 payments API
type YooKassaAdapter struct {
	cfg       YooKassaConfig
	baseURL   string
	returnURL string
	client    *httpClient
}

func NewYooKassaAdapter(cfg YooKassaConfig, returnBaseURL string, timeout time.Duration) *YooKassaAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = yookassaURL
	}
	return &YooKassaAdapter{
		cfg:       cfg,
		baseURL:   strings.TrimRight(base, "/"),
		returnURL: strings.TrimRight(returnBaseURL, "/"),
		client:    newHTTPClient(YooKassa, timeout),
	}
}

func (a *YooKassaAdapter) Name() Name { return YooKassa }

type yookassaPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	Metadata map[string]string `json:"metadata"`
}

func (a *YooKassaAdapter) request(ctx context.Context, method, url string, payload any, idempotenceKey string) (*http.Request, error) {
	req, err := jsonRequest(ctx, method, url, payload)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.cfg.ShopID, a.cfg.SecretKey)
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}
	return req, nil
}

// CreateRemoteSession creates a redirect-confirmed payment with automatic capture
func (a *YooKassaAdapter) CreateRemoteSession(ctx context.Context, req SessionRequest) (*Session, error) {
	id := strconv.FormatInt(req.PurchaseID, 10)
	payload := map[string]any{
		"amount": map[string]string{
			"value":    decimal.NewFromInt(req.Amount).StringFixed(2),
			"currency": "RUB",
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": a.returnURL + "/yookassa/return?payment_id=" + id,
		},
		"capture":     true,
		"description": "Оплата курса " + req.CourseID,
		"metadata": map[string]string{
			"payment_id": id,
			"course_id":  req.CourseID,
		},
	}
	key := uuid.NewString()

	var payment yookassaPayment
	err := a.client.call(ctx, "create", func(ctx context.Context) (*http.Request, error) {
		return a.request(ctx, http.MethodPost, a.baseURL+"/payments", payload, key)
	}, &payment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if payment.Confirmation.ConfirmationURL == "" {
		return nil, fmt.Errorf("%w: yookassa response has no confirmation_url", ErrUnavailable)
	}

	util.GetLogger().Info("YooKassa payment created",
		zap.Int64("purchase_id", req.PurchaseID),
		zap.String("tx_id", payment.ID),
	)
	return &Session{URL: payment.Confirmation.ConfirmationURL, TransactionID: payment.ID}, nil
}

// VerifyRemoteStatus looks up the payment status
func (a *YooKassaAdapter) VerifyRemoteStatus(ctx context.Context, txID string) RemoteStatus {
	if txID == "" {
		return StatusUnavailable
	}

	var payment yookassaPayment
	err := a.client.call(ctx, "verify", func(ctx context.Context) (*http.Request, error) {
		return a.request(ctx, http.MethodGet, a.baseURL+"/payments/"+url.PathEscape(txID), nil, "")
	}, &payment)
	if err != nil {
		return StatusUnavailable
	}

	switch strings.ToLower(payment.Status) {
	case "succeeded":
		return StatusPaid
	case "canceled":
		return StatusFailed
	default:
		return StatusNotPaid
	}
}
