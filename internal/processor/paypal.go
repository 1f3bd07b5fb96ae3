package processor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"course-bot/internal/util"
)

const (
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
	paypalLiveURL    = "https://api-m.paypal.com"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string
	// BaseURL overrides the API host derived from Mode
	BaseURL string
}

// PayPalAdapter talks to the PayPal REST v1 payments API
type PayPalAdapter struct {
	cfg       PayPalConfig
	baseURL   string
	returnURL string
	currency  string
	client    *httpClient

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
}

func NewPayPalAdapter(cfg PayPalConfig, returnBaseURL, currency string, timeout time.Duration) *PayPalAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = paypalSandboxURL
		if cfg.Mode == "live" {
			base = paypalLiveURL
		}
	}
	return &PayPalAdapter{
		cfg:       cfg,
		baseURL:   strings.TrimRight(base, "/"),
		returnURL: strings.TrimRight(returnBaseURL, "/"),
		currency:  currency,
		client:    newHTTPClient(PayPal, timeout),
	}
}

func (a *PayPalAdapter) Name() Name { return PayPal }

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalPayment struct {
	ID    string       `json:"id"`
	State string       `json:"state"`
	Links []paypalLink `json:"links"`
}

func (a *PayPalAdapter) cachedToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token != "" && time.Now().Before(a.tokenExpiry) {
		return a.token
	}
	return ""
}

// accessToken returns the cached OAuth token or joins the one refresh in
// flight. A caller whose ctx ends stops waiting; the refresh carries on.
func (a *PayPalAdapter) accessToken(ctx context.Context) (string, error) {
	if token := a.cachedToken(); token != "" {
		return token, nil
	}

	ch := a.refresh.DoChan("token", func() (any, error) {
		return a.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (a *PayPalAdapter) fetchToken(ctx context.Context) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := a.client.call(ctx, "token", func(ctx context.Context) (*http.Request, error) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("paypal returned empty access token")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = resp.AccessToken
	// refresh a minute early
	a.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return a.token, nil
}

func (a *PayPalAdapter) authorized(ctx context.Context, method, url string, payload, out any, op string) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	return a.client.call(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := jsonRequest(ctx, method, url, payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}, out)
}

// CreateRemoteSession creates a sale payment and returns its approval URL
func (a *PayPalAdapter) CreateRemoteSession(ctx context.Context, req SessionRequest) (*Session, error) {
	id := strconv.FormatInt(req.PurchaseID, 10)
	payload := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"transactions": []map[string]any{{
			"amount": map[string]string{
				"total":    decimal.NewFromInt(req.Amount).StringFixed(2),
				"currency": a.currency,
			},
			"description":    "Course: " + req.CourseID,
			"custom":         id,
			"invoice_number": fmt.Sprintf("INV-%d-%d", req.PurchaseID, time.Now().Unix()),
		}},
		"redirect_urls": map[string]string{
			"return_url": a.returnURL + "/paypal/return?payment_id=" + id,
			"cancel_url": a.returnURL + "/paypal/cancel?payment_id=" + id,
		},
	}

	var payment paypalPayment
	if err := a.authorized(ctx, http.MethodPost, a.baseURL+"/v1/payments/payment", payload, &payment, "create"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, l := range payment.Links {
		if l.Rel == "approval_url" {
			util.GetLogger().Info("PayPal payment created",
				zap.Int64("purchase_id", req.PurchaseID),
				zap.String("tx_id", payment.ID),
			)
			return &Session{URL: l.Href, TransactionID: payment.ID}, nil
		}
	}
	return nil, fmt.Errorf("%w: paypal response has no approval_url", ErrUnavailable)
}

// VerifyRemoteStatus looks up the payment state
func (a *PayPalAdapter) VerifyRemoteStatus(ctx context.Context, txID string) RemoteStatus {
	if txID == "" {
		return StatusUnavailable
	}

	var payment paypalPayment
	if err := a.authorized(ctx, http.MethodGet, a.baseURL+"/v1/payments/payment/"+url.PathEscape(txID), nil, &payment, "verify"); err != nil {
		return StatusUnavailable
	}
	return paypalState(payment.State)
}

// ExecutePayment finalizes an approved payment after the buyer returns from PayPal
func (a *PayPalAdapter) ExecutePayment(ctx context.Context, txID, payerID string) RemoteStatus {
	if txID == "" || payerID == "" {
		return StatusUnavailable
	}

	var payment paypalPayment
	path := a.baseURL + "/v1/payments/payment/" + url.PathEscape(txID) + "/execute"
	if err := a.authorized(ctx, http.MethodPost, path, map[string]string{"payer_id": payerID}, &payment, "execute"); err != nil {
		return StatusUnavailable
	}
	return paypalState(payment.State)
}

func paypalState(state string) RemoteStatus {
	switch strings.ToLower(state) {
	case "approved", "completed":
		return StatusPaid
	case "failed", "canceled", "cancelled", "expired":
		return StatusFailed
	default:
		return StatusNotPaid
	}
}

// VerifyPayPalWebhook checks that the PayPal transmission headers are present.
// It does not validate the signature.
func VerifyPayPalWebhook(h http.Header) bool {
	return h.Get("Paypal-Transmission-Id") != "" &&
		h.Get("Paypal-Transmission-Time") != "" &&
		h.Get("Paypal-Transmission-Sig") != ""
}
