package processor

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"course-bot/internal/util"
)

// Capabilities lists the processors configured for this deployment. A nil
// entry means the processor is not available.
type Capabilities struct {
	PayPal        *PayPalConfig
	YooKassa      *YooKassaConfig
	ReturnBaseURL string
	Currency      string
	Timeout       time.Duration
}

// Registry is the set of available adapters. An empty registry is valid and
// means purchases are settled by manual transfer only.
type Registry struct {
	adapters map[Name]Adapter
	paypal   *PayPalAdapter
}

// NewRegistry builds adapters for every configured processor
func NewRegistry(caps Capabilities) *Registry {
	r := &Registry{adapters: make(map[Name]Adapter)}
	currency := caps.Currency
	if currency == "" {
		currency = "RUB"
	}

	if caps.PayPal != nil && caps.PayPal.ClientID != "" && caps.PayPal.ClientSecret != "" {
		r.paypal = NewPayPalAdapter(*caps.PayPal, caps.ReturnBaseURL, currency, caps.Timeout)
		r.adapters[PayPal] = r.paypal
	}
	if caps.YooKassa != nil && caps.YooKassa.ShopID != "" && caps.YooKassa.SecretKey != "" {
		r.adapters[YooKassa] = NewYooKassaAdapter(*caps.YooKassa, caps.ReturnBaseURL, caps.Timeout)
	}

	names := r.Names()
	if len(names) == 0 {
		util.GetLogger().Warn("No payment processors configured, manual transfer only")
	} else {
		util.GetLogger().Info("Payment processors available", zap.Any("processors", names))
	}
	return r
}

// NewStaticRegistry wraps prebuilt adapters
func NewStaticRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Name]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
		if pp, ok := a.(*PayPalAdapter); ok {
			r.paypal = pp
		}
	}
	return r
}

// Get returns the adapter for name, if configured
func (r *Registry) Get(name Name) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[name]
	return a, ok
}

// PayPal returns the PayPal adapter for redirect handling, if configured
func (r *Registry) PayPal() (*PayPalAdapter, bool) {
	if r == nil || r.paypal == nil {
		return nil, false
	}
	return r.paypal, true
}

// Names lists available processors in a stable order
func (r *Registry) Names() []Name {
	if r == nil {
		return nil
	}
	names := make([]Name, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.adapters)
}
