package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_created_total",
		Help: "Total number of purchases created",
	})

	PurchaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_transitions_total",
		Help: "Total number of applied purchase status transitions",
	}, []string{"to", "trigger"})

	PurchasesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_deleted_total",
		Help: "Total number of pending purchases withdrawn by their owner",
	})

	DuplicateCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_duplicate_completions_total",
		Help: "Completion triggers that found the purchase already completed",
	})

	CommissionCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "referral_commission_credited_total",
		Help: "Sum of referral commission credited",
	})

	ProcessorCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processor_call_latency_seconds",
		Help:    "Latency of payment processor API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor", "op"})

	ProcessorUnavailableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_unavailable_total",
		Help: "Processor calls that ended unavailable",
	}, []string{"processor", "op"})

	ProcessorNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_notifications_total",
		Help: "Webhook deliveries received from payment processors",
	}, []string{"processor", "outcome"})

	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Chat notifications that could not be delivered",
	}, []string{"kind"})

	AssistantRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_requests_total",
		Help: "AI assistant requests by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
