package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"course-bot/internal/models"
	"course-bot/internal/util"
)

var (
	ErrNoAccess      = errors.New("assistant is available to course owners only")
	ErrQuotaExceeded = errors.New("daily assistant quota exceeded")
	ErrEmptyPrompt   = errors.New("empty prompt")
	ErrUnavailable   = errors.New("assistant model unavailable")
)

// AccessChecker is satisfied by access.Gate
type AccessChecker interface {
	HasAnyAccess(ctx context.Context, userID int64) (bool, error)
}

// QuotaStore counts requests per user per day
type QuotaStore interface {
	IncrementDailyQuota(ctx context.Context, userID int64, day string) (int, error)
	DailyQuota(ctx context.Context, userID int64, day string) (int, error)
}

// Generator produces an answer for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EventRecorder logs analytics events
type EventRecorder interface {
	RecordEvent(ctx context.Context, userID int64, eventType string, courseID *string, metadata map[string]any) error
}

type Answer struct {
	Text      string
	Cached    bool
	Remaining int
}

// Assistant answers buyers' free-text questions within a daily quota
type Assistant struct {
	access AccessChecker
	quota  QuotaStore
	cache  Cache
	gen    Generator
	events EventRecorder
	limit  int
	now    func() time.Time
	logger *zap.Logger
}

func New(access AccessChecker, quota QuotaStore, cache Cache, gen Generator, events EventRecorder, dailyLimit int) *Assistant {
	if dailyLimit <= 0 {
		dailyLimit = 10
	}
	return &Assistant{
		access: access,
		quota:  quota,
		cache:  cache,
		gen:    gen,
		events: events,
		limit:  dailyLimit,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Ask answers prompt for userID. Cached answers do not count against the quota.
func (a *Assistant) Ask(ctx context.Context, userID int64, prompt string) (*Answer, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	ok, err := a.access.HasAnyAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		util.AssistantRequestsTotal.WithLabelValues("no_access").Inc()
		return nil, ErrNoAccess
	}

	day := models.DayKey(a.now())
	used, err := a.quota.DailyQuota(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if used >= a.limit {
		util.AssistantRequestsTotal.WithLabelValues("quota").Inc()
		return nil, ErrQuotaExceeded
	}

	if text, ok := a.cache.Get(prompt); ok {
		util.AssistantRequestsTotal.WithLabelValues("cached").Inc()
		return &Answer{Text: text, Cached: true, Remaining: a.limit - used}, nil
	}

	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		util.AssistantRequestsTotal.WithLabelValues("error").Inc()
		a.logger.Warn("Assistant generation failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	a.cache.Add(prompt, text)
	count, err := a.quota.IncrementDailyQuota(ctx, userID, day)
	if err != nil {
		return nil, err
	}

	if a.events != nil {
		if err := a.events.RecordEvent(ctx, userID, models.EventAssistantQuestion, nil, nil); err != nil {
			a.logger.Warn("Failed to record event", zap.Error(err))
		}
	}

	util.AssistantRequestsTotal.WithLabelValues("answered").Inc()
	remaining := a.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &Answer{Text: text, Remaining: remaining}, nil
}
