package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"course-bot/internal/models"
)

// IncrementDailyQuota atomically bumps the user's request counter for day and
// returns the new count
func (s *Store) IncrementDailyQuota(ctx context.Context, userID int64, day string) (int, error) {
	var q models.DailyQuota
	query := `INSERT INTO ai_requests (user_id, request_date, request_count) VALUES ($1, $2, 1) ` +
		`ON CONFLICT (user_id, request_date) DO UPDATE SET request_count = ai_requests.request_count + 1 ` +
		`RETURNING user_id, request_date, request_count`

	if err := s.db.GetContext(ctx, &q, query, userID, day); err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return q.Count, nil
}

// DailyQuota returns the user's request count for day
func (s *Store) DailyQuota(ctx context.Context, userID int64, day string) (int, error) {
	var q models.DailyQuota
	err := s.db.GetContext(ctx, &q,
		`SELECT user_id, request_date, request_count FROM ai_requests WHERE user_id = $1 AND request_date = $2`, userID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get quota: %w", err)
	}
	return q.Count, nil
}
