package store

import (
	"context"
	"encoding/json"
	"fmt"

	"course-bot/internal/models"
)

// RecordEvent appends an analytics event
func (s *Store) RecordEvent(ctx context.Context, userID int64, eventType string, courseID *string, metadata map[string]any) error {
	var meta *string
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		m := string(raw)
		meta = &m
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (user_id, event_type, course_id, metadata) VALUES ($1, $2, $3, $4)`,
		userID, eventType, courseID, meta)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// FunnelStats counts events per type
func (s *Store) FunnelStats(ctx context.Context) ([]models.FunnelRow, error) {
	var rows []models.FunnelRow
	query := `SELECT event_type, COUNT(*) AS cnt FROM events GROUP BY event_type ORDER BY cnt DESC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get funnel stats: %w", err)
	}
	return rows, nil
}

// PopularCourses ranks courses by clicks and completed purchases
func (s *Store) PopularCourses(ctx context.Context, limit int) ([]models.CoursePopularity, error) {
	var rows []models.CoursePopularity
	query := `SELECT c.id AS course_id, ` +
		`(SELECT COUNT(*) FROM events e WHERE e.course_id = c.id AND e.event_type = $1) AS clicks, ` +
		`(SELECT COUNT(*) FROM purchases p WHERE p.course_id = c.id AND p.status = $2) AS purchases ` +
		`FROM courses c ORDER BY purchases DESC, clicks DESC, c.id LIMIT $3`

	if err := s.db.SelectContext(ctx, &rows, query, models.EventClickCourse, models.StatusCompleted, limit); err != nil {
		return nil, fmt.Errorf("failed to get popular courses: %w", err)
	}
	return rows, nil
}

// SalesSummary totals users, sales and revenue
func (s *Store) SalesSummary(ctx context.Context) (*models.SalesSummary, error) {
	var sum models.SalesSummary
	query := `SELECT (SELECT COUNT(*) FROM users) AS users, ` +
		`COUNT(*) FILTER (WHERE status = $1) AS completed, ` +
		`COALESCE(SUM(amount) FILTER (WHERE status = $1), 0) AS revenue, ` +
		`COUNT(*) FILTER (WHERE status IN ($2, $3)) AS pending ` +
		`FROM purchases`

	if err := s.db.GetContext(ctx, &sum, query, models.StatusCompleted, models.StatusPending, models.StatusPendingAdmin); err != nil {
		return nil, fmt.Errorf("failed to get sales summary: %w", err)
	}
	return &sum, nil
}

// IsEventProcessed checks if a broker event was already handled
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`
	if err := s.db.GetContext(ctx, &exists, query, eventID); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkEventProcessed records a handled broker event
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	query := `INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, eventID, eventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}
