package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"course-bot/internal/models"
)

// SeedCatalog inserts the given courses when the catalog is empty. It
// reports whether anything was written.
func (s *Store) SeedCatalog(ctx context.Context, courses []models.Course) (bool, error) {
	seeded := false

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM courses`); err != nil {
			return fmt.Errorf("failed to count courses: %w", err)
		}
		if n > 0 {
			return nil
		}

		for _, c := range courses {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO courses (id, name, price, description, active) VALUES ($1, $2, $3, $4, $5)`,
				c.ID, c.Name, c.Price, c.Description, c.Active)
			if err != nil {
				return fmt.Errorf("failed to insert course %s: %w", c.ID, err)
			}
			for _, l := range c.Lessons {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO lessons (course_id, lesson_number, title, content) VALUES ($1, $2, $3, $4)`,
					c.ID, l.Number, l.Title, l.Content)
				if err != nil {
					return fmt.Errorf("failed to insert lesson %s/%d: %w", c.ID, l.Number, err)
				}
			}
		}
		seeded = true
		return nil
	})
	return seeded, err
}

// ListCourses returns active courses
func (s *Store) ListCourses(ctx context.Context) ([]models.Course, error) {
	var list []models.Course
	query := `SELECT id, name, price, description, active, created_at FROM courses WHERE active = TRUE ORDER BY price, id`
	if err := s.db.SelectContext(ctx, &list, query); err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return list, nil
}

// GetCourse returns one course with its lessons
func (s *Store) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	var c models.Course
	query := `SELECT id, name, price, description, active, created_at FROM courses WHERE id = $1`
	if err := s.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	query = `SELECT course_id, lesson_number, title, content FROM lessons WHERE course_id = $1 ORDER BY lesson_number`
	if err := s.db.SelectContext(ctx, &c.Lessons, query, id); err != nil {
		return nil, fmt.Errorf("failed to get lessons: %w", err)
	}
	return &c, nil
}

// ListLessons returns the lessons of a course in order
func (s *Store) ListLessons(ctx context.Context, courseID string) ([]models.Lesson, error) {
	var list []models.Lesson
	query := `SELECT course_id, lesson_number, title, content FROM lessons WHERE course_id = $1 ORDER BY lesson_number`
	if err := s.db.SelectContext(ctx, &list, query, courseID); err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	return list, nil
}

// GetLesson returns one lesson of a course
func (s *Store) GetLesson(ctx context.Context, courseID string, number int) (*models.Lesson, error) {
	var l models.Lesson
	query := `SELECT course_id, lesson_number, title, content FROM lessons WHERE course_id = $1 AND lesson_number = $2`
	if err := s.db.GetContext(ctx, &l, query, courseID, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return &l, nil
}
