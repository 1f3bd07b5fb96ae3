package service

import (
	"context"

	"course-bot/internal/models"
)

// StatsReport is the admin dashboard
type StatsReport struct {
	Summary *models.SalesSummary
	Funnel  []models.FunnelRow
	Popular []models.CoursePopularity
}

// RegisterUser records a chat user on first contact
func (e *Engine) RegisterUser(ctx context.Context, actor Actor) error {
	return e.ledger.AddUser(ctx, actor.UserID, actor.Username)
}

// Courses lists courses on sale
func (e *Engine) Courses(ctx context.Context) ([]models.Course, error) {
	return e.ledger.ListCourses(ctx)
}

// Course returns one course and records the view
func (e *Engine) Course(ctx context.Context, actor Actor, courseID string) (*models.Course, error) {
	c, err := e.ledger.GetCourse(ctx, courseID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	e.recordEvent(ctx, actor.UserID, models.EventClickCourse, &c.ID, nil)
	return c, nil
}

// MyPurchases lists the caller's purchases, newest first
func (e *Engine) MyPurchases(ctx context.Context, actor Actor) ([]models.Purchase, error) {
	return e.ledger.ListPurchasesForUser(ctx, actor.UserID)
}

// Stats returns sales and funnel figures to the administrator
func (e *Engine) Stats(ctx context.Context, actor Actor) (*StatsReport, error) {
	if err := e.requireAdmin(actor, "stats", 0); err != nil {
		return nil, err
	}

	summary, err := e.ledger.SalesSummary(ctx)
	if err != nil {
		return nil, err
	}
	funnel, err := e.ledger.FunnelStats(ctx)
	if err != nil {
		return nil, err
	}
	popular, err := e.ledger.PopularCourses(ctx, 5)
	if err != nil {
		return nil, err
	}
	return &StatsReport{Summary: summary, Funnel: funnel, Popular: popular}, nil
}
