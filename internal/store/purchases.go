package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"course-bot/internal/models"
)

const purchaseColumns = "id, user_id, course_id, amount, status, payment_method, transaction_id, created_at, updated_at"

// StatusUpdate describes a conditional status change. The update applies only
// while the row is still in From.
type StatusUpdate struct {
	From   models.Status
	To     models.Status
	TxID   *string
	Method string
}

// CreatePurchase inserts a new pending purchase
func (s *Store) CreatePurchase(ctx context.Context, userID int64, courseID string, amount int64) (*models.Purchase, error) {
	var p models.Purchase
	query := `INSERT INTO purchases (user_id, course_id, amount, status) VALUES ($1, $2, $3, $4) RETURNING ` + purchaseColumns

	if err := s.db.GetContext(ctx, &p, query, userID, courseID, amount, models.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}
	return &p, nil
}

// GetPurchase retrieves a purchase by id
func (s *Store) GetPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	var p models.Purchase
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`

	if err := s.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return &p, nil
}

// ListPurchasesForUser returns all purchases of a user, newest first
func (s *Store) ListPurchasesForUser(ctx context.Context, userID int64) ([]models.Purchase, error) {
	var list []models.Purchase
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	if err := s.db.SelectContext(ctx, &list, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return list, nil
}

// ListPendingForUser returns the user's purchases still in pending, oldest first
func (s *Store) ListPendingForUser(ctx context.Context, userID int64) ([]models.Purchase, error) {
	var list []models.Purchase
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 AND status = $2 ORDER BY created_at ASC, id ASC`

	if err := s.db.SelectContext(ctx, &list, query, userID, models.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to list pending purchases: %w", err)
	}
	return list, nil
}

// ListAwaitingProcessor returns pending purchases that carry a processor
// transaction id and so can be verified against the processor
func (s *Store) ListAwaitingProcessor(ctx context.Context, limit int) ([]models.Purchase, error) {
	var list []models.Purchase
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE status = $1 AND transaction_id IS NOT NULL ORDER BY updated_at ASC LIMIT $2`

	if err := s.db.SelectContext(ctx, &list, query, models.StatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to list awaiting purchases: %w", err)
	}
	return list, nil
}

// SetStatus applies a compare-and-set status change. It returns
// ErrStatusConflict when the purchase exists but is not in upd.From.
func (s *Store) SetStatus(ctx context.Context, id int64, upd StatusUpdate) (*models.Purchase, error) {
	var p models.Purchase
	query := `UPDATE purchases SET status = $1, transaction_id = COALESCE($2, transaction_id), ` +
		`payment_method = COALESCE(NULLIF($3, ''), payment_method), updated_at = NOW() ` +
		`WHERE id = $4 AND status = $5 RETURNING ` + purchaseColumns

	err := s.db.GetContext(ctx, &p, query, upd.To, upd.TxID, upd.Method, id, upd.From)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update purchase status: %w", err)
	}

	if _, err := s.GetPurchase(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}

// AttachTransaction records the processor transaction id on a pending purchase
func (s *Store) AttachTransaction(ctx context.Context, id int64, method, txID string) error {
	query := `UPDATE purchases SET payment_method = $1, transaction_id = $2, updated_at = NOW() WHERE id = $3 AND status = $4`

	res, err := s.db.ExecContext(ctx, query, method, txID, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to attach transaction: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

// DeletePendingPurchase removes a purchase that is still pending
func (s *Store) DeletePendingPurchase(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM purchases WHERE id = $1 AND status = $2`, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to delete purchase: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *Store) checkAffected(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetPurchase(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// CompletePurchase moves a purchase to completed and credits the referrer in
// the same transaction. Completing an already completed purchase is a no-op
// reported through AlreadyCompleted.
func (s *Store) CompletePurchase(ctx context.Context, id int64, txID *string, rate decimal.Decimal) (*models.Completion, error) {
	var result models.Completion

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var p models.Purchase
		query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &p, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock purchase: %w", err)
		}

		if p.Status == models.StatusCompleted {
			result.Purchase = &p
			result.AlreadyCompleted = true
			return nil
		}
		if !models.CanTransition(p.Status, models.StatusCompleted) {
			return fmt.Errorf("%w: purchase %d is %s", ErrStatusConflict, id, p.Status)
		}

		update := `UPDATE purchases SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = NOW() WHERE id = $3 RETURNING ` + purchaseColumns
		var done models.Purchase
		if err := tx.GetContext(ctx, &done, update, models.StatusCompleted, txID, id); err != nil {
			return fmt.Errorf("failed to complete purchase: %w", err)
		}
		result.Purchase = &done

		credit, err := creditCommission(ctx, tx, done.UserID, done.Amount, rate)
		if err != nil {
			return err
		}
		result.Credit = credit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// HasCompletedAccess reports whether the user completed a purchase of the course
func (s *Store) HasCompletedAccess(ctx context.Context, userID int64, courseID string) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM purchases WHERE user_id = $1 AND course_id = $2 AND status = $3)`
	if err := s.db.GetContext(ctx, &ok, query, userID, courseID, models.StatusCompleted); err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return ok, nil
}

// HasAnyCompletedAccess reports whether the user completed any purchase
func (s *Store) HasAnyCompletedAccess(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM purchases WHERE user_id = $1 AND status = $2)`
	if err := s.db.GetContext(ctx, &ok, query, userID, models.StatusCompleted); err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return ok, nil
}
