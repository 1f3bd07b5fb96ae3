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

// SaveReferrer links referredID to referrerID. The first link wins; it
// returns false when a link already exists or the user referred themselves.
func (s *Store) SaveReferrer(ctx context.Context, referredID, referrerID int64) (bool, error) {
	if referredID == referrerID {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO referrals (referred_id, referrer_id) VALUES ($1, $2) ON CONFLICT (referred_id) DO NOTHING`,
		referredID, referrerID)
	if err != nil {
		return false, fmt.Errorf("failed to save referral: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetReferral returns the referral row of a referred user
func (s *Store) GetReferral(ctx context.Context, referredID int64) (*models.Referral, error) {
	var r models.Referral
	query := `SELECT referrer_id, referred_id, commission, paid_out, paid, created_at FROM referrals WHERE referred_id = $1`

	if err := s.db.GetContext(ctx, &r, query, referredID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return &r, nil
}

// creditCommission adds the commission for a completed purchase to the
// buyer's referral row. Returns nil when the buyer was not referred.
func creditCommission(ctx context.Context, tx *sqlx.Tx, referredID, amount int64, rate decimal.Decimal) (*models.ReferralCredit, error) {
	var referrerID int64
	err := tx.GetContext(ctx, &referrerID, `SELECT referrer_id FROM referrals WHERE referred_id = $1 FOR UPDATE`, referredID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock referral: %w", err)
	}

	commission := models.Commission(amount, rate)
	if !commission.IsPositive() {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE referrals SET commission = commission + $1, paid = FALSE WHERE referred_id = $2`,
		commission, referredID)
	if err != nil {
		return nil, fmt.Errorf("failed to credit commission: %w", err)
	}

	return &models.ReferralCredit{
		ReferrerID: referrerID,
		ReferredID: referredID,
		Commission: commission,
	}, nil
}

// MarkCommissionPaid moves every unpaid commission of the referrer into
// paid_out and returns the total paid
func (s *Store) MarkCommissionPaid(ctx context.Context, referrerID int64) (decimal.Decimal, error) {
	total := decimal.Zero

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var pending []decimal.Decimal
		err := tx.SelectContext(ctx, &pending,
			`SELECT commission FROM referrals WHERE referrer_id = $1 AND commission > 0 FOR UPDATE`, referrerID)
		if err != nil {
			return fmt.Errorf("failed to lock referrals: %w", err)
		}
		for _, c := range pending {
			total = total.Add(c)
		}
		if len(pending) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE referrals SET paid_out = paid_out + commission, commission = 0, paid = TRUE WHERE referrer_id = $1 AND commission > 0`,
			referrerID)
		if err != nil {
			return fmt.Errorf("failed to mark commission paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// ReferralStats aggregates a referrer's referred users and commissions
func (s *Store) ReferralStats(ctx context.Context, referrerID int64) (*models.ReferralStats, error) {
	var st models.ReferralStats
	query := `SELECT COUNT(*) AS referred, COALESCE(SUM(commission), 0) AS unpaid, COALESCE(SUM(paid_out), 0) AS paid_out FROM referrals WHERE referrer_id = $1`

	if err := s.db.GetContext(ctx, &st, query, referrerID); err != nil {
		return nil, fmt.Errorf("failed to get referral stats: %w", err)
	}
	return &st, nil
}

// CreditReferralCommission credits the referrer of referredID with the
// commission on amount. Returns nil when the user has no referrer.
func (s *Store) CreditReferralCommission(ctx context.Context, referredID, amount int64, rate decimal.Decimal) (*models.ReferralCredit, error) {
	var credit *models.ReferralCredit
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		credit, err = creditCommission(ctx, tx, referredID, amount, rate)
		return err
	})
	return credit, err
}
