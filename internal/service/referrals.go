package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"course-bot/internal/models"
)

// SaveReferrer links a new user to the user whose invite link they opened.
// The first link is permanent.
func (e *Engine) SaveReferrer(ctx context.Context, referredID, referrerID int64) (bool, error) {
	stored, err := e.ledger.SaveReferrer(ctx, referredID, referrerID)
	if err != nil {
		return false, err
	}
	if stored {
		e.logger.Info("Referral saved", zap.Int64("referrer_id", referrerID), zap.Int64("referred_id", referredID))
		e.recordEvent(ctx, referredID, models.EventReferralJoin, nil, map[string]any{"referrer_id": referrerID})
	}
	return stored, nil
}

// ReferralInfo returns the caller's referral totals
func (e *Engine) ReferralInfo(ctx context.Context, actor Actor) (*models.ReferralStats, error) {
	return e.ledger.ReferralStats(ctx, actor.UserID)
}

// PayoutReferrer marks the referrer's accumulated commission as disbursed
func (e *Engine) PayoutReferrer(ctx context.Context, actor Actor, referrerID int64) (decimal.Decimal, error) {
	if err := e.requireAdmin(actor, "payout", 0); err != nil {
		return decimal.Zero, err
	}

	total, err := e.ledger.MarkCommissionPaid(ctx, referrerID)
	if err != nil {
		return decimal.Zero, err
	}
	e.logger.Info("Referral commission paid out",
		zap.Int64("referrer_id", referrerID),
		zap.String("total", total.String()),
	)
	return total, nil
}
