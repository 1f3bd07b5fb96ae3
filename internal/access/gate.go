package access

import (
	"context"
	"fmt"
)

// Reader is the ledger read path the gate depends on
type Reader interface {
	HasCompletedAccess(ctx context.Context, userID int64, courseID string) (bool, error)
	HasAnyCompletedAccess(ctx context.Context, userID int64) (bool, error)
}

// Gate answers whether a user may receive paid content
type Gate struct {
	reader Reader
}

func NewGate(reader Reader) *Gate {
	return &Gate{reader: reader}
}

// HasAccess is true iff the user has a completed purchase of the course
func (g *Gate) HasAccess(ctx context.Context, userID int64, courseID string) (bool, error) {
	ok, err := g.reader.HasCompletedAccess(ctx, userID, courseID)
	if err != nil {
		return false, fmt.Errorf("access check failed: %w", err)
	}
	return ok, nil
}

// HasAnyAccess is true iff the user has any completed purchase
func (g *Gate) HasAnyAccess(ctx context.Context, userID int64) (bool, error) {
	ok, err := g.reader.HasAnyCompletedAccess(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("access check failed: %w", err)
	}
	return ok, nil
}
