package access

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-bot/internal/models"
	"course-bot/internal/store"
	"course-bot/internal/store/memory"
)

func TestHasAccessTruthTable(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	gate := NewGate(ledger)
	rate := decimal.RequireFromString("0.15")

	completed, _ := ledger.CreatePurchase(ctx, 1, "course_1", 100)
	_, err := ledger.CompletePurchase(ctx, completed.ID, nil, rate)
	require.NoError(t, err)

	_, _ = ledger.CreatePurchase(ctx, 2, "course_1", 100)

	rejected, _ := ledger.CreatePurchase(ctx, 3, "course_1", 100)
	_, err = ledger.SetStatus(ctx, rejected.ID, store.StatusUpdate{From: models.StatusPending, To: models.StatusPendingAdmin})
	require.NoError(t, err)
	_, err = ledger.SetStatus(ctx, rejected.ID, store.StatusUpdate{From: models.StatusPendingAdmin, To: models.StatusRejected})
	require.NoError(t, err)

	cases := []struct {
		name   string
		user   int64
		course string
		want   bool
	}{
		{"completed", 1, "course_1", true},
		{"other course", 1, "course_2", false},
		{"pending", 2, "course_1", false},
		{"rejected", 3, "course_1", false},
		{"absent", 4, "course_1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := gate.HasAccess(ctx, tc.user, tc.course)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}

	has, err := gate.HasAnyAccess(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = gate.HasAnyAccess(ctx, 3)
	require.NoError(t, err)
	assert.False(t, has)
}

type failingReader struct{}

func (failingReader) HasCompletedAccess(context.Context, int64, string) (bool, error) {
	return true, errors.New("db down")
}

func (failingReader) HasAnyCompletedAccess(context.Context, int64) (bool, error) {
	return true, errors.New("db down")
}

func TestGateDeniesOnError(t *testing.T) {
	gate := NewGate(failingReader{})

	ok, err := gate.HasAccess(context.Background(), 1, "course_1")
	assert.Error(t, err)
	assert.False(t, ok)

	ok, err = gate.HasAnyAccess(context.Background(), 1)
	assert.Error(t, err)
	assert.False(t, ok)
}
