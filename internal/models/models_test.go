package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusPendingAdmin},
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusPendingAdmin, StatusCompleted},
		{StatusPendingAdmin, StatusRejected},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]Status{
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusCompleted},
		{StatusRejected, StatusCompleted},
		{StatusPending, StatusRejected},
		{StatusPendingAdmin, StatusCancelled},
		{StatusFailed, StatusCompleted},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusPendingAdmin.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusPending, StatusPendingAdmin}, SourcesFor(StatusCompleted))
	assert.Equal(t, []Status{StatusPendingAdmin}, SourcesFor(StatusRejected))
	assert.Empty(t, SourcesFor(StatusPending))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("pending_admin")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingAdmin, s)

	_, err = ParseStatus("refunded")
	assert.Error(t, err)
}

func TestDayKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2026, 3, 2, 2, 0, 0, 0, loc)
	assert.Equal(t, "2026-03-01", DayKey(ts))
}

func TestCommission(t *testing.T) {
	rate := decimal.RequireFromString("0.15")
	assert.True(t, decimal.NewFromInt(30).Equal(Commission(200, rate)))
	assert.Equal(t, "1.5", Commission(10, rate).String())
	assert.Equal(t, "0.15", Commission(1, rate).String())
}
