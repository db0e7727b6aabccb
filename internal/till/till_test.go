package till

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/store/memory"
)

func TestGrossFallsBackToMidnight(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("EAT", 3*60*60)
	repo := memory.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)

	for _, p := range []domain.TillPayment{
		{Outlet: "Baraka", Amount: decimal.NewFromInt(100), Status: domain.TillStatusSuccess, CreatedAt: day.Add(-time.Minute)},
		{Outlet: "Baraka", Amount: decimal.NewFromInt(250), Status: domain.TillStatusSuccess, CreatedAt: day.Add(9 * time.Hour)},
		{Outlet: "Baraka", Amount: decimal.NewFromInt(999), Status: "FAILED", CreatedAt: day.Add(10 * time.Hour)},
		{Outlet: "Other", Amount: decimal.NewFromInt(40), Status: domain.TillStatusSuccess, CreatedAt: day.Add(10 * time.Hour)},
	} {
		_, err := repo.AddTillPayment(ctx, p)
		require.NoError(t, err)
	}

	window, err := NewAggregator(repo, loc).Gross(ctx, "baraka", "2026-03-02")
	require.NoError(t, err)
	require.True(t, window.Gross.Equal(decimal.NewFromInt(250)), "gross=%s", window.Gross)
	require.Equal(t, 1, window.Count)
	require.True(t, window.Since.Equal(day))
}

func TestGrossStartsAtActivePeriod(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("EAT", 3*60*60)
	repo := memory.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	rotatedAt := day.Add(-2 * time.Hour)

	require.NoError(t, repo.SaveActivePeriod(ctx, domain.ActivePeriod{
		Outlet: "Baraka", TradingDate: "2026-03-02", Period: 1, PeriodStartAt: rotatedAt,
	}))
	_, err := repo.AddTillPayment(ctx, domain.TillPayment{Outlet: "Baraka", Amount: decimal.NewFromInt(70), Status: domain.TillStatusSuccess, CreatedAt: rotatedAt.Add(time.Hour)})
	require.NoError(t, err)
	_, err = repo.AddTillPayment(ctx, domain.TillPayment{Outlet: "Baraka", Amount: decimal.NewFromInt(30), Status: domain.TillStatusSuccess, CreatedAt: day.Add(time.Hour)})
	require.NoError(t, err)

	agg := NewAggregator(repo, loc)
	gross, err := agg.Gross(ctx, "Baraka", "2026-03-02")
	require.NoError(t, err)
	require.True(t, gross.Gross.Equal(decimal.NewFromInt(100)))

	today, err := agg.Today(ctx, "Baraka", "2026-03-02")
	require.NoError(t, err)
	require.True(t, today.Gross.Equal(decimal.NewFromInt(30)))
}

func TestRecordValidatesAndDefaultsStatus(t *testing.T) {
	agg := NewAggregator(memory.New(), nil)

	_, err := agg.Record(context.Background(), domain.TillPaymentRequest{Outlet: "Baraka", Amount: decimal.Zero})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	payment, err := agg.Record(context.Background(), domain.TillPaymentRequest{Outlet: "Baraka", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	require.Equal(t, domain.TillStatusSuccess, payment.Status)
}
