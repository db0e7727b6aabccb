package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
)

func TestListClosingsMergesPeriods(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertClosings(ctx, []domain.ClosingRecord{
		{Date: "2026-03-14", Outlet: "Baraka", Period: 2, ItemKey: "beef", ClosingQty: decimal.NewFromInt(3), WasteQty: decimal.NewFromInt(2)},
		{Date: "2026-03-14", Outlet: "Baraka", Period: 1, ItemKey: "Beef", ClosingQty: decimal.NewFromInt(8), WasteQty: decimal.NewFromInt(1)},
		{Date: "2026-03-14", Outlet: "Baraka", Period: 1, ItemKey: "goat", ClosingQty: decimal.NewFromInt(4)},
	}))

	merged, err := s.ListClosings(ctx, "baraka", "2026-03-14", store.AllPeriods)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, 2, merged[0].Period)
	assert.True(t, merged[0].ClosingQty.Equal(decimal.NewFromInt(3)))
	assert.True(t, merged[0].WasteQty.Equal(decimal.NewFromInt(3)))

	first, err := s.ListClosings(ctx, "Baraka", "2026-03-14", 1)
	require.NoError(t, err)
	assert.Len(t, first, 2)
}

func TestUpsertClosingsReplacesSameItemAndPeriod(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertClosings(ctx, []domain.ClosingRecord{
		{Date: "2026-03-14", Outlet: "Baraka", Period: 1, ItemKey: "Beef", ClosingQty: decimal.NewFromInt(8)},
	}))
	require.NoError(t, s.UpsertClosings(ctx, []domain.ClosingRecord{
		{Date: "2026-03-14", Outlet: "Baraka", Period: 1, ItemKey: " beef ", ClosingQty: decimal.NewFromInt(6)},
	}))

	rows, err := s.ListClosings(ctx, "Baraka", "2026-03-14", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ClosingQty.Equal(decimal.NewFromInt(6)))

	err = s.UpsertClosings(ctx, []domain.ClosingRecord{{Date: "2026-03-14", Outlet: "Baraka", Period: 0, ItemKey: "beef"}})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestAmbiguousCodesAreReported(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAttendant(domain.AttendantAccount{Code: "att1", Outlet: "Baraka", Role: domain.RoleAttendant, Active: true})
	s.PutAttendant(domain.AttendantAccount{Code: "ATT1", Outlet: "Kiambu", Role: domain.RoleAttendant, Active: true})
	s.PutAssistant(domain.AssistantAssignment{Code: "ast1", Outlet: "Baraka"})
	s.PutAssistant(domain.AssistantAssignment{Code: "Ast1", Outlet: "Kiambu"})

	_, err := s.GetAttendant(ctx, "att1")
	var ambiguous *store.AmbiguousCodeError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, 2, ambiguous.Matches)

	_, err = s.FindAssistantAssignment(ctx, " AST1 ")
	require.ErrorAs(t, err, &ambiguous)

	_, err = s.GetAttendant(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSumTillPaymentsWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)

	for _, p := range []domain.TillPayment{
		{Outlet: "Baraka", Amount: decimal.NewFromInt(100), Status: domain.TillStatusSuccess, CreatedAt: start.Add(-time.Minute)},
		{Outlet: "Baraka", Amount: decimal.NewFromInt(200), Status: domain.TillStatusSuccess, CreatedAt: start},
		{Outlet: "baraka", Amount: decimal.NewFromInt(300), Status: domain.TillStatusSuccess, CreatedAt: start.Add(time.Hour)},
		{Outlet: "Baraka", Amount: decimal.NewFromInt(400), Status: "FAILED", CreatedAt: start.Add(time.Hour)},
		{Outlet: "Kiambu", Amount: decimal.NewFromInt(500), Status: domain.TillStatusSuccess, CreatedAt: start.Add(time.Hour)},
	} {
		_, err := s.AddTillPayment(ctx, p)
		require.NoError(t, err)
	}

	total, count, err := s.SumTillPayments(ctx, "Baraka", start, time.Time{})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 2, count)

	total, count, err = s.SumTillPayments(ctx, "Baraka", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 1, count)
}

func TestCreateDepositRejectsRepeatedKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	dep := domain.Deposit{Date: "2026-03-14", Outlet: "Baraka", Period: 1, Amount: decimal.NewFromInt(50), Status: domain.DepositPending, IdempotencyKey: "k1"}

	created, err := s.CreateDeposit(ctx, dep)
	require.NoError(t, err)
	_, err = s.CreateDeposit(ctx, dep)
	assert.ErrorIs(t, err, store.ErrConflict)

	found, err := s.FindDepositByIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestNewSeededProvidesEveryRole(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	for _, code := range []string{"admin", "sup1", "att1", "ast1", "supply1"} {
		account, err := s.GetAttendant(ctx, code)
		require.NoError(t, err, code)
		assert.NotEqual(t, DefaultAdminPIN, account.PINHash)
		assert.NotEmpty(t, account.PINHash)
	}

	outlet, err := s.GetOutlet(ctx, "baraka")
	require.NoError(t, err)
	assert.Equal(t, "Baraka", outlet.Name)

	assignment, err := s.FindAssistantAssignment(ctx, "ast1")
	require.NoError(t, err)
	assert.True(t, assignment.Covers("Matumbo"))
}
