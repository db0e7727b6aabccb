package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/period"
	"outletcash/backend/internal/snapshot"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/store/memory"
	"outletcash/backend/internal/till"
)

const (
	day     = "2026-03-02"
	prevDay = "2026-03-01"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type env struct {
	repo      *memory.Store
	snapshots *snapshot.MemoryStore
	ctrl      *period.Controller
	calc      *Calculator
}

func newEnv(t *testing.T, scoped ...string) *env {
	t.Helper()
	repo := memory.New()
	repo.PutOutlet(domain.Outlet{Name: "Baraka"})
	repo.PutCatalog(domain.ProductCatalogEntry{Key: "Beef", SellPrice: dec("100"), Active: true})
	snapshots := snapshot.NewMemoryStore()
	ctrl := period.NewController(repo, snapshots, period.Options{
		Location: time.UTC,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) },
	})
	calc := NewCalculator(repo, till.NewAggregator(repo, time.UTC), ctrl, snapshots, domain.NewScopedOutlets(scoped))
	return &env{repo: repo, snapshots: snapshots, ctrl: ctrl, calc: calc}
}

func (e *env) metrics(t *testing.T, view string) domain.MetricsTotals {
	t.Helper()
	resp, err := e.calc.Metrics(context.Background(), domain.MetricsQuery{Outlet: "Baraka", Date: day, View: view})
	require.NoError(t, err)
	require.True(t, resp.OK)
	return resp.Totals
}

func TestSurplusCarryoverIsReportedAsExcess(t *testing.T) {
	e := newEnv(t)
	_, err := e.repo.CreateDeposit(context.Background(), domain.Deposit{
		Date: prevDay, Outlet: "Baraka", Period: 1, Amount: dec("250"), Status: domain.DepositPending, IdempotencyKey: "k",
	})
	require.NoError(t, err)

	totals := e.metrics(t, domain.ViewCurrent)
	require.True(t, totals.CarryoverPrev.Equal(dec("-250")), "carryover=%s", totals.CarryoverPrev)
	require.True(t, totals.AmountToDeposit.IsNegative())
	require.Equal(t, domain.LabelExcess, totals.Display.Label)
	require.True(t, totals.Display.Amount.Equal(dec("250")))
	require.True(t, totals.WeightSales.IsZero())
}

func TestCurrentViewSubtractsTillUnlessScoped(t *testing.T) {
	for _, tc := range []struct {
		name   string
		scoped []string
		want   string
	}{
		{name: "regular outlet", want: "350"},
		{name: "scoped outlet", scoped: []string{"baraka"}, want: "550"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, tc.scoped...)
			require.NoError(t, e.repo.AddSupplyRows(ctx, []domain.SupplyOpeningRow{
				{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "beef", Qty: dec("10")},
			}))
			require.NoError(t, e.repo.UpsertClosings(ctx, []domain.ClosingRecord{
				{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "beef", ClosingQty: dec("2"), WasteQty: dec("1")},
			}))
			_, err := e.repo.AddExpense(ctx, domain.Expense{Date: day, Outlet: "Baraka", Period: 1, Name: "bags", Amount: dec("50")})
			require.NoError(t, err)
			_, err = e.repo.CreateDeposit(ctx, domain.Deposit{Date: day, Outlet: "Baraka", Period: 1, Amount: dec("100"), Status: domain.DepositPending, IdempotencyKey: "a"})
			require.NoError(t, err)
			_, err = e.repo.CreateDeposit(ctx, domain.Deposit{Date: day, Outlet: "Baraka", Period: 1, Amount: dec("900"), Status: domain.DepositInvalid, IdempotencyKey: "b"})
			require.NoError(t, err)
			_, err = e.repo.AddTillPayment(ctx, domain.TillPayment{Outlet: "Baraka", Amount: dec("200"), Status: domain.TillStatusSuccess, CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)})
			require.NoError(t, err)

			totals := e.metrics(t, domain.ViewCurrent)
			require.True(t, totals.WeightSales.Equal(dec("700")))
			require.True(t, totals.TodayTotalSales.Equal(dec("650")))
			require.True(t, totals.VerifiedDeposits.Equal(dec("100")))
			require.True(t, totals.TillSalesGross.Equal(dec("200")))
			require.True(t, totals.NetTill.Equal(dec("100")))
			require.True(t, totals.AmountToDeposit.Equal(dec(tc.want)), "amount=%s", totals.AmountToDeposit)
			require.Equal(t, domain.LabelDeposit, totals.Display.Label)
		})
	}
}

func TestFirstCloseCarryoverVisibleSameDay(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.repo.AddSupplyRows(ctx, []domain.SupplyOpeningRow{
		{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "beef", Qty: dec("10")},
	}))
	_, err := e.ctrl.Submit(ctx, domain.ClosingSubmission{Date: day, Outlet: "Baraka", Items: []domain.ClosingItem{
		{ItemKey: "beef", ClosingQty: dec("6")},
	}})
	require.NoError(t, err)

	prev := e.metrics(t, domain.ViewPrevious)
	require.True(t, prev.WeightSales.Equal(dec("400")))
	require.True(t, prev.AmountToDeposit.Equal(dec("400")))

	current := e.metrics(t, domain.ViewCurrent)
	require.True(t, current.CarryoverPrev.Equal(dec("400")))
	require.True(t, current.WeightSales.IsZero(), "no activity in period two yet")
	require.True(t, current.OpeningValue.Equal(dec("600")))
	require.True(t, current.AmountToDeposit.Equal(dec("400")))
}

func TestLiveRevenueMatchesSnapshotReplay(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.repo.AddSupplyRows(ctx, []domain.SupplyOpeningRow{
		{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "beef", Qty: dec("10")},
	}))
	_, err := e.ctrl.Submit(ctx, domain.ClosingSubmission{Date: day, Outlet: "Baraka", Items: []domain.ClosingItem{
		{ItemKey: "beef", ClosingQty: dec("6")},
	}})
	require.NoError(t, err)

	require.NoError(t, e.repo.AddSupplyRows(ctx, []domain.SupplyOpeningRow{
		{Date: day, Outlet: "Baraka", Period: 2, ItemKey: "Beef", Qty: dec("5")},
	}))
	final := []domain.ClosingItem{{ItemKey: "BEEF", ClosingQty: dec("3"), WasteQty: dec("0.5")}}
	require.NoError(t, e.repo.UpsertClosings(ctx, []domain.ClosingRecord{
		{Date: day, Outlet: "Baraka", Period: 2, ItemKey: "BEEF", ClosingQty: dec("3"), WasteQty: dec("0.5")},
	}))

	live := e.metrics(t, domain.ViewCurrent)
	require.True(t, live.WeightSales.Equal(dec("750")), "live=%s", live.WeightSales)

	_, err = e.ctrl.Submit(ctx, domain.ClosingSubmission{Date: day, Outlet: "Baraka", Items: final})
	require.NoError(t, err)

	replayed := e.metrics(t, domain.ViewPrevious)
	require.True(t, replayed.WeightSales.Equal(live.WeightSales), "replayed=%s", replayed.WeightSales)
}

func TestMetricsRejectsBadQuery(t *testing.T) {
	e := newEnv(t)
	for _, q := range []domain.MetricsQuery{
		{Outlet: "", Date: day},
		{Outlet: "Baraka", Date: "yesterday"},
		{Outlet: "Baraka", Date: day, View: "tomorrow"},
	} {
		_, err := e.calc.Metrics(context.Background(), q)
		require.ErrorIs(t, err, store.ErrInvalidInput)
	}
}

func TestAssistantRecommendedNow(t *testing.T) {
	a := &AssistantCalculator{}
	prev := dayFigures{sales: dec("200"), expenses: decimal.Zero, deposited: decimal.Zero}
	today := dayFigures{sales: dec("500"), expenses: dec("50"), deposited: dec("300")}

	out, err := a.finish(context.Background(), domain.AssistantAssignment{Code: "AS1", Outlet: "Baraka"}, day, prev, today)
	require.NoError(t, err)
	require.True(t, out.CarryoverPrev.Equal(dec("200")))
	require.True(t, out.Expected.Equal(dec("650")))
	require.True(t, out.RecommendedNow.Equal(dec("350")))
	require.True(t, out.OK)
}

func TestAssistantCarryoverFlooredAtZero(t *testing.T) {
	a := &AssistantCalculator{}
	prev := dayFigures{sales: dec("100"), expenses: dec("0"), deposited: dec("400")}
	today := dayFigures{sales: dec("50"), expenses: dec("0"), deposited: dec("80")}

	out, err := a.finish(context.Background(), domain.AssistantAssignment{Code: "AS1", Outlet: "Baraka"}, day, prev, today)
	require.NoError(t, err)
	require.True(t, out.CarryoverPrev.IsZero())
	require.True(t, out.RecommendedNow.IsZero())
}

func TestAssistantScopedLedger(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.repo.PutCatalog(domain.ProductCatalogEntry{Key: "Liver", SellPrice: dec("80"), Active: true})
	e.repo.PutPriceBook(domain.PriceBookEntry{Outlet: "Baraka", ItemKey: "liver", SellPrice: dec("90"), Active: false})
	e.repo.PutAssistant(domain.AssistantAssignment{Code: "AS1", Outlet: "Baraka", ProductKeys: []domain.ProductKey{"BEEF", "liver"}})

	require.NoError(t, e.repo.UpsertClosings(ctx, []domain.ClosingRecord{
		{Date: prevDay, Outlet: "Baraka", Period: 1, ItemKey: "beef", ClosingQty: dec("4"), WasteQty: dec("1")},
		{Date: prevDay, Outlet: "Baraka", Period: 1, ItemKey: "liver", ClosingQty: dec("3")},
		{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "beef", ClosingQty: dec("2"), WasteQty: dec("1")},
	}))
	require.NoError(t, e.repo.AddSupplyRows(ctx, []domain.SupplyOpeningRow{
		{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "beef", Qty: dec("4")},
		{Date: day, Outlet: "Baraka", Period: 1, ItemKey: "goat", Qty: dec("9")},
	}))
	_, err := e.repo.AddExpense(ctx, domain.Expense{Date: day, Outlet: "Baraka", Period: 1, Name: "knife", Amount: dec("30"), Code: "as1"})
	require.NoError(t, err)
	_, err = e.repo.AddExpense(ctx, domain.Expense{Date: day, Outlet: "Baraka", Period: 1, Name: "bags", Amount: dec("70"), Code: "ATT9"})
	require.NoError(t, err)
	_, err = e.repo.CreateDeposit(ctx, domain.Deposit{Date: day, Outlet: "Baraka", Period: 1, Amount: dec("200"), Code: "AS1", Status: domain.DepositPending, IdempotencyKey: "d1"})
	require.NoError(t, err)
	_, err = e.repo.AddTillPayment(ctx, domain.TillPayment{Outlet: "Baraka", Amount: dec("1000"), Status: domain.TillStatusSuccess, CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	resp, err := e.calc.Metrics(ctx, domain.MetricsQuery{Outlet: "Baraka", Attendant: "as1", Date: day})
	require.NoError(t, err)
	require.NotNil(t, resp.Assistant)
	as := resp.Assistant

	// beef: opening 4+1, supply 4, closing 2, waste 1 => 6 units at 100.
	require.True(t, as.SalesValue.Equal(dec("600")), "sales=%s", as.SalesValue)
	require.True(t, as.ExpensesValue.Equal(dec("30")))
	require.True(t, as.DepositedSoFar.Equal(dec("200")))
	require.True(t, as.RecommendedNow.Equal(dec("370")), "no till offset for scoped roles")
	require.Len(t, as.Breakdown, 2)
	require.Equal(t, ExcludedInactivePrice, as.Breakdown[1].ExcludedReason)
	require.Len(t, as.Warnings, 1)
	require.Equal(t, domain.PeriodStateOpen, as.PeriodState)
}

func TestAssistantLockedAfterSecondClose(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.repo.PutAssistant(domain.AssistantAssignment{Code: "AS1", Outlet: "Baraka", ProductKeys: []domain.ProductKey{"beef"}})
	for _, qty := range []string{"6", "4"} {
		_, err := e.ctrl.Submit(ctx, domain.ClosingSubmission{Date: day, Outlet: "Baraka", Items: []domain.ClosingItem{{ItemKey: "beef", ClosingQty: dec(qty)}}})
		require.NoError(t, err)
	}

	resp, err := e.calc.Metrics(ctx, domain.MetricsQuery{Outlet: "Baraka", Attendant: "AS1", Date: day})
	require.NoError(t, err)
	require.False(t, resp.Assistant.OK)
	require.Equal(t, ReasonPeriodLocked, resp.Assistant.Reason)
	require.Equal(t, domain.PeriodStateLocked, resp.Assistant.PeriodState)
}

func TestAmbiguousAssistantCodeIsSurfaced(t *testing.T) {
	e := newEnv(t)
	e.repo.PutAssistant(domain.AssistantAssignment{Code: "AS1", Outlet: "Baraka"})
	e.repo.PutAssistant(domain.AssistantAssignment{Code: "as1", Outlet: "Other"})

	_, err := e.calc.Metrics(context.Background(), domain.MetricsQuery{Outlet: "Baraka", Attendant: "AS1", Date: day})
	var ambiguous *store.AmbiguousCodeError
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, 2, ambiguous.Matches)
}

func TestAssistantCodeFromAnotherOutletIsForbidden(t *testing.T) {
	e := newEnv(t)
	e.repo.PutOutlet(domain.Outlet{Name: "Kilimani"})
	e.repo.PutAssistant(domain.AssistantAssignment{Code: "ASK", Outlet: "Kilimani", ProductKeys: []domain.ProductKey{"beef"}})

	resp, err := e.calc.Metrics(context.Background(), domain.MetricsQuery{Outlet: "Baraka", Attendant: "ask", Date: day})
	require.ErrorIs(t, err, store.ErrForbidden)
	require.Nil(t, resp.Assistant)

	own, err := e.calc.Metrics(context.Background(), domain.MetricsQuery{Outlet: " kilimani ", Attendant: "ASK", Date: day})
	require.NoError(t, err)
	require.NotNil(t, own.Assistant)
}
