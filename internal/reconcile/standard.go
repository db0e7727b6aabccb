package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/deposit"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/snapshot"
	"outletcash/backend/internal/stock"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/till"
	"outletcash/backend/internal/timeutil"
)

type Repository interface {
	store.CatalogReader
	store.StockLedger
	store.ExpenseLedger
	store.DepositLedger
	store.AccountStore
}

// Periods is the part of the rotation controller the calculators read.
type Periods interface {
	Locate(ctx context.Context, outlet string, date string) (domain.LedgerRef, error)
	State(ctx context.Context, outlet string, date string) (string, error)
}

// Source is the closed ledger carryover is taken from.
type Source struct {
	Date       string
	CloseIndex int
	Snapshot   bool
	Summary    stock.Summary
	Expenses   decimal.Decimal
	Deposits   decimal.Decimal
}

// Outstanding is unclamped: a negative value is a surplus carried forward.
func (s Source) Outstanding() decimal.Decimal {
	return s.Summary.Revenue.Sub(s.Expenses).Sub(s.Deposits)
}

type Calculator struct {
	repo      Repository
	resolver  *stock.Resolver
	till      *till.Aggregator
	periods   Periods
	snapshots snapshot.Store
	scoped    domain.ScopedOutlets
	assistant *AssistantCalculator
}

func NewCalculator(repo Repository, tillAgg *till.Aggregator, periods Periods, snapshots snapshot.Store, scoped domain.ScopedOutlets) *Calculator {
	resolver := stock.NewResolver(repo)
	return &Calculator{
		repo:      repo,
		resolver:  resolver,
		till:      tillAgg,
		periods:   periods,
		snapshots: snapshots,
		scoped:    scoped,
		assistant: NewAssistantCalculator(repo, periods),
	}
}

// Metrics answers the header query for one outlet, calendar date and view.
func (c *Calculator) Metrics(ctx context.Context, q domain.MetricsQuery) (domain.MetricsResponse, error) {
	q.Outlet = strings.TrimSpace(q.Outlet)
	if q.View == "" {
		q.View = domain.ViewCurrent
	}
	if q.Outlet == "" || !timeutil.ValidDate(q.Date) || (q.View != domain.ViewCurrent && q.View != domain.ViewPrevious) {
		return domain.MetricsResponse{}, store.ErrInvalidInput
	}

	var totals domain.MetricsTotals
	var err error
	if q.View == domain.ViewPrevious {
		totals, err = c.previousTotals(ctx, q.Outlet, q.Date)
	} else {
		totals, err = c.currentTotals(ctx, q.Outlet, q.Date)
	}
	if err != nil {
		return domain.MetricsResponse{}, err
	}

	resp := domain.MetricsResponse{OK: true, Outlet: q.Outlet, Date: q.Date, Period: q.View, Totals: totals}
	if code := strings.TrimSpace(q.Attendant); code != "" {
		assignment, err := c.repo.FindAssistantAssignment(ctx, code)
		switch {
		case err == nil:
			if !strings.EqualFold(strings.TrimSpace(assignment.Outlet), q.Outlet) {
				return domain.MetricsResponse{}, fmt.Errorf("%w: code %s is assigned to another outlet", store.ErrForbidden, code)
			}
			metrics, err := c.assistant.Compute(ctx, *assignment, q.Date)
			if err != nil {
				return domain.MetricsResponse{}, err
			}
			resp.Assistant = &metrics
		case errors.Is(err, store.ErrNotFound):
			// Regular attendant; no scoped block.
		default:
			return domain.MetricsResponse{}, err
		}
	}
	return resp, nil
}

// PreviousSource prefers the latest same-day snapshot so carryover shows up
// right after a mid-day close, and falls back to the raw ledger of the day
// before.
func (c *Calculator) PreviousSource(ctx context.Context, outlet string, date string) (Source, error) {
	rec, found, err := snapshot.Latest(ctx, c.snapshots, date, outlet)
	if err != nil {
		return Source{}, fmt.Errorf("latest snapshot: %w", err)
	}
	if found {
		return Source{
			Date:       rec.Date,
			CloseIndex: rec.CloseIndex,
			Snapshot:   true,
			Summary:    rec.Summary(),
			Expenses:   sumExpenses(rec.Expenses),
			Deposits:   deposit.SumVerified(rec.Deposits),
		}, nil
	}

	prev := timeutil.PrevDay(date)
	summary, err := c.resolver.Summarize(ctx, outlet, prev, store.AllPeriods)
	if err != nil {
		return Source{}, err
	}
	expenses, err := c.repo.ListExpenses(ctx, outlet, prev, store.AllPeriods)
	if err != nil {
		return Source{}, fmt.Errorf("list expenses: %w", err)
	}
	deposits, err := c.repo.ListDeposits(ctx, outlet, prev, store.AllPeriods)
	if err != nil {
		return Source{}, fmt.Errorf("list deposits: %w", err)
	}
	return Source{
		Date:     prev,
		Summary:  summary,
		Expenses: sumExpenses(expenses),
		Deposits: deposit.SumVerified(deposits),
	}, nil
}

func (c *Calculator) previousTotals(ctx context.Context, outlet string, date string) (domain.MetricsTotals, error) {
	source, err := c.PreviousSource(ctx, outlet, date)
	if err != nil {
		return domain.MetricsTotals{}, err
	}
	outstanding := source.Outstanding()
	return domain.MetricsTotals{
		WeightSales:      source.Summary.Revenue,
		Expenses:         source.Expenses,
		TodayTotalSales:  source.Summary.Revenue.Sub(source.Expenses),
		TillSalesGross:   decimal.Zero,
		TodayTillSales:   decimal.Zero,
		VerifiedDeposits: source.Deposits,
		NetTill:          decimal.Zero,
		OpeningValue:     source.Summary.OpeningValue,
		CarryoverPrev:    decimal.Zero,
		AmountToDeposit:  outstanding,
		Display:          domain.DisplayFor(outstanding),
	}, nil
}

func (c *Calculator) currentTotals(ctx context.Context, outlet string, date string) (domain.MetricsTotals, error) {
	source, err := c.PreviousSource(ctx, outlet, date)
	if err != nil {
		return domain.MetricsTotals{}, err
	}
	previousOutstanding := source.Outstanding()

	ref, err := c.periods.Locate(ctx, outlet, date)
	if err != nil {
		return domain.MetricsTotals{}, err
	}
	summary, err := c.resolver.Summarize(ctx, outlet, ref.Date, ref.Period)
	if err != nil {
		return domain.MetricsTotals{}, err
	}
	expenses, err := c.repo.ListExpenses(ctx, outlet, ref.Date, ref.Period)
	if err != nil {
		return domain.MetricsTotals{}, fmt.Errorf("list expenses: %w", err)
	}
	deposits, err := c.repo.ListDeposits(ctx, outlet, ref.Date, ref.Period)
	if err != nil {
		return domain.MetricsTotals{}, fmt.Errorf("list deposits: %w", err)
	}
	gross, err := c.till.Gross(ctx, outlet, date)
	if err != nil {
		return domain.MetricsTotals{}, err
	}
	today, err := c.till.Today(ctx, outlet, date)
	if err != nil {
		return domain.MetricsTotals{}, err
	}
	scoped, err := c.isScoped(ctx, outlet)
	if err != nil {
		return domain.MetricsTotals{}, err
	}

	tillOffset := gross.Gross
	if scoped {
		tillOffset = decimal.Zero
	}

	totals := domain.MetricsTotals{
		TillSalesGross: gross.Gross,
		TodayTillSales: today.Gross,
		OpeningValue:   summary.OpeningValue,
		CarryoverPrev:  previousOutstanding,
	}

	noActivity := !summary.HasClosings && len(expenses) == 0 && len(deposits) == 0 && gross.Count == 0
	if noActivity {
		totals.WeightSales = decimal.Zero
		totals.Expenses = decimal.Zero
		totals.TodayTotalSales = decimal.Zero
		totals.VerifiedDeposits = decimal.Zero
		totals.NetTill = gross.Gross
		totals.AmountToDeposit = previousOutstanding.Sub(tillOffset)
	} else {
		expenseSum := sumExpenses(expenses)
		verified := deposit.SumVerified(deposits)
		totals.WeightSales = summary.Revenue
		totals.Expenses = expenseSum
		totals.TodayTotalSales = summary.Revenue.Sub(expenseSum)
		totals.VerifiedDeposits = verified
		totals.NetTill = gross.Gross.Sub(verified)
		totals.AmountToDeposit = previousOutstanding.Add(totals.TodayTotalSales).Sub(verified).Sub(tillOffset)
	}
	totals.Display = domain.DisplayFor(totals.AmountToDeposit)
	return totals, nil
}

func (c *Calculator) isScoped(ctx context.Context, outlet string) (bool, error) {
	o, err := c.repo.GetOutlet(ctx, outlet)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("get outlet: %w", err)
	}
	return c.scoped.Covers(o, outlet), nil
}

func sumExpenses(expenses []domain.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}
