package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/deposit"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/period"
	"outletcash/backend/internal/stock"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

const ReasonPeriodLocked = "period-locked"

const (
	ExcludedInactivePrice = "inactive-price"
	ExcludedNoPrice       = "no-price"
)

// AssistantCalculator computes what a scoped role owes for its product
// subset. Unlike the outlet figure there is no till offset and the carryover
// never goes below zero.
type AssistantCalculator struct {
	repo     Repository
	resolver *stock.Resolver
	periods  Periods
}

func NewAssistantCalculator(repo Repository, periods Periods) *AssistantCalculator {
	return &AssistantCalculator{repo: repo, resolver: stock.NewResolver(repo), periods: periods}
}

type dayFigures struct {
	sales     decimal.Decimal
	expenses  decimal.Decimal
	deposited decimal.Decimal
	lines     []domain.AssistantLine
	warnings  []string
}

func (a *AssistantCalculator) Compute(ctx context.Context, assignment domain.AssistantAssignment, date string) (domain.AssistantMetrics, error) {
	if !timeutil.ValidDate(date) || strings.TrimSpace(assignment.Outlet) == "" {
		return domain.AssistantMetrics{}, store.ErrInvalidInput
	}
	prices, err := a.resolver.Prices(ctx, assignment.Outlet)
	if err != nil {
		return domain.AssistantMetrics{}, err
	}

	today, err := a.figures(ctx, assignment, prices, date)
	if err != nil {
		return domain.AssistantMetrics{}, err
	}
	prev, err := a.figures(ctx, assignment, prices, timeutil.PrevDay(date))
	if err != nil {
		return domain.AssistantMetrics{}, err
	}

	return a.finish(ctx, assignment, date, prev, today)
}

func (a *AssistantCalculator) finish(ctx context.Context, assignment domain.AssistantAssignment, date string, prev dayFigures, today dayFigures) (domain.AssistantMetrics, error) {
	carryover := Floor(prev.sales.Sub(prev.expenses).Sub(prev.deposited))
	expected := carryover.Add(today.sales.Sub(today.expenses))
	out := domain.AssistantMetrics{
		OK:             true,
		Code:           assignment.Code,
		Expected:       expected,
		RecommendedNow: Floor(expected.Sub(today.deposited)),
		DepositedSoFar: today.deposited,
		SalesValue:     today.sales,
		ExpensesValue:  today.expenses,
		CarryoverPrev:  carryover,
		PeriodState:    domain.PeriodStateOpen,
		Warnings:       today.warnings,
		Breakdown:      today.lines,
	}

	if a.periods != nil {
		state, err := a.periods.State(ctx, assignment.Outlet, date)
		if err != nil {
			return domain.AssistantMetrics{}, err
		}
		if state == period.StateSecondClosed {
			out.PeriodState = domain.PeriodStateLocked
			out.OK = false
			out.Reason = ReasonPeriodLocked
		}
	}
	return out, nil
}

// figures builds the scoped ledger for one trading day. Opening comes from
// the prior day's closing plus waste, not from supplier rows.
func (a *AssistantCalculator) figures(ctx context.Context, assignment domain.AssistantAssignment, prices stock.PriceTable, date string) (dayFigures, error) {
	outlet := assignment.Outlet
	priorClosings, err := a.repo.ListClosings(ctx, outlet, timeutil.PrevDay(date), store.AllPeriods)
	if err != nil {
		return dayFigures{}, fmt.Errorf("list prior closings: %w", err)
	}
	supplyRows, err := a.repo.ListSupplyRows(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return dayFigures{}, fmt.Errorf("list supply: %w", err)
	}
	closings, err := a.repo.ListClosings(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return dayFigures{}, fmt.Errorf("list closings: %w", err)
	}
	expenses, err := a.repo.ListExpenses(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return dayFigures{}, fmt.Errorf("list expenses: %w", err)
	}
	deposits, err := a.repo.ListDeposits(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return dayFigures{}, fmt.Errorf("list deposits: %w", err)
	}

	lines := make(map[string]*domain.AssistantLine, len(assignment.ProductKeys))
	for _, key := range assignment.ProductKeys {
		if key.IsZero() {
			continue
		}
		lines[key.Normalize()] = &domain.AssistantLine{ItemKey: domain.ProductKey(key.String())}
	}
	for _, row := range priorClosings {
		if line, ok := lines[row.ItemKey.Normalize()]; ok {
			line.Opening = line.Opening.Add(row.ClosingQty).Add(row.WasteQty)
		}
	}
	for _, row := range supplyRows {
		if line, ok := lines[row.ItemKey.Normalize()]; ok {
			line.Supply = line.Supply.Add(row.Qty)
		}
	}
	for _, row := range closings {
		if line, ok := lines[row.ItemKey.Normalize()]; ok {
			line.Closing = line.Closing.Add(row.ClosingQty)
			line.Waste = line.Waste.Add(row.WasteQty)
		}
	}

	keys := make([]string, 0, len(lines))
	for norm := range lines {
		keys = append(keys, norm)
	}
	sort.Strings(keys)

	fig := dayFigures{
		sales:    decimal.Zero,
		lines:    make([]domain.AssistantLine, 0, len(keys)),
		warnings: make([]string, 0),
	}
	for _, norm := range keys {
		line := lines[norm]
		line.SoldUnits = stock.SoldQty(line.Opening.Add(line.Supply), line.Closing, line.Waste)
		price := prices.Lookup(line.ItemKey)
		if price.Resolvable() {
			line.Price = price.Amount
			line.SalesValue = line.SoldUnits.Mul(price.Amount)
			fig.sales = fig.sales.Add(line.SalesValue)
		} else {
			line.ExcludedReason = ExcludedNoPrice
			if price.Source == stock.PriceSourceInactiveOverride {
				line.ExcludedReason = ExcludedInactivePrice
			}
			fig.warnings = append(fig.warnings,
				fmt.Sprintf("%s has no active price and is excluded from sales", line.ItemKey))
		}
		fig.lines = append(fig.lines, *line)
	}

	fig.expenses = decimal.Zero
	for _, e := range expenses {
		if strings.EqualFold(strings.TrimSpace(e.Code), assignment.Code) {
			fig.expenses = fig.expenses.Add(e.Amount)
		}
	}
	fig.deposited = deposit.SumVerifiedByCode(deposits, assignment.Code)
	return fig, nil
}

// Floor clamps negative amounts to zero.
func Floor(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
