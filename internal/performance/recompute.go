package performance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"outletcash/backend/internal/deposit"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/notify"
	"outletcash/backend/internal/period"
	"outletcash/backend/internal/pipeline"
	"outletcash/backend/internal/stock"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

const (
	StageOutletPerformance    = "outlet-performance"
	StageAttendantKPIs        = "attendant-kpis"
	StageOutletCommissions    = "outlet-performance-commissions"
	StageSupplyStats          = "supply-stats"
	StageSupplyRecommendation = "supply-recommendations"
	StageOpenIntervals        = "open-intervals"
	StageDayCloseNotify       = "day-close-notify"

	recommendationWindowDays = 7
	dayCloseTemplate         = "day_close_summary"
)

type Repository interface {
	store.CatalogReader
	store.StockLedger
	store.ExpenseLedger
	store.DepositLedger
	store.TillLedger
	store.PerformanceStore
}

// Recomputer refreshes the derived day aggregates after an end-of-day close.
type Recomputer struct {
	repo     Repository
	resolver *stock.Resolver
	notifier *notify.Notifier
	scoped   domain.ScopedOutlets
	loc      *time.Location
	logger   *zap.Logger
	pipeline *pipeline.Pipeline[period.DayClose]
}

func NewRecomputer(repo Repository, notifier *notify.Notifier, scoped domain.ScopedOutlets, loc *time.Location, logger *zap.Logger) *Recomputer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNotifier(nil, logger)
	}
	if loc == nil {
		loc = timeutil.LoadLocation("")
	}
	r := &Recomputer{
		repo:     repo,
		resolver: stock.NewResolver(repo),
		notifier: notifier,
		scoped:   scoped,
		loc:      loc,
		logger:   logger.Named("performance"),
	}
	r.pipeline = pipeline.New("day-close", logger,
		pipeline.Stage[period.DayClose]{Name: StageOutletPerformance, Policy: pipeline.SkipAndLog, Run: r.outletPerformance},
		pipeline.Stage[period.DayClose]{Name: StageAttendantKPIs, Policy: pipeline.SkipAndLog, Run: r.attendantKPIs},
		pipeline.Stage[period.DayClose]{Name: StageOutletCommissions, Policy: pipeline.SkipAndLog, Run: r.outletCommissions},
		pipeline.Stage[period.DayClose]{Name: StageSupplyStats, Policy: pipeline.SkipAndLog, Run: r.supplyStats},
		pipeline.Stage[period.DayClose]{Name: StageSupplyRecommendation, Policy: pipeline.SkipAndLog, Run: r.supplyRecommendations},
		pipeline.Stage[period.DayClose]{Name: StageOpenIntervals, Policy: pipeline.SkipAndLog, Run: r.openIntervals},
		pipeline.Stage[period.DayClose]{Name: StageDayCloseNotify, Policy: pipeline.SkipAndLog, Run: r.dayCloseNotify},
	)
	return r
}

// RunDayClose runs every stage in order. Failures are logged per stage and
// never reach the rotation that triggered the run.
func (r *Recomputer) RunDayClose(ctx context.Context, event period.DayClose) {
	report := r.Run(ctx, event)
	if failed := report.Failed(); len(failed) > 0 {
		r.logger.Warn("day-close recompute finished with failures",
			zap.String("outlet", event.Outlet), zap.String("date", event.Date), zap.Strings("stages", failed))
	}
}

func (r *Recomputer) Run(ctx context.Context, event period.DayClose) pipeline.Report {
	return r.pipeline.Run(ctx, event)
}

func (r *Recomputer) Stages() []string {
	return r.pipeline.Stages()
}

func (r *Recomputer) windowStart(event period.DayClose) time.Time {
	if event.PeriodStartAt.IsZero() {
		return timeutil.StartOfDay(event.Date, r.loc)
	}
	return event.PeriodStartAt
}

func (r *Recomputer) outletPerformance(ctx context.Context, event period.DayClose) error {
	summary, err := r.resolver.Summarize(ctx, event.Outlet, event.Date, store.AllPeriods)
	if err != nil {
		return err
	}
	expenses, err := r.repo.ListExpenses(ctx, event.Outlet, event.Date, store.AllPeriods)
	if err != nil {
		return fmt.Errorf("list expenses: %w", err)
	}
	deposits, err := r.repo.ListDeposits(ctx, event.Outlet, event.Date, store.AllPeriods)
	if err != nil {
		return fmt.Errorf("list deposits: %w", err)
	}
	till, _, err := r.repo.SumTillPayments(ctx, event.Outlet, r.windowStart(event), event.ClosedAt)
	if err != nil {
		return fmt.Errorf("sum till: %w", err)
	}

	outlet, err := r.repo.GetOutlet(ctx, event.Outlet)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("get outlet: %w", err)
	}

	expenseSum := sumExpenses(expenses)
	depositSum := deposit.SumVerified(deposits)
	outstanding := summary.Revenue.Sub(expenseSum).Sub(depositSum)
	if !r.scoped.Covers(outlet, event.Outlet) {
		outstanding = outstanding.Sub(till)
	}

	perf := domain.OutletPerformance{
		Date:        event.Date,
		Outlet:      event.Outlet,
		Sales:       summary.Revenue,
		Expenses:    expenseSum,
		Deposits:    depositSum,
		TillGross:   till,
		Outstanding: outstanding,
		Commissions: decimal.Zero,
		UpdatedAt:   event.ClosedAt,
	}
	if existing, err := r.repo.GetOutletPerformance(ctx, event.Outlet, event.Date); err == nil {
		perf.Commissions = existing.Commissions
	}
	return r.repo.UpsertOutletPerformance(ctx, perf)
}

func (r *Recomputer) attendantKPIs(ctx context.Context, event period.DayClose) error {
	deposits, err := r.repo.ListDeposits(ctx, event.Outlet, event.Date, store.AllPeriods)
	if err != nil {
		return fmt.Errorf("list deposits: %w", err)
	}
	outlet, err := r.repo.GetOutlet(ctx, event.Outlet)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("get outlet: %w", err)
	}
	rate := decimal.Zero
	if outlet != nil {
		rate = outlet.CommissionRate
	}

	byCode := make(map[string]*domain.AttendantKPI)
	for _, dep := range deposits {
		code := strings.ToUpper(strings.TrimSpace(dep.Code))
		if code == "" || dep.Status == domain.DepositInvalid {
			continue
		}
		kpi, ok := byCode[code]
		if !ok {
			kpi = &domain.AttendantKPI{Date: event.Date, Outlet: event.Outlet, Code: code, Deposited: decimal.Zero}
			byCode[code] = kpi
		}
		kpi.Deposited = kpi.Deposited.Add(dep.Amount)
		kpi.Deposits++
	}

	for _, kpi := range byCode {
		kpi.Commission = kpi.Deposited.Mul(rate).Round(2)
		kpi.UpdatedAt = event.ClosedAt
		if err := r.repo.UpsertAttendantKPI(ctx, *kpi); err != nil {
			return fmt.Errorf("upsert kpi %s: %w", kpi.Code, err)
		}
	}
	return nil
}

// outletCommissions folds the KPI commissions back into the outlet row.
func (r *Recomputer) outletCommissions(ctx context.Context, event period.DayClose) error {
	perf, err := r.repo.GetOutletPerformance(ctx, event.Outlet, event.Date)
	if err != nil {
		return fmt.Errorf("get outlet performance: %w", err)
	}
	kpis, err := r.repo.ListAttendantKPIs(ctx, event.Outlet, event.Date)
	if err != nil {
		return fmt.Errorf("list kpis: %w", err)
	}
	total := decimal.Zero
	for _, kpi := range kpis {
		total = total.Add(kpi.Commission)
	}
	perf.Commissions = total
	perf.UpdatedAt = event.ClosedAt
	return r.repo.UpsertOutletPerformance(ctx, *perf)
}

func (r *Recomputer) supplyStats(ctx context.Context, event period.DayClose) error {
	summary, err := r.resolver.Summarize(ctx, event.Outlet, event.Date, store.AllPeriods)
	if err != nil {
		return err
	}
	stats := make([]domain.SupplyStat, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		stats = append(stats, domain.SupplyStat{
			Date:    event.Date,
			Outlet:  event.Outlet,
			ItemKey: line.ItemKey,
			Sold:    line.Sold,
			Waste:   line.Waste,
			Closing: line.Closing,
		})
	}
	return r.repo.UpsertSupplyStats(ctx, stats)
}

// supplyRecommendations suggests tomorrow's delivery as the trailing average
// sold less what is already on hand.
func (r *Recomputer) supplyRecommendations(ctx context.Context, event period.DayClose) error {
	from := timeutil.AddDays(event.Date, -(recommendationWindowDays - 1))
	stats, err := r.repo.ListSupplyStats(ctx, event.Outlet, from, event.Date)
	if err != nil {
		return fmt.Errorf("list supply stats: %w", err)
	}

	type acc struct {
		key     domain.ProductKey
		sold    decimal.Decimal
		days    int
		closing decimal.Decimal
	}
	byItem := make(map[string]*acc)
	for _, stat := range stats {
		norm := stat.ItemKey.Normalize()
		a, ok := byItem[norm]
		if !ok {
			a = &acc{key: stat.ItemKey}
			byItem[norm] = a
		}
		a.sold = a.sold.Add(stat.Sold)
		a.days++
		if stat.Date == event.Date {
			a.closing = stat.Closing
		}
	}

	keys := make([]string, 0, len(byItem))
	for norm := range byItem {
		keys = append(keys, norm)
	}
	sort.Strings(keys)

	target := timeutil.NextDay(event.Date)
	recs := make([]domain.SupplyRecommendation, 0, len(keys))
	for _, norm := range keys {
		a := byItem[norm]
		qty := a.sold.Div(decimal.NewFromInt(int64(a.days))).Sub(a.closing).Round(2)
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		recs = append(recs, domain.SupplyRecommendation{Date: target, Outlet: event.Outlet, ItemKey: a.key, RecommendedQty: qty})
	}
	return r.repo.ReplaceSupplyRecommendations(ctx, event.Outlet, target, recs)
}

func (r *Recomputer) openIntervals(ctx context.Context, event period.DayClose) error {
	return r.repo.RecordTradingInterval(ctx, domain.TradingInterval{
		Outlet:    event.Outlet,
		Date:      event.Date,
		StartedAt: r.windowStart(event),
		ClosedAt:  event.ClosedAt,
	})
}

func (r *Recomputer) dayCloseNotify(ctx context.Context, event period.DayClose) error {
	outlet, err := r.repo.GetOutlet(ctx, event.Outlet)
	if err != nil {
		return fmt.Errorf("get outlet: %w", err)
	}
	perf, err := r.repo.GetOutletPerformance(ctx, event.Outlet, event.Date)
	if err != nil {
		return fmt.Errorf("get outlet performance: %w", err)
	}
	phones := append([]string{}, outlet.AttendantPhones...)
	phones = append(phones, outlet.SupplierPhone)
	r.notifier.Template(phones, dayCloseTemplate, []string{
		outlet.Name,
		event.Date,
		perf.Sales.StringFixed(2),
		domain.DisplayFor(perf.Outstanding).Label,
		domain.DisplayFor(perf.Outstanding).Amount.StringFixed(2),
	})
	return nil
}

func sumExpenses(expenses []domain.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}
