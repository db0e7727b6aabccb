package period

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/metrics"
	"outletcash/backend/internal/notify"
	"outletcash/backend/internal/snapshot"
	"outletcash/backend/internal/stock"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

const (
	StateNoActivity   = "NO_ACTIVITY"
	StateOpen         = "OPEN"
	StateFirstClosed  = "FIRST_CLOSED"
	StateSecondClosed = "SECOND_CLOSED"
)

type Repository interface {
	store.CatalogReader
	store.StockLedger
	store.ExpenseLedger
	store.DepositLedger
	store.PeriodStore
}

// DayClose describes a finished trading date, handed to the day-close
// runner after the second close.
type DayClose struct {
	Outlet        string
	Date          string
	Record        snapshot.Record
	PeriodStartAt time.Time
	ClosedAt      time.Time
}

type DayCloseRunner interface {
	RunDayClose(ctx context.Context, event DayClose)
}

type Options struct {
	Notifier *notify.Notifier
	DayClose DayCloseRunner
	Location *time.Location
	Logger   *zap.Logger
	Now      func() time.Time
}

// Controller owns the per-outlet trading period and is the only writer of
// snapshots.
type Controller struct {
	repo      Repository
	snapshots snapshot.Store
	resolver  *stock.Resolver
	notifier  *notify.Notifier
	dayClose  DayCloseRunner
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

func NewController(repo Repository, snapshots snapshot.Store, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewNotifier(nil, logger)
	}
	loc := opts.Location
	if loc == nil {
		loc = timeutil.LoadLocation("")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		repo:      repo,
		snapshots: snapshots,
		resolver:  stock.NewResolver(repo),
		notifier:  notifier,
		dayClose:  opts.DayClose,
		loc:       loc,
		logger:    logger.Named("period"),
		now:       now,
	}
}

func (c *Controller) activePeriod(ctx context.Context, outlet string, date string) (domain.ActivePeriod, bool, error) {
	active, err := c.repo.GetActivePeriod(ctx, outlet)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ActivePeriod{Outlet: outlet, TradingDate: date, Period: 1}, false, nil
	}
	if err != nil {
		return domain.ActivePeriod{}, false, fmt.Errorf("get active period: %w", err)
	}
	return *active, true, nil
}

// Locate resolves the live ledger for a calendar date. Once the outlet has
// rotated past date, new activity lands in the open trading period.
func (c *Controller) Locate(ctx context.Context, outlet string, date string) (domain.LedgerRef, error) {
	active, _, err := c.activePeriod(ctx, outlet, date)
	if err != nil {
		return domain.LedgerRef{}, err
	}
	switch {
	case date < active.TradingDate:
		return domain.LedgerRef{Date: active.TradingDate, Period: active.Period}, nil
	case date == active.TradingDate:
		return domain.LedgerRef{Date: date, Period: active.Period}, nil
	default:
		return domain.LedgerRef{Date: date, Period: 1}, nil
	}
}

// Submit records an attendant's stock count and performs the rotation it
// triggers. A count dated before the trading date is a correction of the
// closed day and never rotates.
func (c *Controller) Submit(ctx context.Context, sub domain.ClosingSubmission) (domain.RotationResult, error) {
	sub.Outlet = strings.TrimSpace(sub.Outlet)
	if sub.Outlet == "" || !timeutil.ValidDate(sub.Date) || len(sub.Items) == 0 {
		return domain.RotationResult{}, store.ErrInvalidInput
	}
	for _, item := range sub.Items {
		if item.ItemKey.IsZero() || item.ClosingQty.IsNegative() || item.WasteQty.IsNegative() {
			return domain.RotationResult{}, store.ErrInvalidInput
		}
	}

	active, found, err := c.activePeriod(ctx, sub.Outlet, sub.Date)
	if err != nil {
		return domain.RotationResult{}, err
	}
	if found && sub.Date > active.TradingDate {
		// The previous day was never closed a second time.
		c.logger.Warn("trading date skipped without end-of-day close",
			zap.String("outlet", sub.Outlet), zap.String("trading_date", active.TradingDate), zap.String("date", sub.Date))
		active.TradingDate = sub.Date
		active.Period = 1
	}

	if sub.Date < active.TradingDate {
		return c.correct(ctx, sub, active)
	}
	return c.rotate(ctx, sub, active)
}

func (c *Controller) correct(ctx context.Context, sub domain.ClosingSubmission, active domain.ActivePeriod) (domain.RotationResult, error) {
	if err := c.repo.UpsertClosings(ctx, closingRows(sub, 2, c.now())); err != nil {
		return domain.RotationResult{}, fmt.Errorf("upsert closings: %w", err)
	}
	metrics.RotationsTotal.WithLabelValues(domain.RotationCorrection).Inc()
	c.logger.Info("closing correction recorded", zap.String("outlet", sub.Outlet), zap.String("date", sub.Date))

	return domain.RotationResult{
		Outlet:        sub.Outlet,
		Date:          sub.Date,
		Kind:          domain.RotationCorrection,
		TradingDate:   active.TradingDate,
		Period:        active.Period,
		PeriodStartAt: active.PeriodStartAt,
	}, nil
}

func (c *Controller) rotate(ctx context.Context, sub domain.ClosingSubmission, active domain.ActivePeriod) (domain.RotationResult, error) {
	now := c.now()
	closeIndex := active.Period
	if err := c.repo.UpsertClosings(ctx, closingRows(sub, closeIndex, now)); err != nil {
		return domain.RotationResult{}, fmt.Errorf("upsert closings: %w", err)
	}

	previousStart := active.PeriodStartAt
	rec, outcome, err := c.archive(ctx, sub.Outlet, sub.Date, closeIndex, previousStart, now)
	if err != nil {
		return domain.RotationResult{}, err
	}
	created := outcome == archiveCreated
	closedAt := rec.CreatedAt
	if closedAt.IsZero() {
		closedAt = now
	}
	kind := domain.RotationFirstClose
	var seedDate string
	var seedPeriod int
	var seedFrom int
	if closeIndex == 1 {
		active.Period = 2
		seedDate, seedPeriod, seedFrom = sub.Date, 2, 1
	} else {
		kind = domain.RotationSecondClose
		active.TradingDate = timeutil.NextDay(sub.Date)
		active.Period = 1
		active.PeriodStartAt = closedAt
		seedDate, seedPeriod, seedFrom = active.TradingDate, 1, store.AllPeriods
	}

	if err := c.seedOpening(ctx, sub.Outlet, sub.Date, seedFrom, seedDate, seedPeriod); err != nil {
		return domain.RotationResult{}, err
	}
	active.Outlet = sub.Outlet
	active.UpdatedAt = now
	if err := c.repo.SaveActivePeriod(ctx, active); err != nil {
		return domain.RotationResult{}, fmt.Errorf("save active period: %w", err)
	}
	metrics.RotationsTotal.WithLabelValues(kind).Inc()

	c.logger.Info("period rotated",
		zap.String("outlet", sub.Outlet), zap.String("date", sub.Date), zap.Int("close_index", closeIndex),
		zap.Bool("snapshot_created", created), zap.String("trading_date", active.TradingDate))

	// Side effects follow the active-period transition made above. A snapshot
	// left by an attempt that failed before the transition still gets them;
	// only a caller that lost the write race to a concurrent close skips them.
	if outcome != archiveRaced {
		c.notifyClose(ctx, sub.Outlet, rec)
		if closeIndex == 2 && c.dayClose != nil {
			c.dayClose.RunDayClose(ctx, DayClose{
				Outlet:        sub.Outlet,
				Date:          sub.Date,
				Record:        rec,
				PeriodStartAt: previousStart,
				ClosedAt:      closedAt,
			})
		}
	}

	return domain.RotationResult{
		Outlet:          sub.Outlet,
		Date:            sub.Date,
		Kind:            kind,
		CloseIndex:      closeIndex,
		SnapshotCreated: created,
		TradingDate:     active.TradingDate,
		Period:          active.Period,
		PeriodStartAt:   active.PeriodStartAt,
	}, nil
}

type archiveOutcome int

const (
	archiveCreated archiveOutcome = iota
	// archiveResumed means the snapshot was already there when the close
	// started, left by an attempt that failed before advancing the period.
	archiveResumed
	archiveRaced
)

// archive writes the snapshot for (date, closeIndex) unless one already
// exists, in which case the stored record is returned untouched.
func (c *Controller) archive(ctx context.Context, outlet string, date string, closeIndex int, periodStart time.Time, now time.Time) (snapshot.Record, archiveOutcome, error) {
	existing, err := c.snapshots.Get(ctx, date, outlet, closeIndex)
	if err == nil {
		return existing, archiveResumed, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return snapshot.Record{}, 0, fmt.Errorf("get snapshot: %w", err)
	}

	summary, err := c.resolver.Summarize(ctx, outlet, date, closeIndex)
	if err != nil {
		return snapshot.Record{}, 0, err
	}
	closings, err := c.repo.ListClosings(ctx, outlet, date, closeIndex)
	if err != nil {
		return snapshot.Record{}, 0, fmt.Errorf("list closings: %w", err)
	}
	expenses, err := c.repo.ListExpenses(ctx, outlet, date, closeIndex)
	if err != nil {
		return snapshot.Record{}, 0, fmt.Errorf("list expenses: %w", err)
	}
	deposits, err := c.repo.ListDeposits(ctx, outlet, date, closeIndex)
	if err != nil {
		return snapshot.Record{}, 0, fmt.Errorf("list deposits: %w", err)
	}

	rec := snapshot.Build(date, outlet, closeIndex, summary, closings, expenses, deposits, now)
	if !periodStart.IsZero() {
		rec.PeriodStartAt = periodStart.UTC()
	}
	err = c.snapshots.Put(ctx, rec)
	if errors.Is(err, snapshot.ErrExists) {
		stored, getErr := c.snapshots.Get(ctx, date, outlet, closeIndex)
		if getErr != nil {
			return snapshot.Record{}, 0, fmt.Errorf("get snapshot after conflict: %w", getErr)
		}
		return stored, archiveRaced, nil
	}
	if err != nil {
		return snapshot.Record{}, 0, fmt.Errorf("put snapshot: %w", err)
	}
	return rec, archiveCreated, nil
}

func (c *Controller) seedOpening(ctx context.Context, outlet string, fromDate string, fromPeriod int, toDate string, toPeriod int) error {
	closings, err := c.repo.ListClosings(ctx, outlet, fromDate, fromPeriod)
	if err != nil {
		return fmt.Errorf("list closings for seed: %w", err)
	}
	seeds := make([]domain.OpeningSeed, 0, len(closings))
	for _, row := range closings {
		seeds = append(seeds, domain.OpeningSeed{ItemKey: row.ItemKey, Qty: row.ClosingQty})
	}
	if err := c.repo.ReplaceOpeningSeed(ctx, outlet, toDate, toPeriod, seeds); err != nil {
		return fmt.Errorf("seed opening: %w", err)
	}
	return nil
}

func (c *Controller) notifyClose(ctx context.Context, outlet string, rec snapshot.Record) {
	o, err := c.repo.GetOutlet(ctx, outlet)
	if err != nil {
		c.logger.Warn("load outlet for close notification failed", zap.String("outlet", outlet), zap.Error(err))
		return
	}
	phones := append([]string{}, o.AttendantPhones...)
	phones = append(phones, o.SupplierPhone)
	c.notifier.Text(phones, fmt.Sprintf("%s closed period %d of %s. Sales KES %s.",
		o.Name, rec.CloseIndex, rec.Date, rec.Revenue.StringFixed(2)))
}

// State reports how far the outlet's day has progressed.
func (c *Controller) State(ctx context.Context, outlet string, date string) (string, error) {
	for _, step := range []struct {
		idx   int
		state string
	}{{2, StateSecondClosed}, {1, StateFirstClosed}} {
		_, err := c.snapshots.Get(ctx, date, outlet, step.idx)
		if err == nil {
			return step.state, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("get snapshot: %w", err)
		}
	}

	active, err := c.hasActivity(ctx, outlet, date)
	if err != nil {
		return "", err
	}
	if active {
		return StateOpen, nil
	}
	return StateNoActivity, nil
}

func (c *Controller) hasActivity(ctx context.Context, outlet string, date string) (bool, error) {
	supply, err := c.repo.ListSupplyRows(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return false, fmt.Errorf("list supply: %w", err)
	}
	closings, err := c.repo.ListClosings(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return false, fmt.Errorf("list closings: %w", err)
	}
	expenses, err := c.repo.ListExpenses(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return false, fmt.Errorf("list expenses: %w", err)
	}
	deposits, err := c.repo.ListDeposits(ctx, outlet, date, store.AllPeriods)
	if err != nil {
		return false, fmt.Errorf("list deposits: %w", err)
	}
	return len(supply)+len(closings)+len(expenses)+len(deposits) > 0, nil
}

// Active returns the outlet's active period, defaulting to period 1 of date.
func (c *Controller) Active(ctx context.Context, outlet string, date string) (domain.ActivePeriod, error) {
	active, _, err := c.activePeriod(ctx, outlet, date)
	return active, err
}

func (c *Controller) Snapshots() snapshot.Store {
	return c.snapshots
}

func closingRows(sub domain.ClosingSubmission, period int, now time.Time) []domain.ClosingRecord {
	rows := make([]domain.ClosingRecord, 0, len(sub.Items))
	for _, item := range sub.Items {
		rows = append(rows, domain.ClosingRecord{
			Date:        sub.Date,
			Outlet:      sub.Outlet,
			Period:      period,
			ItemKey:     domain.ProductKey(item.ItemKey.String()),
			ClosingQty:  item.ClosingQty,
			WasteQty:    item.WasteQty,
			SubmittedBy: sub.SubmittedBy,
			UpdatedAt:   now.UTC(),
		})
	}
	return rows
}
