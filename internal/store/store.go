package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
)

// AllPeriods reads a whole trading date. Supply, expenses and deposits are
// concatenated across periods; closings keep, per item, the closing quantity
// of the highest period and the waste summed over all periods.
const AllPeriods = 0

// AmbiguousCodeError is returned when a login or assistant code resolves to
// more than one record. Callers must not pick one.
type AmbiguousCodeError struct {
	Code    string
	Matches int
}

func (e *AmbiguousCodeError) Error() string {
	return fmt.Sprintf("code %q is ambiguous: %d matching records", e.Code, e.Matches)
}

type CatalogReader interface {
	GetOutlet(ctx context.Context, name string) (*domain.Outlet, error)
	ListPriceBook(ctx context.Context, outlet string) ([]domain.PriceBookEntry, error)
	ListCatalog(ctx context.Context) ([]domain.ProductCatalogEntry, error)
}

type StockLedger interface {
	AddSupplyRows(ctx context.Context, rows []domain.SupplyOpeningRow) error
	ListSupplyRows(ctx context.Context, outlet string, date string, period int) ([]domain.SupplyOpeningRow, error)
	ReplaceOpeningSeed(ctx context.Context, outlet string, date string, period int, seeds []domain.OpeningSeed) error
	ListOpeningSeed(ctx context.Context, outlet string, date string, period int) ([]domain.OpeningSeed, error)
	UpsertClosings(ctx context.Context, rows []domain.ClosingRecord) error
	ListClosings(ctx context.Context, outlet string, date string, period int) ([]domain.ClosingRecord, error)
}

type ExpenseLedger interface {
	AddExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, outlet string, date string, period int) ([]domain.Expense, error)
}

type DepositLedger interface {
	FindDepositByIdempotency(ctx context.Context, key string) (*domain.Deposit, error)
	CreateDeposit(ctx context.Context, deposit domain.Deposit) (*domain.Deposit, error)
	UpdateDeposit(ctx context.Context, deposit domain.Deposit) (*domain.Deposit, error)
	GetDeposit(ctx context.Context, id string) (*domain.Deposit, error)
	ListDeposits(ctx context.Context, outlet string, date string, period int) ([]domain.Deposit, error)
}

type TillLedger interface {
	AddTillPayment(ctx context.Context, payment domain.TillPayment) (*domain.TillPayment, error)
	// SumTillPayments totals SUCCESS payments with since <= created_at and,
	// when until is non-zero, created_at < until.
	SumTillPayments(ctx context.Context, outlet string, since time.Time, until time.Time) (decimal.Decimal, int, error)
}

type PeriodStore interface {
	GetActivePeriod(ctx context.Context, outlet string) (*domain.ActivePeriod, error)
	SaveActivePeriod(ctx context.Context, period domain.ActivePeriod) error
}

type AccountStore interface {
	GetAttendant(ctx context.Context, code string) (*domain.AttendantAccount, error)
	FindAssistantAssignment(ctx context.Context, code string) (*domain.AssistantAssignment, error)
}

type PerformanceStore interface {
	UpsertOutletPerformance(ctx context.Context, perf domain.OutletPerformance) error
	GetOutletPerformance(ctx context.Context, outlet string, date string) (*domain.OutletPerformance, error)
	UpsertAttendantKPI(ctx context.Context, kpi domain.AttendantKPI) error
	ListAttendantKPIs(ctx context.Context, outlet string, date string) ([]domain.AttendantKPI, error)
	UpsertSupplyStats(ctx context.Context, stats []domain.SupplyStat) error
	ListSupplyStats(ctx context.Context, outlet string, fromDate string, toDate string) ([]domain.SupplyStat, error)
	ReplaceSupplyRecommendations(ctx context.Context, outlet string, date string, recs []domain.SupplyRecommendation) error
	ListSupplyRecommendations(ctx context.Context, outlet string, date string) ([]domain.SupplyRecommendation, error)
	// RecordTradingInterval keeps one interval per outlet and trading date;
	// recording the same date again replaces it.
	RecordTradingInterval(ctx context.Context, interval domain.TradingInterval) error
}

type Repository interface {
	CatalogReader
	StockLedger
	ExpenseLedger
	DepositLedger
	TillLedger
	PeriodStore
	AccountStore
	PerformanceStore
}
