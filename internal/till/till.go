package till

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

type Repository interface {
	store.TillLedger
	store.PeriodStore
}

type Window struct {
	Gross decimal.Decimal `json:"gross"`
	Count int             `json:"count"`
	Since time.Time       `json:"since"`
	Until time.Time       `json:"until,omitempty"`
}

// Aggregator sums SUCCESS till payments for an outlet.
type Aggregator struct {
	repo Repository
	loc  *time.Location
}

func NewAggregator(repo Repository, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = timeutil.LoadLocation("")
	}
	return &Aggregator{repo: repo, loc: loc}
}

func (a *Aggregator) Record(ctx context.Context, req domain.TillPaymentRequest) (domain.TillPayment, error) {
	req.Outlet = strings.TrimSpace(req.Outlet)
	if req.Outlet == "" || !req.Amount.IsPositive() {
		return domain.TillPayment{}, store.ErrInvalidInput
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.TillStatusSuccess
	}

	created, err := a.repo.AddTillPayment(ctx, domain.TillPayment{
		Outlet:    req.Outlet,
		Amount:    req.Amount,
		Status:    status,
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		return domain.TillPayment{}, fmt.Errorf("add till payment: %w", err)
	}
	return *created, nil
}

// PeriodStart is the lower bound of the current till window: the last
// end-of-day rotation, or local midnight of date before any rotation.
func (a *Aggregator) PeriodStart(ctx context.Context, outlet string, date string) (time.Time, error) {
	active, err := a.repo.GetActivePeriod(ctx, outlet)
	switch {
	case err == nil && !active.PeriodStartAt.IsZero():
		return active.PeriodStartAt, nil
	case err == nil, errors.Is(err, store.ErrNotFound):
		return timeutil.StartOfDay(date, a.loc), nil
	default:
		return time.Time{}, fmt.Errorf("get active period: %w", err)
	}
}

// Gross sums payments received since the current period started.
func (a *Aggregator) Gross(ctx context.Context, outlet string, date string) (Window, error) {
	since, err := a.PeriodStart(ctx, outlet, date)
	if err != nil {
		return Window{}, err
	}
	total, count, err := a.repo.SumTillPayments(ctx, outlet, since, time.Time{})
	if err != nil {
		return Window{}, fmt.Errorf("sum till payments: %w", err)
	}
	return Window{Gross: total, Count: count, Since: since}, nil
}

// Today sums payments on the calendar day of date regardless of rotations.
func (a *Aggregator) Today(ctx context.Context, outlet string, date string) (Window, error) {
	since := timeutil.StartOfDay(date, a.loc)
	until := timeutil.StartOfDay(timeutil.NextDay(date), a.loc)
	total, count, err := a.repo.SumTillPayments(ctx, outlet, since, until)
	if err != nil {
		return Window{}, fmt.Errorf("sum till payments: %w", err)
	}
	return Window{Gross: total, Count: count, Since: since, Until: until}, nil
}
