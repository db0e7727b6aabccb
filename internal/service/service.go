package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"outletcash/backend/internal/deposit"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/notify"
	"outletcash/backend/internal/performance"
	"outletcash/backend/internal/period"
	"outletcash/backend/internal/reconcile"
	"outletcash/backend/internal/snapshot"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/till"
	"outletcash/backend/internal/timeutil"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Verifier stays nil when deposits are confirmed manually.
	Verifier deposit.Verifier
	Notifier *notify.Notifier
	Scoped   domain.ScopedOutlets
	Location *time.Location
	Logger   *zap.Logger
	Now      func() time.Time
}

type Service struct {
	repo       store.Repository
	periods    *period.Controller
	deposits   *deposit.Ledger
	till       *till.Aggregator
	calculator *reconcile.Calculator
	recomputer *performance.Recomputer
	logger     *zap.Logger
}

func New(repo store.Repository, snapshots snapshot.Store, opts Options) *Service {
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

	recomputer := performance.NewRecomputer(repo, notifier, opts.Scoped, loc, logger)
	periods := period.NewController(repo, snapshots, period.Options{
		Notifier: notifier,
		DayClose: recomputer,
		Location: loc,
		Logger:   logger,
		Now:      opts.Now,
	})
	tillAgg := till.NewAggregator(repo, loc)

	return &Service{
		repo:    repo,
		periods: periods,
		deposits: deposit.NewLedger(repo, deposit.Options{
			Verifier: opts.Verifier,
			Notifier: notifier,
			Locator:  periods,
			Logger:   logger,
		}),
		till:       tillAgg,
		calculator: reconcile.NewCalculator(repo, tillAgg, periods, snapshots, opts.Scoped),
		recomputer: recomputer,
		logger:     logger.Named("service"),
	}
}

func (s *Service) Metrics(ctx context.Context, q domain.MetricsQuery) (domain.MetricsResponse, error) {
	if err := authorizeOutlet(ctx, q.Outlet); err != nil {
		return domain.MetricsResponse{}, err
	}
	return s.calculator.Metrics(ctx, q)
}

func (s *Service) AddDeposit(ctx context.Context, req domain.DepositRequest) (deposit.Result, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return deposit.Result{}, err
	}
	if err := authorizeOutlet(ctx, req.Outlet); err != nil {
		return deposit.Result{}, err
	}
	if strings.TrimSpace(req.Code) == "" && actor.Role != domain.RoleSupervisor && actor.Role != domain.RoleAdmin {
		req.Code = actor.Code
	}
	return s.deposits.AddDeposit(ctx, req)
}

func (s *Service) SetDepositStatus(ctx context.Context, id string, req domain.DepositStatusRequest) (domain.Deposit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Deposit{}, err
	}
	return s.deposits.SetDepositStatus(ctx, id, req, actor)
}

func (s *Service) ListDeposits(ctx context.Context, outlet string, date string) ([]domain.Deposit, error) {
	if err := authorizeOutlet(ctx, outlet); err != nil {
		return nil, err
	}
	if !timeutil.ValidDate(date) {
		return nil, store.ErrInvalidInput
	}
	return s.deposits.List(ctx, strings.TrimSpace(outlet), date, store.AllPeriods)
}

// SubmitClosings records the stock count. The submitter is always the
// authenticated actor, never the payload.
func (s *Service) SubmitClosings(ctx context.Context, sub domain.ClosingSubmission) (domain.RotationResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.RotationResult{}, err
	}
	if err := authorizeOutlet(ctx, sub.Outlet); err != nil {
		return domain.RotationResult{}, err
	}
	sub.SubmittedBy = actor.Code
	return s.periods.Submit(ctx, sub)
}

func (s *Service) AddSupply(ctx context.Context, req domain.SupplyRequest) ([]domain.SupplyOpeningRow, error) {
	if err := authorizeOutlet(ctx, req.Outlet, domain.RoleSupplier); err != nil {
		return nil, err
	}
	req.Outlet = strings.TrimSpace(req.Outlet)
	if !timeutil.ValidDate(req.Date) || len(req.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, item := range req.Items {
		if item.ItemKey.IsZero() || !item.Qty.IsPositive() || item.BuyPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	}

	ref, err := s.periods.Locate(ctx, req.Outlet, req.Date)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.SupplyOpeningRow, 0, len(req.Items))
	for _, item := range req.Items {
		rows = append(rows, domain.SupplyOpeningRow{
			Date:     ref.Date,
			Outlet:   req.Outlet,
			Period:   ref.Period,
			ItemKey:  domain.ProductKey(item.ItemKey.String()),
			Qty:      item.Qty,
			Unit:     strings.TrimSpace(item.Unit),
			BuyPrice: item.BuyPrice,
		})
	}
	if err := s.repo.AddSupplyRows(ctx, rows); err != nil {
		return nil, fmt.Errorf("add supply: %w", err)
	}
	return rows, nil
}

func (s *Service) AddExpense(ctx context.Context, req domain.ExpenseRequest) (domain.Expense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}
	if err := authorizeOutlet(ctx, req.Outlet); err != nil {
		return domain.Expense{}, err
	}
	req.Outlet = strings.TrimSpace(req.Outlet)
	req.Name = strings.TrimSpace(req.Name)
	if !timeutil.ValidDate(req.Date) || req.Name == "" || !req.Amount.IsPositive() {
		return domain.Expense{}, store.ErrInvalidInput
	}

	ref, err := s.periods.Locate(ctx, req.Outlet, req.Date)
	if err != nil {
		return domain.Expense{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = actor.Code
	}
	created, err := s.repo.AddExpense(ctx, domain.Expense{
		Date:   ref.Date,
		Outlet: req.Outlet,
		Period: ref.Period,
		Name:   req.Name,
		Amount: req.Amount,
		Code:   code,
	})
	if err != nil {
		return domain.Expense{}, fmt.Errorf("add expense: %w", err)
	}
	return *created, nil
}

func (s *Service) RecordTillPayment(ctx context.Context, req domain.TillPaymentRequest) (domain.TillPayment, error) {
	if err := authorizeOutlet(ctx, req.Outlet); err != nil {
		return domain.TillPayment{}, err
	}
	return s.till.Record(ctx, req)
}

func (s *Service) GetSnapshot(ctx context.Context, date string, outlet string, closeIndex int) (snapshot.Record, error) {
	if err := authorizeOutlet(ctx, outlet); err != nil {
		return snapshot.Record{}, err
	}
	if !timeutil.ValidDate(date) || (closeIndex != 1 && closeIndex != 2) {
		return snapshot.Record{}, store.ErrInvalidInput
	}
	return s.periods.Snapshots().Get(ctx, date, strings.TrimSpace(outlet), closeIndex)
}

func (s *Service) PeriodState(ctx context.Context, outlet string, date string) (domain.PeriodStatus, error) {
	if err := authorizeOutlet(ctx, outlet); err != nil {
		return domain.PeriodStatus{}, err
	}
	outlet = strings.TrimSpace(outlet)
	if !timeutil.ValidDate(date) {
		return domain.PeriodStatus{}, store.ErrInvalidInput
	}
	state, err := s.periods.State(ctx, outlet, date)
	if err != nil {
		return domain.PeriodStatus{}, err
	}
	active, err := s.periods.Active(ctx, outlet, date)
	if err != nil {
		return domain.PeriodStatus{}, err
	}
	return domain.PeriodStatus{
		Outlet:        outlet,
		Date:          date,
		State:         state,
		TradingDate:   active.TradingDate,
		Period:        active.Period,
		PeriodStartAt: active.PeriodStartAt,
	}, nil
}

// Recompute reruns the day-close pipeline for a fully closed date.
func (s *Service) Recompute(ctx context.Context, outlet string, date string) (domain.RecomputeResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSupervisor {
		return domain.RecomputeResult{}, store.ErrForbidden
	}
	outlet = strings.TrimSpace(outlet)
	if outlet == "" || !timeutil.ValidDate(date) {
		return domain.RecomputeResult{}, store.ErrInvalidInput
	}

	rec, err := s.periods.Snapshots().Get(ctx, date, outlet, 2)
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	report := s.recomputer.Run(ctx, period.DayClose{
		Outlet:        outlet,
		Date:          date,
		Record:        rec,
		PeriodStartAt: rec.PeriodStartAt,
		ClosedAt:      rec.CreatedAt,
	})

	result := domain.RecomputeResult{Outlet: outlet, Date: date, Aborted: report.Aborted}
	for _, stage := range report.Stages {
		item := domain.RecomputeStage{Name: stage.Name, Skipped: stage.Skipped}
		if stage.Err != nil {
			item.Error = stage.Err.Error()
		}
		result.Stages = append(result.Stages, item)
	}
	s.logger.Info("day-close recompute requested",
		zap.String("outlet", outlet), zap.String("date", date), zap.String("by", actor.Code))
	return result, nil
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Code == "" {
		return domain.Actor{}, store.ErrForbidden
	}
	return actor, nil
}

// authorizeOutlet lets supervisors and admins act on any outlet. Everyone
// else is bound to the outlet on their account unless listed in extra.
func authorizeOutlet(ctx context.Context, outlet string, extra ...string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	switch actor.Role {
	case domain.RoleSupervisor, domain.RoleAdmin:
		return nil
	}
	for _, role := range extra {
		if actor.Role == role {
			return nil
		}
	}
	if !strings.EqualFold(strings.TrimSpace(actor.Outlet), strings.TrimSpace(outlet)) {
		return errors.Join(store.ErrForbidden, fmt.Errorf("outlet %q is not assigned to %s", outlet, actor.Code))
	}
	return nil
}
