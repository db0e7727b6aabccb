package deposit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/metrics"
	"outletcash/backend/internal/notify"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

const maxSummaryLen = 120

type Repository interface {
	store.DepositLedger
	store.CatalogReader
}

// Locator maps a calendar date to the live ledger that currently accepts
// writes for it.
type Locator interface {
	Locate(ctx context.Context, outlet string, date string) (domain.LedgerRef, error)
}

type Options struct {
	// Verifier is nil when verification is disabled.
	Verifier Verifier
	Notifier *notify.Notifier
	Locator  Locator
	Logger   *zap.Logger
}

type Ledger struct {
	repo     Repository
	verifier Verifier
	notifier *notify.Notifier
	locator  Locator
	logger   *zap.Logger
}

type Result struct {
	Deposit   domain.Deposit `json:"deposit"`
	Duplicate bool           `json:"duplicate"`
}

func NewLedger(repo Repository, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewNotifier(nil, logger)
	}
	return &Ledger{
		repo:     repo,
		verifier: opts.Verifier,
		notifier: notifier,
		locator:  opts.Locator,
		logger:   logger.Named("deposit"),
	}
}

// IdempotencyKey identifies a deposit submission. The note is hashed as
// submitted so a later verification summary does not change the key.
func IdempotencyKey(date string, outlet string, amount decimal.Decimal, note string) string {
	raw := strings.Join([]string{
		strings.TrimSpace(date),
		strings.ToLower(strings.TrimSpace(outlet)),
		amount.StringFixed(2),
		strings.TrimSpace(note),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (l *Ledger) AddDeposit(ctx context.Context, req domain.DepositRequest) (Result, error) {
	req.Outlet = strings.TrimSpace(req.Outlet)
	req.Note = strings.TrimSpace(req.Note)
	req.Code = strings.TrimSpace(req.Code)
	if req.Outlet == "" || !timeutil.ValidDate(req.Date) || !req.Amount.IsPositive() {
		return Result{}, store.ErrInvalidInput
	}

	key := IdempotencyKey(req.Date, req.Outlet, req.Amount, req.Note)
	existing, err := l.repo.FindDepositByIdempotency(ctx, key)
	switch {
	case err == nil:
		metrics.DepositsTotal.WithLabelValues("duplicate").Inc()
		return Result{Deposit: l.tryVerify(ctx, *existing), Duplicate: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, fmt.Errorf("find deposit: %w", err)
	}

	ledger := domain.LedgerRef{Date: req.Date, Period: 1}
	if l.locator != nil {
		ledger, err = l.locator.Locate(ctx, req.Outlet, req.Date)
		if err != nil {
			return Result{}, fmt.Errorf("locate ledger: %w", err)
		}
	}

	created, err := l.repo.CreateDeposit(ctx, domain.Deposit{
		Date:           ledger.Date,
		Outlet:         req.Outlet,
		Period:         ledger.Period,
		Amount:         req.Amount,
		Note:           req.Note,
		Code:           req.Code,
		Status:         domain.DepositPending,
		IdempotencyKey: key,
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with an identical submission.
		existing, findErr := l.repo.FindDepositByIdempotency(ctx, key)
		if findErr != nil {
			return Result{}, fmt.Errorf("find deposit after conflict: %w", findErr)
		}
		metrics.DepositsTotal.WithLabelValues("duplicate").Inc()
		return Result{Deposit: *existing, Duplicate: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("create deposit: %w", err)
	}
	metrics.DepositsTotal.WithLabelValues("created").Inc()

	return Result{Deposit: l.tryVerify(ctx, *created)}, nil
}

// tryVerify never fails the caller: on any problem the deposit is returned
// unchanged and stays PENDING.
func (l *Ledger) tryVerify(ctx context.Context, dep domain.Deposit) domain.Deposit {
	if l.verifier == nil || dep.Status != domain.DepositPending {
		return dep
	}

	parsed := ParseMpesaText(dep.Note)
	if parsed == nil {
		l.logger.Debug("deposit note has no reference", zap.String("deposit_id", dep.ID))
		return dep
	}

	result, err := l.verifier.Verify(ctx, VerifyRequest{
		Ref:    parsed.Ref,
		Amount: dep.Amount,
		Outlet: dep.Outlet,
		Date:   dep.Date,
	})
	if err != nil {
		l.logger.Warn("deposit verification failed",
			zap.String("deposit_id", dep.ID), zap.String("outlet", dep.Outlet), zap.Error(err))
		return dep
	}
	if !result.Verified {
		return dep
	}

	verified := dep
	verified.Status = domain.DepositValid
	verified.Note = appendSummary(dep.Note, verificationSummary(parsed, result))
	verified.VerifyPayload = string(result.Raw)
	updated, err := l.repo.UpdateDeposit(ctx, verified)
	if err != nil {
		l.logger.Warn("store verified deposit failed", zap.String("deposit_id", dep.ID), zap.Error(err))
		return dep
	}
	metrics.DepositsTotal.WithLabelValues("verified").Inc()

	l.notifyVerified(ctx, *updated, parsed.Ref)
	return *updated
}

func (l *Ledger) notifyVerified(ctx context.Context, dep domain.Deposit, ref string) {
	outlet, err := l.repo.GetOutlet(ctx, dep.Outlet)
	if err != nil {
		l.logger.Warn("load outlet for notification failed", zap.String("outlet", dep.Outlet), zap.Error(err))
		return
	}
	phones := append([]string{}, outlet.AttendantPhones...)
	phones = append(phones, outlet.SupplierPhone)
	l.notifier.Text(phones, fmt.Sprintf("Deposit of KES %s for %s on %s verified (ref %s).",
		dep.Amount.StringFixed(2), dep.Outlet, dep.Date, ref))
}

// SetDepositStatus is the manual override and the only path to INVALID.
func (l *Ledger) SetDepositStatus(ctx context.Context, id string, req domain.DepositStatusRequest, actor domain.Actor) (domain.Deposit, error) {
	if actor.Role != domain.RoleSupervisor && actor.Role != domain.RoleAdmin {
		return domain.Deposit{}, store.ErrForbidden
	}
	if !req.Status.Valid() {
		return domain.Deposit{}, store.ErrInvalidInput
	}

	dep, err := l.repo.GetDeposit(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Deposit{}, err
	}
	if dep.Status == req.Status {
		return *dep, nil
	}

	dep.Status = req.Status
	summary := fmt.Sprintf("%s by %s", req.Status, actor.Code)
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		summary += ": " + reason
	}
	dep.Note = appendSummary(dep.Note, summary)

	updated, err := l.repo.UpdateDeposit(ctx, *dep)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("update deposit status: %w", err)
	}
	l.logger.Info("deposit status overridden",
		zap.String("deposit_id", updated.ID), zap.String("status", string(updated.Status)), zap.String("actor", actor.Code))
	return *updated, nil
}

func (l *Ledger) List(ctx context.Context, outlet string, date string, period int) ([]domain.Deposit, error) {
	return l.repo.ListDeposits(ctx, outlet, date, period)
}

// VerifiedSum counts every deposit not marked INVALID. PENDING deposits are
// included.
func (l *Ledger) VerifiedSum(ctx context.Context, outlet string, date string, period int) (decimal.Decimal, error) {
	deposits, err := l.repo.ListDeposits(ctx, outlet, date, period)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list deposits: %w", err)
	}
	return SumVerified(deposits), nil
}

func SumVerified(deposits []domain.Deposit) decimal.Decimal {
	total := decimal.Zero
	for _, dep := range deposits {
		if dep.Status != domain.DepositInvalid {
			total = total.Add(dep.Amount)
		}
	}
	return total
}

// SumVerifiedByCode is SumVerified restricted to deposits recorded by code.
func SumVerifiedByCode(deposits []domain.Deposit, code string) decimal.Decimal {
	total := decimal.Zero
	for _, dep := range deposits {
		if dep.Status != domain.DepositInvalid && strings.EqualFold(dep.Code, code) {
			total = total.Add(dep.Amount)
		}
	}
	return total
}

func verificationSummary(parsed *MpesaMessage, result Verification) string {
	summary := fmt.Sprintf("verified ref=%s amount=%s", parsed.Ref, parsed.Amount.StringFixed(2))
	if result.Payer != "" {
		summary += " payer=" + result.Payer
	}
	summary += " at=" + time.Now().UTC().Format(time.RFC3339)
	return summary
}

func appendSummary(note string, summary string) string {
	if len(summary) > maxSummaryLen {
		cut := maxSummaryLen
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	if note == "" {
		return "[" + summary + "]"
	}
	return note + " [" + summary + "]"
}
