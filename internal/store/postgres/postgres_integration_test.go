package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/config"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	databaseURL := os.Getenv("OUTLETCASH_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OUTLETCASH_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	caps, err := s.DetectCapabilities(ctx)
	if err != nil {
		t.Fatalf("detect capabilities: %v", err)
	}
	if caps != config.AllCapabilities() {
		t.Fatalf("fresh schema should report every capability, got %+v", caps)
	}
	return s, config.WithCapabilities(ctx, caps)
}

func TestDepositIdempotencyKeyConflicts(t *testing.T) {
	s, ctx := newIntegrationStore(t)

	stamp := time.Now().UnixNano()
	outlet := fmt.Sprintf("IT-Outlet-%d", stamp)
	key := fmt.Sprintf("idem-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM deposits WHERE outlet = $1`, outlet)
	})

	dep := domain.Deposit{
		Date:           "2026-03-14",
		Outlet:         outlet,
		Period:         1,
		Amount:         decimal.NewFromInt(2500),
		Status:         domain.DepositPending,
		IdempotencyKey: key,
	}
	created, err := s.CreateDeposit(ctx, dep)
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if _, err := s.CreateDeposit(ctx, dep); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on repeated key, got %v", err)
	}

	found, err := s.FindDepositByIdempotency(ctx, key)
	if err != nil {
		t.Fatalf("find deposit: %v", err)
	}
	if found.ID != created.ID || found.Date != "2026-03-14" || !found.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("unexpected stored deposit: %+v", found)
	}

	found.Status = domain.DepositValid
	found.VerifyPayload = `{"ref":"QAB12CD34E"}`
	updated, err := s.UpdateDeposit(ctx, *found)
	if err != nil {
		t.Fatalf("update deposit: %v", err)
	}
	if updated.Status != domain.DepositValid || updated.VerifyPayload == "" {
		t.Fatalf("update not persisted: %+v", updated)
	}
}

func TestClosingsAllPeriodsMergeKeepsLatestClosing(t *testing.T) {
	s, ctx := newIntegrationStore(t)

	outlet := fmt.Sprintf("IT-Outlet-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM closings WHERE outlet = $1`, outlet)
	})

	rows := []domain.ClosingRecord{
		{Date: "2026-03-14", Outlet: outlet, Period: 1, ItemKey: "Beef", ClosingQty: decimal.NewFromInt(8), WasteQty: decimal.NewFromInt(1)},
		{Date: "2026-03-14", Outlet: outlet, Period: 2, ItemKey: "beef", ClosingQty: decimal.NewFromInt(3), WasteQty: decimal.NewFromInt(2)},
	}
	if err := s.UpsertClosings(ctx, rows); err != nil {
		t.Fatalf("upsert closings: %v", err)
	}

	merged, err := s.ListClosings(ctx, outlet, "2026-03-14", store.AllPeriods)
	if err != nil {
		t.Fatalf("list closings: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected one merged row, got %d", len(merged))
	}
	if !merged[0].ClosingQty.Equal(decimal.NewFromInt(3)) || !merged[0].WasteQty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected merge: %+v", merged[0])
	}

	first, err := s.ListClosings(ctx, outlet, "2026-03-14", 1)
	if err != nil {
		t.Fatalf("list period 1: %v", err)
	}
	if len(first) != 1 || !first[0].ClosingQty.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("period filter broken: %+v", first)
	}
}

func TestTradingIntervalIsReplacedPerDate(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	outlet := fmt.Sprintf("IT-Outlet-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM trading_intervals WHERE outlet = $1`, outlet)
	})

	closedAt := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)
	for _, startedAt := range []time.Time{
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 13, 21, 30, 0, 0, time.UTC),
	} {
		interval := domain.TradingInterval{Outlet: outlet, Date: "2026-03-14", StartedAt: startedAt, ClosedAt: closedAt}
		if err := s.RecordTradingInterval(ctx, interval); err != nil {
			t.Fatalf("record interval: %v", err)
		}
	}

	var count int
	var startedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), max(started_at) FROM trading_intervals WHERE lower(outlet) = lower($1) AND date = $2`,
		outlet, "2026-03-14").Scan(&count, &startedAt)
	if err != nil {
		t.Fatalf("count intervals: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one interval per date, got %d", count)
	}
	if !startedAt.Equal(time.Date(2026, 3, 13, 21, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected the later write to win, got %s", startedAt)
	}
}
