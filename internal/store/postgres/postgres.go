package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"outletcash/backend/internal/config"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the bundled schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DetectCapabilities checks once for columns added after the first schema
// version. Older databases keep working through the fallback reads.
func (s *Store) DetectCapabilities(ctx context.Context) (config.Capabilities, error) {
	var caps config.Capabilities
	var err error
	if caps.ClosingWasteColumn, err = s.hasColumn(ctx, "closings", "waste_qty"); err != nil {
		return caps, err
	}
	if caps.DepositVerifyPayload, err = s.hasColumn(ctx, "deposits", "verify_payload"); err != nil {
		return caps, err
	}
	return caps, nil
}

func (s *Store) hasColumn(ctx context.Context, table string, column string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	return exists, nil
}

func (s *Store) GetOutlet(ctx context.Context, name string) (*domain.Outlet, error) {
	var outlet domain.Outlet
	var phones []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT name, scoped, attendant_phones, supplier_phone, commission_rate
		FROM outlets
		WHERE lower(name) = lower($1)
	`, strings.TrimSpace(name)).Scan(&outlet.Name, &outlet.Scoped, &phones, &outlet.SupplierPhone, &outlet.CommissionRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(phones) > 0 {
		if err := json.Unmarshal(phones, &outlet.AttendantPhones); err != nil {
			return nil, fmt.Errorf("decode attendant phones: %w", err)
		}
	}
	return &outlet, nil
}

func (s *Store) ListPriceBook(ctx context.Context, outlet string) ([]domain.PriceBookEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outlet, item_key, sell_price, active
		FROM price_book
		WHERE lower(outlet) = lower($1)
		ORDER BY lower(item_key)
	`, outlet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PriceBookEntry, 0, 32)
	for rows.Next() {
		var e domain.PriceBookEntry
		var key string
		if err := rows.Scan(&e.Outlet, &key, &e.SellPrice, &e.Active); err != nil {
			return nil, err
		}
		e.ItemKey = domain.ProductKey(key)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListCatalog(ctx context.Context) ([]domain.ProductCatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, name, unit, sell_price, active
		FROM products
		ORDER BY lower(key)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ProductCatalogEntry, 0, 64)
	for rows.Next() {
		var e domain.ProductCatalogEntry
		var key string
		if err := rows.Scan(&key, &e.Name, &e.Unit, &e.SellPrice, &e.Active); err != nil {
			return nil, err
		}
		e.Key = domain.ProductKey(key)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetAttendant(ctx context.Context, code string) (*domain.AttendantAccount, error) {
	code = strings.TrimSpace(code)
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, outlet, role, phone, pin_hash, active, created_at
		FROM attendants
		WHERE lower(code) = lower($1)
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []domain.AttendantAccount
	for rows.Next() {
		var a domain.AttendantAccount
		if err := rows.Scan(&a.Code, &a.Name, &a.Outlet, &a.Role, &a.Phone, &a.PINHash, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		found = append(found, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return &found[0], nil
	default:
		return nil, &store.AmbiguousCodeError{Code: code, Matches: len(found)}
	}
}

func (s *Store) FindAssistantAssignment(ctx context.Context, code string) (*domain.AssistantAssignment, error) {
	code = strings.TrimSpace(code)
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, outlet, product_keys
		FROM assistant_assignments
		WHERE lower(code) = lower($1)
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []domain.AssistantAssignment
	for rows.Next() {
		var a domain.AssistantAssignment
		var keys []byte
		if err := rows.Scan(&a.Code, &a.Outlet, &keys); err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			if err := json.Unmarshal(keys, &a.ProductKeys); err != nil {
				return nil, fmt.Errorf("decode product keys: %w", err)
			}
		}
		found = append(found, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return &found[0], nil
	default:
		return nil, &store.AmbiguousCodeError{Code: code, Matches: len(found)}
	}
}

func (s *Store) AddSupplyRows(ctx context.Context, rows []domain.SupplyOpeningRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if row.ItemKey.IsZero() || row.Date == "" || row.Outlet == "" || row.Period < 1 {
			return store.ErrInvalidInput
		}
		if row.ID == "" {
			row.ID = xid.New("sup")
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supply_rows (id, date, outlet, period, item_key, qty, unit, buy_price, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, row.ID, row.Date, row.Outlet, row.Period, row.ItemKey.String(), row.Qty, row.Unit, row.BuyPrice, row.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListSupplyRows(ctx context.Context, outlet string, date string, period int) ([]domain.SupplyOpeningRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, to_char(date, 'YYYY-MM-DD'), outlet, period, item_key, qty, unit, buy_price, created_at
		FROM supply_rows
		WHERE lower(outlet) = lower($1) AND date = $2 AND ($3 = 0 OR period = $3)
		ORDER BY created_at, id
	`, outlet, date, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SupplyOpeningRow, 0, 16)
	for rows.Next() {
		var r domain.SupplyOpeningRow
		var key string
		if err := rows.Scan(&r.ID, &r.Date, &r.Outlet, &r.Period, &key, &r.Qty, &r.Unit, &r.BuyPrice, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ItemKey = domain.ProductKey(key)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceOpeningSeed(ctx context.Context, outlet string, date string, period int, seeds []domain.OpeningSeed) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM opening_seeds WHERE lower(outlet) = lower($1) AND date = $2 AND period = $3
	`, outlet, date, period); err != nil {
		return err
	}
	for _, seed := range seeds {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO opening_seeds (date, outlet, period, item_key, qty)
			VALUES ($1,$2,$3,$4,$5)
		`, date, outlet, period, seed.ItemKey.String(), seed.Qty); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListOpeningSeed(ctx context.Context, outlet string, date string, period int) ([]domain.OpeningSeed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), outlet, period, item_key, qty
		FROM opening_seeds
		WHERE lower(outlet) = lower($1) AND date = $2 AND period = $3
		ORDER BY lower(item_key)
	`, outlet, date, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.OpeningSeed, 0, 16)
	for rows.Next() {
		var seed domain.OpeningSeed
		var key string
		if err := rows.Scan(&seed.Date, &seed.Outlet, &seed.Period, &key, &seed.Qty); err != nil {
			return nil, err
		}
		seed.ItemKey = domain.ProductKey(key)
		out = append(out, seed)
	}
	return out, rows.Err()
}

// UpsertClosings writes without waste_qty when the column is missing; the
// waste is then lost rather than failing the stock count.
func (s *Store) UpsertClosings(ctx context.Context, rows []domain.ClosingRecord) error {
	caps := config.CapabilitiesFrom(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if row.ItemKey.IsZero() || row.Date == "" || row.Outlet == "" || row.Period < 1 {
			return store.ErrInvalidInput
		}
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = time.Now().UTC()
		}
		if caps.ClosingWasteColumn {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO closings (date, outlet, period, item_key, closing_qty, waste_qty, submitted_by, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (date, (lower(outlet)), period, (lower(item_key)))
				DO UPDATE SET closing_qty = EXCLUDED.closing_qty, waste_qty = EXCLUDED.waste_qty,
					submitted_by = EXCLUDED.submitted_by, updated_at = EXCLUDED.updated_at
			`, row.Date, row.Outlet, row.Period, row.ItemKey.String(), row.ClosingQty, row.WasteQty, row.SubmittedBy, row.UpdatedAt)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO closings (date, outlet, period, item_key, closing_qty, submitted_by, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (date, (lower(outlet)), period, (lower(item_key)))
				DO UPDATE SET closing_qty = EXCLUDED.closing_qty,
					submitted_by = EXCLUDED.submitted_by, updated_at = EXCLUDED.updated_at
			`, row.Date, row.Outlet, row.Period, row.ItemKey.String(), row.ClosingQty, row.SubmittedBy, row.UpdatedAt)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListClosings with store.AllPeriods keeps the highest period's row per item
// and sums waste across periods.
func (s *Store) ListClosings(ctx context.Context, outlet string, date string, period int) ([]domain.ClosingRecord, error) {
	waste := "waste_qty"
	if !config.CapabilitiesFrom(ctx).ClosingWasteColumn {
		waste = "0::numeric"
	}

	var query string
	args := []any{outlet, date}
	if period == store.AllPeriods {
		query = fmt.Sprintf(`
			SELECT DISTINCT ON (lower(item_key))
				to_char(date, 'YYYY-MM-DD'), outlet, period, item_key, closing_qty,
				SUM(%s) OVER (PARTITION BY lower(item_key)), submitted_by, updated_at
			FROM closings
			WHERE lower(outlet) = lower($1) AND date = $2
			ORDER BY lower(item_key), period DESC
		`, waste)
	} else {
		query = fmt.Sprintf(`
			SELECT to_char(date, 'YYYY-MM-DD'), outlet, period, item_key, closing_qty, %s, submitted_by, updated_at
			FROM closings
			WHERE lower(outlet) = lower($1) AND date = $2 AND period = $3
			ORDER BY lower(item_key)
		`, waste)
		args = append(args, period)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ClosingRecord, 0, 16)
	for rows.Next() {
		var c domain.ClosingRecord
		var key string
		if err := rows.Scan(&c.Date, &c.Outlet, &c.Period, &key, &c.ClosingQty, &c.WasteQty, &c.SubmittedBy, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.ItemKey = domain.ProductKey(key)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AddExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.Date == "" || expense.Outlet == "" || strings.TrimSpace(expense.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, date, outlet, period, name, amount, code, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, expense.ID, expense.Date, expense.Outlet, expense.Period, expense.Name, expense.Amount, expense.Code, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, outlet string, date string, period int) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, to_char(date, 'YYYY-MM-DD'), outlet, period, name, amount, code, created_at
		FROM expenses
		WHERE lower(outlet) = lower($1) AND date = $2 AND ($3 = 0 OR period = $3)
		ORDER BY created_at, id
	`, outlet, date, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Expense, 0, 8)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Date, &e.Outlet, &e.Period, &e.Name, &e.Amount, &e.Code, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) depositColumns(ctx context.Context) string {
	payload := "verify_payload"
	if !config.CapabilitiesFrom(ctx).DepositVerifyPayload {
		payload = "''"
	}
	return "id, to_char(date, 'YYYY-MM-DD'), outlet, period, amount, note, code, status, " + payload + ", idempotency_key, created_at, updated_at"
}

func scanDeposit(row interface{ Scan(dest ...any) error }) (*domain.Deposit, error) {
	var d domain.Deposit
	var status string
	if err := row.Scan(&d.ID, &d.Date, &d.Outlet, &d.Period, &d.Amount, &d.Note, &d.Code, &status,
		&d.VerifyPayload, &d.IdempotencyKey, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = domain.DepositStatus(status)
	return &d, nil
}

func (s *Store) FindDepositByIdempotency(ctx context.Context, key string) (*domain.Deposit, error) {
	return s.findDeposit(ctx, "idempotency_key", key)
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	return s.findDeposit(ctx, "id", id)
}

func (s *Store) findDeposit(ctx context.Context, column string, value string) (*domain.Deposit, error) {
	query := fmt.Sprintf(`SELECT %s FROM deposits WHERE %s = $1`, s.depositColumns(ctx), column)
	dep, err := scanDeposit(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return dep, nil
}

func (s *Store) CreateDeposit(ctx context.Context, deposit domain.Deposit) (*domain.Deposit, error) {
	if deposit.IdempotencyKey == "" || deposit.Date == "" || deposit.Outlet == "" {
		return nil, store.ErrInvalidInput
	}
	if deposit.ID == "" {
		deposit.ID = xid.New("dep")
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}
	deposit.UpdatedAt = deposit.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposits (id, date, outlet, period, amount, note, code, status, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, deposit.ID, deposit.Date, deposit.Outlet, deposit.Period, deposit.Amount, deposit.Note, deposit.Code,
		string(deposit.Status), deposit.IdempotencyKey, deposit.CreatedAt, deposit.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := deposit
	return &created, nil
}

// UpdateDeposit changes status, note and, when the column exists, the
// verification payload. Amount and keys never change after creation.
func (s *Store) UpdateDeposit(ctx context.Context, deposit domain.Deposit) (*domain.Deposit, error) {
	var res sql.Result
	var err error
	if config.CapabilitiesFrom(ctx).DepositVerifyPayload {
		res, err = s.db.ExecContext(ctx, `
			UPDATE deposits SET status = $2, note = $3, verify_payload = $4, updated_at = now()
			WHERE id = $1
		`, deposit.ID, string(deposit.Status), deposit.Note, deposit.VerifyPayload)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE deposits SET status = $2, note = $3, updated_at = now()
			WHERE id = $1
		`, deposit.ID, string(deposit.Status), deposit.Note)
	}
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetDeposit(ctx, deposit.ID)
}

func (s *Store) ListDeposits(ctx context.Context, outlet string, date string, period int) ([]domain.Deposit, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM deposits
		WHERE lower(outlet) = lower($1) AND date = $2 AND ($3 = 0 OR period = $3)
		ORDER BY created_at, id
	`, s.depositColumns(ctx))
	rows, err := s.db.QueryContext(ctx, query, outlet, date, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Deposit, 0, 8)
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dep)
	}
	return out, rows.Err()
}

func (s *Store) AddTillPayment(ctx context.Context, payment domain.TillPayment) (*domain.TillPayment, error) {
	if payment.Outlet == "" {
		return nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("till")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO till_payments (id, outlet, amount, status, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.ID, payment.Outlet, payment.Amount, payment.Status, payment.Reference, payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := payment
	return &created, nil
}

func (s *Store) SumTillPayments(ctx context.Context, outlet string, since time.Time, until time.Time) (decimal.Decimal, int, error) {
	var total decimal.Decimal
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM till_payments
		WHERE lower(outlet) = lower($1) AND status = $2 AND created_at >= $3
			AND ($4::timestamptz IS NULL OR created_at < $4)
	`, outlet, domain.TillStatusSuccess, since, nullTime(until)).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}

func (s *Store) GetActivePeriod(ctx context.Context, outlet string) (*domain.ActivePeriod, error) {
	var p domain.ActivePeriod
	var startAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT outlet, to_char(trading_date, 'YYYY-MM-DD'), period, period_start_at, updated_at
		FROM active_periods
		WHERE lower(outlet) = lower($1)
	`, outlet).Scan(&p.Outlet, &p.TradingDate, &p.Period, &startAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if startAt.Valid {
		p.PeriodStartAt = startAt.Time
	}
	return &p, nil
}

func (s *Store) SaveActivePeriod(ctx context.Context, p domain.ActivePeriod) error {
	if p.Outlet == "" || p.TradingDate == "" || p.Period < 1 {
		return store.ErrInvalidInput
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_periods (outlet, trading_date, period, period_start_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT ((lower(outlet)))
		DO UPDATE SET trading_date = EXCLUDED.trading_date, period = EXCLUDED.period,
			period_start_at = EXCLUDED.period_start_at, updated_at = EXCLUDED.updated_at
	`, p.Outlet, p.TradingDate, p.Period, nullTime(p.PeriodStartAt), p.UpdatedAt)
	return err
}

func (s *Store) UpsertOutletPerformance(ctx context.Context, perf domain.OutletPerformance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outlet_performance (date, outlet, sales, expenses, deposits, till_gross, outstanding, commissions, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (date, (lower(outlet)))
		DO UPDATE SET sales = EXCLUDED.sales, expenses = EXCLUDED.expenses, deposits = EXCLUDED.deposits,
			till_gross = EXCLUDED.till_gross, outstanding = EXCLUDED.outstanding,
			commissions = EXCLUDED.commissions, updated_at = EXCLUDED.updated_at
	`, perf.Date, perf.Outlet, perf.Sales, perf.Expenses, perf.Deposits, perf.TillGross, perf.Outstanding, perf.Commissions, nowIfZero(perf.UpdatedAt))
	return err
}

func (s *Store) GetOutletPerformance(ctx context.Context, outlet string, date string) (*domain.OutletPerformance, error) {
	var p domain.OutletPerformance
	err := s.db.QueryRowContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), outlet, sales, expenses, deposits, till_gross, outstanding, commissions, updated_at
		FROM outlet_performance
		WHERE lower(outlet) = lower($1) AND date = $2
	`, outlet, date).Scan(&p.Date, &p.Outlet, &p.Sales, &p.Expenses, &p.Deposits, &p.TillGross, &p.Outstanding, &p.Commissions, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertAttendantKPI(ctx context.Context, kpi domain.AttendantKPI) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendant_kpis (date, outlet, code, deposited, deposits, commission, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (date, (lower(outlet)), (lower(code)))
		DO UPDATE SET deposited = EXCLUDED.deposited, deposits = EXCLUDED.deposits,
			commission = EXCLUDED.commission, updated_at = EXCLUDED.updated_at
	`, kpi.Date, kpi.Outlet, kpi.Code, kpi.Deposited, kpi.Deposits, kpi.Commission, nowIfZero(kpi.UpdatedAt))
	return err
}

func (s *Store) ListAttendantKPIs(ctx context.Context, outlet string, date string) ([]domain.AttendantKPI, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), outlet, code, deposited, deposits, commission, updated_at
		FROM attendant_kpis
		WHERE lower(outlet) = lower($1) AND date = $2
		ORDER BY code
	`, outlet, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AttendantKPI, 0, 8)
	for rows.Next() {
		var k domain.AttendantKPI
		if err := rows.Scan(&k.Date, &k.Outlet, &k.Code, &k.Deposited, &k.Deposits, &k.Commission, &k.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSupplyStats(ctx context.Context, stats []domain.SupplyStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stat := range stats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supply_stats (date, outlet, item_key, sold, waste, closing)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (date, (lower(outlet)), (lower(item_key)))
			DO UPDATE SET sold = EXCLUDED.sold, waste = EXCLUDED.waste, closing = EXCLUDED.closing
		`, stat.Date, stat.Outlet, stat.ItemKey.String(), stat.Sold, stat.Waste, stat.Closing); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListSupplyStats(ctx context.Context, outlet string, fromDate string, toDate string) ([]domain.SupplyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), outlet, item_key, sold, waste, closing
		FROM supply_stats
		WHERE lower(outlet) = lower($1) AND date BETWEEN $2 AND $3
		ORDER BY date, lower(item_key)
	`, outlet, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SupplyStat, 0, 32)
	for rows.Next() {
		var st domain.SupplyStat
		var key string
		if err := rows.Scan(&st.Date, &st.Outlet, &key, &st.Sold, &st.Waste, &st.Closing); err != nil {
			return nil, err
		}
		st.ItemKey = domain.ProductKey(key)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceSupplyRecommendations(ctx context.Context, outlet string, date string, recs []domain.SupplyRecommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM supply_recommendations WHERE lower(outlet) = lower($1) AND date = $2
	`, outlet, date); err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supply_recommendations (date, outlet, item_key, recommended_qty)
			VALUES ($1,$2,$3,$4)
		`, date, outlet, rec.ItemKey.String(), rec.RecommendedQty); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListSupplyRecommendations(ctx context.Context, outlet string, date string) ([]domain.SupplyRecommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), outlet, item_key, recommended_qty
		FROM supply_recommendations
		WHERE lower(outlet) = lower($1) AND date = $2
		ORDER BY lower(item_key)
	`, outlet, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SupplyRecommendation, 0, 16)
	for rows.Next() {
		var r domain.SupplyRecommendation
		var key string
		if err := rows.Scan(&r.Date, &r.Outlet, &key, &r.RecommendedQty); err != nil {
			return nil, err
		}
		r.ItemKey = domain.ProductKey(key)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RecordTradingInterval(ctx context.Context, interval domain.TradingInterval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_intervals (outlet, date, started_at, closed_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT ((lower(outlet)), date)
		DO UPDATE SET started_at = EXCLUDED.started_at, closed_at = EXCLUDED.closed_at
	`, interval.Outlet, interval.Date, interval.StartedAt, interval.ClosedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func nowIfZero(val time.Time) time.Time {
	if val.IsZero() {
		return time.Now().UTC()
	}
	return val
}
