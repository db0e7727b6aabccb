package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	outlets           map[string]domain.Outlet
	priceBook         map[string][]domain.PriceBookEntry
	catalog           []domain.ProductCatalogEntry
	assistants        []domain.AssistantAssignment
	attendants        []domain.AttendantAccount
	supplyByDay       map[string][]domain.SupplyOpeningRow
	seedsByPeriod     map[string][]domain.OpeningSeed
	closingsByDay     map[string][]domain.ClosingRecord
	expensesByDay     map[string][]domain.Expense
	depositsByID      map[string]*domain.Deposit
	depositsByIdem    map[string]string
	depositOrder      []string
	tillPayments      []domain.TillPayment
	activePeriods     map[string]domain.ActivePeriod
	outletPerformance map[string]domain.OutletPerformance
	attendantKPIs     map[string]domain.AttendantKPI
	supplyStats       map[string]domain.SupplyStat
	supplyRecs        map[string][]domain.SupplyRecommendation
	tradingIntervals  []domain.TradingInterval
}

func New() *Store {
	return &Store{
		outlets:           make(map[string]domain.Outlet),
		priceBook:         make(map[string][]domain.PriceBookEntry),
		supplyByDay:       make(map[string][]domain.SupplyOpeningRow),
		seedsByPeriod:     make(map[string][]domain.OpeningSeed),
		closingsByDay:     make(map[string][]domain.ClosingRecord),
		expensesByDay:     make(map[string][]domain.Expense),
		depositsByID:      make(map[string]*domain.Deposit),
		depositsByIdem:    make(map[string]string),
		activePeriods:     make(map[string]domain.ActivePeriod),
		outletPerformance: make(map[string]domain.OutletPerformance),
		attendantKPIs:     make(map[string]domain.AttendantKPI),
		supplyStats:       make(map[string]domain.SupplyStat),
		supplyRecs:        make(map[string][]domain.SupplyRecommendation),
	}
}

// PutOutlet and the other Put helpers load reference data that is owned by
// collaborators outside the engine.
func (s *Store) PutOutlet(outlet domain.Outlet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlets[outletKey(outlet.Name)] = outlet
}

func (s *Store) PutPriceBook(entries ...domain.PriceBookEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		key := outletKey(entry.Outlet)
		book := s.priceBook[key]
		replaced := false
		for i := range book {
			if book[i].ItemKey.Equal(entry.ItemKey) {
				book[i] = entry
				replaced = true
			}
		}
		if !replaced {
			book = append(book, entry)
		}
		s.priceBook[key] = book
	}
}

func (s *Store) PutCatalog(entries ...domain.ProductCatalogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		replaced := false
		for i := range s.catalog {
			if s.catalog[i].Key.Equal(entry.Key) {
				s.catalog[i] = entry
				replaced = true
			}
		}
		if !replaced {
			s.catalog = append(s.catalog, entry)
		}
	}
}

func (s *Store) PutAssistant(assignment domain.AssistantAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistants = append(s.assistants, assignment)
}

func (s *Store) PutAttendant(account domain.AttendantAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendants = append(s.attendants, account)
}

func (s *Store) GetOutlet(_ context.Context, name string) (*domain.Outlet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outlet, ok := s.outlets[outletKey(name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	outlet.AttendantPhones = slices.Clone(outlet.AttendantPhones)
	return &outlet, nil
}

func (s *Store) ListPriceBook(_ context.Context, outlet string) ([]domain.PriceBookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.priceBook[outletKey(outlet)]), nil
}

func (s *Store) ListCatalog(_ context.Context) ([]domain.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.catalog), nil
}

func (s *Store) GetAttendant(_ context.Context, code string) (*domain.AttendantAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []domain.AttendantAccount
	for _, account := range s.attendants {
		if strings.EqualFold(account.Code, strings.TrimSpace(code)) {
			found = append(found, account)
		}
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

func (s *Store) FindAssistantAssignment(_ context.Context, code string) (*domain.AssistantAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []domain.AssistantAssignment
	for _, assignment := range s.assistants {
		if strings.EqualFold(assignment.Code, strings.TrimSpace(code)) {
			found = append(found, assignment)
		}
	}
	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		assignment := found[0]
		assignment.ProductKeys = slices.Clone(assignment.ProductKeys)
		return &assignment, nil
	default:
		return nil, &store.AmbiguousCodeError{Code: code, Matches: len(found)}
	}
}

func (s *Store) AddSupplyRows(_ context.Context, rows []domain.SupplyOpeningRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
		key := dayKey(row.Outlet, row.Date)
		s.supplyByDay[key] = append(s.supplyByDay[key], row)
	}
	return nil
}

func (s *Store) ListSupplyRows(_ context.Context, outlet string, date string, period int) ([]domain.SupplyOpeningRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.SupplyOpeningRow, 0)
	for _, row := range s.supplyByDay[dayKey(outlet, date)] {
		if period == store.AllPeriods || row.Period == period {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Store) ReplaceOpeningSeed(_ context.Context, outlet string, date string, period int, seeds []domain.OpeningSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := make([]domain.OpeningSeed, 0, len(seeds))
	for _, seed := range seeds {
		seed.Outlet = outlet
		seed.Date = date
		seed.Period = period
		cloned = append(cloned, seed)
	}
	s.seedsByPeriod[periodKey(outlet, date, period)] = cloned
	return nil
}

func (s *Store) ListOpeningSeed(_ context.Context, outlet string, date string, period int) ([]domain.OpeningSeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.seedsByPeriod[periodKey(outlet, date, period)]), nil
}

func (s *Store) UpsertClosings(_ context.Context, rows []domain.ClosingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		if row.ItemKey.IsZero() || row.Date == "" || row.Outlet == "" || row.Period < 1 {
			return store.ErrInvalidInput
		}
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = time.Now().UTC()
		}
		key := dayKey(row.Outlet, row.Date)
		existing := s.closingsByDay[key]
		replaced := false
		for i := range existing {
			if existing[i].Period == row.Period && existing[i].ItemKey.Equal(row.ItemKey) {
				existing[i] = row
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, row)
		}
		s.closingsByDay[key] = existing
	}
	return nil
}

func (s *Store) ListClosings(_ context.Context, outlet string, date string, period int) ([]domain.ClosingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.closingsByDay[dayKey(outlet, date)]
	if period != store.AllPeriods {
		rows := make([]domain.ClosingRecord, 0, len(all))
		for _, row := range all {
			if row.Period == period {
				rows = append(rows, row)
			}
		}
		return rows, nil
	}

	latest := make(map[string]int)
	rows := make([]domain.ClosingRecord, 0, len(all))
	for _, row := range all {
		norm := row.ItemKey.Normalize()
		if idx, ok := latest[norm]; ok {
			waste := rows[idx].WasteQty.Add(row.WasteQty)
			if row.Period > rows[idx].Period {
				rows[idx] = row
			}
			rows[idx].WasteQty = waste
			continue
		}
		latest[norm] = len(rows)
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) AddExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.Date == "" || expense.Outlet == "" || strings.TrimSpace(expense.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	key := dayKey(expense.Outlet, expense.Date)
	s.expensesByDay[key] = append(s.expensesByDay[key], expense)
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, outlet string, date string, period int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.Expense, 0)
	for _, expense := range s.expensesByDay[dayKey(outlet, date)] {
		if period == store.AllPeriods || expense.Period == period {
			rows = append(rows, expense)
		}
	}
	return rows, nil
}

func (s *Store) FindDepositByIdempotency(_ context.Context, key string) (*domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.depositsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyDeposit := *s.depositsByID[id]
	return &copyDeposit, nil
}

func (s *Store) CreateDeposit(_ context.Context, deposit domain.Deposit) (*domain.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deposit.IdempotencyKey == "" || deposit.Date == "" || deposit.Outlet == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.depositsByIdem[deposit.IdempotencyKey]; exists {
		return nil, store.ErrConflict
	}
	if deposit.ID == "" {
		deposit.ID = xid.New("dep")
	}
	now := time.Now().UTC()
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = now
	}
	deposit.UpdatedAt = deposit.CreatedAt

	stored := deposit
	s.depositsByID[deposit.ID] = &stored
	s.depositsByIdem[deposit.IdempotencyKey] = deposit.ID
	s.depositOrder = append(s.depositOrder, deposit.ID)

	created := deposit
	return &created, nil
}

func (s *Store) UpdateDeposit(_ context.Context, deposit domain.Deposit) (*domain.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.depositsByID[deposit.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Status = deposit.Status
	existing.Note = deposit.Note
	existing.VerifyPayload = deposit.VerifyPayload
	existing.UpdatedAt = time.Now().UTC()

	updated := *existing
	return &updated, nil
}

func (s *Store) GetDeposit(_ context.Context, id string) (*domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposit, ok := s.depositsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyDeposit := *deposit
	return &copyDeposit, nil
}

func (s *Store) ListDeposits(_ context.Context, outlet string, date string, period int) ([]domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.Deposit, 0)
	for _, id := range s.depositOrder {
		deposit := s.depositsByID[id]
		if !strings.EqualFold(deposit.Outlet, outlet) || deposit.Date != date {
			continue
		}
		if period != store.AllPeriods && deposit.Period != period {
			continue
		}
		rows = append(rows, *deposit)
	}
	return rows, nil
}

func (s *Store) AddTillPayment(_ context.Context, payment domain.TillPayment) (*domain.TillPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.Outlet == "" {
		return nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("till")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.tillPayments = append(s.tillPayments, payment)
	created := payment
	return &created, nil
}

func (s *Store) SumTillPayments(_ context.Context, outlet string, since time.Time, until time.Time) (decimal.Decimal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	count := 0
	for _, payment := range s.tillPayments {
		if !strings.EqualFold(payment.Outlet, outlet) || payment.Status != domain.TillStatusSuccess {
			continue
		}
		if payment.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !payment.CreatedAt.Before(until) {
			continue
		}
		total = total.Add(payment.Amount)
		count++
	}
	return total, count, nil
}

func (s *Store) GetActivePeriod(_ context.Context, outlet string) (*domain.ActivePeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	period, ok := s.activePeriods[outletKey(outlet)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &period, nil
}

func (s *Store) SaveActivePeriod(_ context.Context, period domain.ActivePeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if period.Outlet == "" || period.TradingDate == "" || period.Period < 1 {
		return store.ErrInvalidInput
	}
	if period.UpdatedAt.IsZero() {
		period.UpdatedAt = time.Now().UTC()
	}
	s.activePeriods[outletKey(period.Outlet)] = period
	return nil
}

func (s *Store) UpsertOutletPerformance(_ context.Context, perf domain.OutletPerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outletPerformance[dayKey(perf.Outlet, perf.Date)] = perf
	return nil
}

func (s *Store) GetOutletPerformance(_ context.Context, outlet string, date string) (*domain.OutletPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perf, ok := s.outletPerformance[dayKey(outlet, date)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &perf, nil
}

func (s *Store) UpsertAttendantKPI(_ context.Context, kpi domain.AttendantKPI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendantKPIs[dayKey(kpi.Outlet, kpi.Date)+"|"+strings.ToLower(kpi.Code)] = kpi
	return nil
}

func (s *Store) ListAttendantKPIs(_ context.Context, outlet string, date string) ([]domain.AttendantKPI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := dayKey(outlet, date) + "|"
	kpis := make([]domain.AttendantKPI, 0)
	for key, kpi := range s.attendantKPIs {
		if strings.HasPrefix(key, prefix) {
			kpis = append(kpis, kpi)
		}
	}
	slices.SortFunc(kpis, func(a, b domain.AttendantKPI) int {
		return strings.Compare(a.Code, b.Code)
	})
	return kpis, nil
}

func (s *Store) UpsertSupplyStats(_ context.Context, stats []domain.SupplyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stat := range stats {
		s.supplyStats[dayKey(stat.Outlet, stat.Date)+"|"+stat.ItemKey.Normalize()] = stat
	}
	return nil
}

func (s *Store) ListSupplyStats(_ context.Context, outlet string, fromDate string, toDate string) ([]domain.SupplyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]domain.SupplyStat, 0)
	for _, stat := range s.supplyStats {
		if !strings.EqualFold(stat.Outlet, outlet) {
			continue
		}
		if stat.Date < fromDate || stat.Date > toDate {
			continue
		}
		stats = append(stats, stat)
	}
	slices.SortFunc(stats, func(a, b domain.SupplyStat) int {
		if a.Date == b.Date {
			return strings.Compare(a.ItemKey.Normalize(), b.ItemKey.Normalize())
		}
		return strings.Compare(a.Date, b.Date)
	})
	return stats, nil
}

func (s *Store) ReplaceSupplyRecommendations(_ context.Context, outlet string, date string, recs []domain.SupplyRecommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supplyRecs[dayKey(outlet, date)] = slices.Clone(recs)
	return nil
}

func (s *Store) ListSupplyRecommendations(_ context.Context, outlet string, date string) ([]domain.SupplyRecommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.supplyRecs[dayKey(outlet, date)]), nil
}

func (s *Store) RecordTradingInterval(_ context.Context, interval domain.TradingInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tradingIntervals {
		if existing.Date == interval.Date && strings.EqualFold(existing.Outlet, interval.Outlet) {
			s.tradingIntervals[i] = interval
			return nil
		}
	}
	s.tradingIntervals = append(s.tradingIntervals, interval)
	return nil
}

// TradingIntervals is exposed for tests and the demo seed.
func (s *Store) TradingIntervals() []domain.TradingInterval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tradingIntervals)
}

func outletKey(outlet string) string {
	return strings.ToLower(strings.TrimSpace(outlet))
}

func dayKey(outlet string, date string) string {
	return outletKey(outlet) + "|" + date
}

func periodKey(outlet string, date string, period int) string {
	return fmt.Sprintf("%s|%d", dayKey(outlet, date), period)
}
