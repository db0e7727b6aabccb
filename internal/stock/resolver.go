package stock

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

type Quantity struct {
	ItemKey domain.ProductKey
	Qty     decimal.Decimal
	Unit    string
}

// Input is one ledger's worth of stock movement. Base is the carried-forward
// opening, Supply the supplier deliveries on top of it.
type Input struct {
	Base     []Quantity
	Supply   []Quantity
	Closings []domain.ClosingRecord
}

type Line struct {
	ItemKey          domain.ProductKey `json:"itemKey"`
	Name             string            `json:"name,omitempty"`
	Unit             string            `json:"unit,omitempty"`
	Base             decimal.Decimal   `json:"base"`
	Supply           decimal.Decimal   `json:"supply"`
	OpeningEffective decimal.Decimal   `json:"openingEffective"`
	Closing          decimal.Decimal   `json:"closing"`
	Waste            decimal.Decimal   `json:"waste"`
	Sold             decimal.Decimal   `json:"sold"`
	Price            decimal.Decimal   `json:"price"`
	PriceSource      string            `json:"priceSource"`
	Revenue          decimal.Decimal   `json:"revenue"`
}

type Summary struct {
	Lines        []Line          `json:"lines"`
	Revenue      decimal.Decimal `json:"revenue"`
	OpeningValue decimal.Decimal `json:"openingValue"`
	HasClosings  bool            `json:"hasClosings"`
}

// Line returns the line for key, matched case-insensitively.
func (s Summary) Line(key domain.ProductKey) (Line, bool) {
	for _, line := range s.Lines {
		if line.ItemKey.Equal(key) {
			return line, true
		}
	}
	return Line{}, false
}

// SoldQty never goes below zero: a count that exceeds the opening means the
// opening was under-recorded, not that stock was bought back.
func SoldQty(opening decimal.Decimal, closing decimal.Decimal, waste decimal.Decimal) decimal.Decimal {
	sold := opening.Sub(closing).Sub(waste)
	if sold.IsNegative() {
		return decimal.Zero
	}
	return sold
}

// Compute merges the input per normalized item key and values it against
// prices. It performs no I/O and is shared by live reads and snapshot replay.
func Compute(input Input, prices PriceTable) Summary {
	lines := make(map[string]*Line)
	order := make([]string, 0)

	lineFor := func(key domain.ProductKey, unit string) *Line {
		norm := key.Normalize()
		line, ok := lines[norm]
		if !ok {
			display := domain.ProductKey(key.String())
			var name string
			if entry, found := prices.CatalogEntry(key); found {
				display = domain.ProductKey(entry.Key.String())
				name = entry.Name
				if unit == "" {
					unit = entry.Unit
				}
			}
			line = &Line{ItemKey: display, Name: name, Unit: unit}
			lines[norm] = line
			order = append(order, norm)
		}
		if line.Unit == "" {
			line.Unit = unit
		}
		return line
	}

	for _, q := range input.Base {
		if q.ItemKey.IsZero() {
			continue
		}
		line := lineFor(q.ItemKey, q.Unit)
		line.Base = line.Base.Add(q.Qty)
	}
	for _, q := range input.Supply {
		if q.ItemKey.IsZero() {
			continue
		}
		line := lineFor(q.ItemKey, q.Unit)
		line.Supply = line.Supply.Add(q.Qty)
	}
	summary := Summary{Revenue: decimal.Zero, OpeningValue: decimal.Zero}
	for _, c := range input.Closings {
		if c.ItemKey.IsZero() {
			continue
		}
		summary.HasClosings = true
		line := lineFor(c.ItemKey, "")
		line.Closing = line.Closing.Add(c.ClosingQty)
		line.Waste = line.Waste.Add(c.WasteQty)
	}

	sort.Strings(order)
	summary.Lines = make([]Line, 0, len(order))
	for _, norm := range order {
		line := lines[norm]
		price := prices.Lookup(line.ItemKey)
		line.OpeningEffective = line.Base.Add(line.Supply)
		line.Sold = SoldQty(line.OpeningEffective, line.Closing, line.Waste)
		line.Price = price.Amount
		line.PriceSource = price.Source
		line.Revenue = line.Sold.Mul(price.Amount)

		summary.Revenue = summary.Revenue.Add(line.Revenue)
		summary.OpeningValue = summary.OpeningValue.Add(line.OpeningEffective.Mul(price.Amount))
		summary.Lines = append(summary.Lines, *line)
	}
	return summary
}

type Reader interface {
	store.CatalogReader
	store.StockLedger
}

// Resolver reads stock ledgers and prices for one outlet and trading period.
type Resolver struct {
	repo Reader
}

func NewResolver(repo Reader) *Resolver {
	return &Resolver{repo: repo}
}

func (r *Resolver) Prices(ctx context.Context, outlet string) (PriceTable, error) {
	book, err := r.repo.ListPriceBook(ctx, outlet)
	if err != nil {
		return PriceTable{}, fmt.Errorf("list pricebook: %w", err)
	}
	catalog, err := r.repo.ListCatalog(ctx)
	if err != nil {
		return PriceTable{}, fmt.Errorf("list catalog: %w", err)
	}
	return NewPriceTable(book, catalog), nil
}

// Base returns the carried-forward opening of a period: the rotation seed when
// one exists, otherwise the closing counts of the period before it. period
// AllPeriods starts from the first period of the day.
func (r *Resolver) Base(ctx context.Context, outlet string, date string, period int) ([]Quantity, error) {
	if period == store.AllPeriods {
		period = 1
	}

	seeds, err := r.repo.ListOpeningSeed(ctx, outlet, date, period)
	if err != nil {
		return nil, fmt.Errorf("list opening seed: %w", err)
	}
	if len(seeds) > 0 {
		out := make([]Quantity, 0, len(seeds))
		for _, seed := range seeds {
			out = append(out, Quantity{ItemKey: seed.ItemKey, Qty: seed.Qty})
		}
		return out, nil
	}

	var prior []domain.ClosingRecord
	if period <= 1 {
		prior, err = r.repo.ListClosings(ctx, outlet, timeutil.PrevDay(date), store.AllPeriods)
	} else {
		prior, err = r.repo.ListClosings(ctx, outlet, date, period-1)
	}
	if err != nil {
		return nil, fmt.Errorf("list prior closings: %w", err)
	}
	out := make([]Quantity, 0, len(prior))
	for _, c := range prior {
		out = append(out, Quantity{ItemKey: c.ItemKey, Qty: c.ClosingQty})
	}
	return out, nil
}

// Input loads the raw ledger of (date, period) without pricing it.
func (r *Resolver) Input(ctx context.Context, outlet string, date string, period int) (Input, error) {
	base, err := r.Base(ctx, outlet, date, period)
	if err != nil {
		return Input{}, err
	}
	rows, err := r.repo.ListSupplyRows(ctx, outlet, date, period)
	if err != nil {
		return Input{}, fmt.Errorf("list supply: %w", err)
	}
	closings, err := r.repo.ListClosings(ctx, outlet, date, period)
	if err != nil {
		return Input{}, fmt.Errorf("list closings: %w", err)
	}

	supply := make([]Quantity, 0, len(rows))
	for _, row := range rows {
		supply = append(supply, Quantity{ItemKey: row.ItemKey, Qty: row.Qty, Unit: row.Unit})
	}
	return Input{Base: base, Supply: supply, Closings: closings}, nil
}

func (r *Resolver) Summarize(ctx context.Context, outlet string, date string, period int) (Summary, error) {
	input, err := r.Input(ctx, outlet, date, period)
	if err != nil {
		return Summary{}, err
	}
	prices, err := r.Prices(ctx, outlet)
	if err != nil {
		return Summary{}, err
	}
	return Compute(input, prices), nil
}
