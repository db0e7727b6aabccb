package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/stock"
	"outletcash/backend/internal/timeutil"
)

const (
	SchemaV1      = 1
	SchemaV2      = 2
	SchemaCurrent = SchemaV2
)

var (
	ErrExists = errors.New("snapshot already exists")
	ErrSchema = errors.New("snapshot schema invalid")
)

type ResolvedPrice struct {
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
}

// Record is the frozen ledger of one closed trading period. OpeningSnapshot
// holds the opening-effective quantity per item, so supply is already
// folded in.
type Record struct {
	SchemaVersion   int                        `json:"schemaVersion"`
	Date            string                     `json:"date"`
	Outlet          string                     `json:"outlet"`
	CloseIndex      int                        `json:"closeIndex"`
	OpeningSnapshot map[string]decimal.Decimal `json:"openingSnapshot"`
	Closings        []domain.ClosingRecord     `json:"closings"`
	Expenses        []domain.Expense           `json:"expenses"`
	Deposits        []domain.Deposit           `json:"deposits"`
	Pricebook       map[string]ResolvedPrice   `json:"pricebook"`
	Revenue         decimal.Decimal            `json:"revenue"`
	// PeriodStartAt is when the closed period's till window opened. Records
	// written before it was kept leave it zero.
	PeriodStartAt time.Time `json:"periodStartAt,omitzero"`
	CreatedAt     time.Time `json:"createdAt"`
}

// legacyRecord is the version 1 layout, which stored bare prices.
type legacyRecord struct {
	Date              string                     `json:"date"`
	Outlet            string                     `json:"outlet"`
	CloseIndex        int                        `json:"closeIndex"`
	OpeningSnapshot   map[string]decimal.Decimal `json:"openingSnapshot"`
	Closings          []domain.ClosingRecord     `json:"closings"`
	Expenses          []domain.Expense           `json:"expenses"`
	Deposits          []domain.Deposit           `json:"deposits"`
	PricebookSnapshot map[string]decimal.Decimal `json:"pricebookSnapshot"`
	CreatedAt         time.Time                  `json:"createdAt"`
}

// Build freezes a computed stock summary and the period's money rows.
func Build(date string, outlet string, closeIndex int, summary stock.Summary, closings []domain.ClosingRecord,
	expenses []domain.Expense, deposits []domain.Deposit, createdAt time.Time) Record {
	opening := make(map[string]decimal.Decimal, len(summary.Lines))
	prices := make(map[string]ResolvedPrice, len(summary.Lines))
	for _, line := range summary.Lines {
		key := line.ItemKey.String()
		opening[key] = line.OpeningEffective
		prices[key] = ResolvedPrice{Price: line.Price, Source: line.PriceSource}
	}
	return Record{
		SchemaVersion:   SchemaCurrent,
		Date:            date,
		Outlet:          outlet,
		CloseIndex:      closeIndex,
		OpeningSnapshot: opening,
		Closings:        nonNil(closings),
		Expenses:        nonNil(expenses),
		Deposits:        nonNil(deposits),
		Pricebook:       prices,
		Revenue:         summary.Revenue,
		CreatedAt:       createdAt.UTC(),
	}
}

func (r Record) Validate() error {
	switch {
	case r.SchemaVersion != SchemaCurrent:
		return fmt.Errorf("%w: unsupported version %d", ErrSchema, r.SchemaVersion)
	case !timeutil.ValidDate(r.Date):
		return fmt.Errorf("%w: bad date %q", ErrSchema, r.Date)
	case strings.TrimSpace(r.Outlet) == "":
		return fmt.Errorf("%w: missing outlet", ErrSchema)
	case r.CloseIndex != 1 && r.CloseIndex != 2:
		return fmt.Errorf("%w: closeIndex %d", ErrSchema, r.CloseIndex)
	case r.OpeningSnapshot == nil || r.Pricebook == nil:
		return fmt.Errorf("%w: missing opening or pricebook", ErrSchema)
	}
	return nil
}

// StockInput replays the frozen ledger through the stock resolver.
func (r Record) StockInput() stock.Input {
	base := make([]stock.Quantity, 0, len(r.OpeningSnapshot))
	for key, qty := range r.OpeningSnapshot {
		base = append(base, stock.Quantity{ItemKey: domain.ProductKey(key), Qty: qty})
	}
	return stock.Input{Base: base, Closings: r.Closings}
}

func (r Record) Prices() stock.PriceTable {
	prices := make(map[string]stock.Price, len(r.Pricebook))
	for key, p := range r.Pricebook {
		prices[key] = stock.Price{ItemKey: domain.ProductKey(key), Amount: p.Price, Source: p.Source}
	}
	return stock.FrozenPriceTable(prices)
}

func (r Record) Summary() stock.Summary {
	return stock.Compute(r.StockInput(), r.Prices())
}

func Encode(r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Decode validates a stored payload and upgrades older versions to the
// current layout.
func Decode(data []byte) (Record, error) {
	var head struct {
		SchemaVersion *int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	version := SchemaV1
	if head.SchemaVersion != nil {
		version = *head.SchemaVersion
	}

	var rec Record
	switch version {
	case SchemaV1:
		var legacy legacyRecord
		if err := json.Unmarshal(data, &legacy); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		rec = upgradeV1(legacy)
	case SchemaV2:
		if err := json.Unmarshal(data, &rec); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrSchema, err)
		}
	default:
		return Record{}, fmt.Errorf("%w: unsupported version %d", ErrSchema, version)
	}

	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func upgradeV1(legacy legacyRecord) Record {
	prices := make(map[string]ResolvedPrice, len(legacy.PricebookSnapshot))
	for key, price := range legacy.PricebookSnapshot {
		source := stock.PriceSourcePriceBook
		if !price.IsPositive() {
			source = stock.PriceSourceNone
		}
		prices[key] = ResolvedPrice{Price: price, Source: source}
	}
	if legacy.PricebookSnapshot == nil {
		prices = nil
	}

	rec := Record{
		SchemaVersion:   SchemaCurrent,
		Date:            legacy.Date,
		Outlet:          legacy.Outlet,
		CloseIndex:      legacy.CloseIndex,
		OpeningSnapshot: legacy.OpeningSnapshot,
		Closings:        nonNil(legacy.Closings),
		Expenses:        nonNil(legacy.Expenses),
		Deposits:        nonNil(legacy.Deposits),
		Pricebook:       prices,
		CreatedAt:       legacy.CreatedAt,
	}
	if rec.OpeningSnapshot != nil && rec.Pricebook != nil {
		rec.Revenue = rec.Summary().Revenue
	}
	return rec
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
