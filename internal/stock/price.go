package stock

import (
	"github.com/shopspring/decimal"

	"outletcash/backend/internal/domain"
)

const (
	PriceSourcePriceBook        = "pricebook"
	PriceSourceInactiveOverride = "pricebook-inactive"
	PriceSourceCatalog          = "catalog"
	PriceSourceNone             = "none"
)

type Price struct {
	ItemKey domain.ProductKey `json:"item_key"`
	Amount  decimal.Decimal   `json:"price"`
	Source  string            `json:"source"`
}

// Resolvable reports whether the price came from an active entry and is
// usable for valuing sales.
func (p Price) Resolvable() bool {
	return (p.Source == PriceSourcePriceBook || p.Source == PriceSourceCatalog) && p.Amount.IsPositive()
}

// PriceTable resolves sell prices with outlet override first, then catalog,
// then zero. An inactive outlet override pins the price at zero even when the
// catalog entry is active.
type PriceTable struct {
	overrides map[string]domain.PriceBookEntry
	catalog   map[string]domain.ProductCatalogEntry
	resolved  map[string]Price
}

func NewPriceTable(book []domain.PriceBookEntry, catalog []domain.ProductCatalogEntry) PriceTable {
	table := PriceTable{
		overrides: make(map[string]domain.PriceBookEntry, len(book)),
		catalog:   make(map[string]domain.ProductCatalogEntry, len(catalog)),
	}
	for _, entry := range book {
		table.overrides[entry.ItemKey.Normalize()] = entry
	}
	for _, entry := range catalog {
		table.catalog[entry.Key.Normalize()] = entry
	}
	return table
}

// FrozenPriceTable replays prices captured in a snapshot.
func FrozenPriceTable(prices map[string]Price) PriceTable {
	resolved := make(map[string]Price, len(prices))
	for _, price := range prices {
		resolved[price.ItemKey.Normalize()] = price
	}
	return PriceTable{resolved: resolved}
}

func (t PriceTable) Lookup(key domain.ProductKey) Price {
	norm := key.Normalize()
	if t.resolved != nil {
		if price, ok := t.resolved[norm]; ok {
			return price
		}
		return Price{ItemKey: key, Amount: decimal.Zero, Source: PriceSourceNone}
	}

	if override, ok := t.overrides[norm]; ok {
		if override.Active {
			return Price{ItemKey: key, Amount: override.SellPrice, Source: PriceSourcePriceBook}
		}
		return Price{ItemKey: key, Amount: decimal.Zero, Source: PriceSourceInactiveOverride}
	}
	if entry, ok := t.catalog[norm]; ok && entry.Active {
		return Price{ItemKey: key, Amount: entry.SellPrice, Source: PriceSourceCatalog}
	}
	return Price{ItemKey: key, Amount: decimal.Zero, Source: PriceSourceNone}
}

// CatalogEntry returns the catalog row for key, used for display name, unit
// and canonical casing.
func (t PriceTable) CatalogEntry(key domain.ProductKey) (domain.ProductCatalogEntry, bool) {
	entry, ok := t.catalog[key.Normalize()]
	return entry, ok
}
