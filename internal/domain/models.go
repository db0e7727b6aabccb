package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductKey identifies a stock item. Rows from different sources spell the
// same item with different casing, so keys are only ever compared through
// Normalize.
type ProductKey string

func (k ProductKey) Normalize() string {
	return strings.ToLower(strings.TrimSpace(string(k)))
}

func (k ProductKey) Equal(other ProductKey) bool {
	return k.Normalize() == other.Normalize()
}

func (k ProductKey) IsZero() bool {
	return k.Normalize() == ""
}

func (k ProductKey) String() string {
	return strings.TrimSpace(string(k))
}

type SupplyOpeningRow struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	Outlet    string          `json:"outlet"`
	Period    int             `json:"period"`
	ItemKey   ProductKey      `json:"item_key"`
	Qty       decimal.Decimal `json:"qty"`
	Unit      string          `json:"unit"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	CreatedAt time.Time       `json:"created_at"`
}

// OpeningSeed is the carried-forward stock a trading period starts with. It is
// written only by a rotation and kept apart from supplier rows.
type OpeningSeed struct {
	Date    string          `json:"date"`
	Outlet  string          `json:"outlet"`
	Period  int             `json:"period"`
	ItemKey ProductKey      `json:"item_key"`
	Qty     decimal.Decimal `json:"qty"`
}

type ClosingRecord struct {
	Date        string          `json:"date"`
	Outlet      string          `json:"outlet"`
	Period      int             `json:"period"`
	ItemKey     ProductKey      `json:"item_key"`
	ClosingQty  decimal.Decimal `json:"closing_qty"`
	WasteQty    decimal.Decimal `json:"waste_qty"`
	SubmittedBy string          `json:"submitted_by,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type PriceBookEntry struct {
	Outlet    string          `json:"outlet"`
	ItemKey   ProductKey      `json:"item_key"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Active    bool            `json:"active"`
}

type ProductCatalogEntry struct {
	Key       ProductKey      `json:"key"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Active    bool            `json:"active"`
}

type DepositStatus string

const (
	DepositPending DepositStatus = "PENDING"
	DepositValid   DepositStatus = "VALID"
	DepositInvalid DepositStatus = "INVALID"
)

func (s DepositStatus) Valid() bool {
	switch s {
	case DepositPending, DepositValid, DepositInvalid:
		return true
	}
	return false
}

type Deposit struct {
	ID             string          `json:"id"`
	Date           string          `json:"date"`
	Outlet         string          `json:"outlet"`
	Period         int             `json:"period"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note"`
	Code           string          `json:"code,omitempty"`
	Status         DepositStatus   `json:"status"`
	VerifyPayload  string          `json:"verify_payload,omitempty"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Expense struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	Outlet    string          `json:"outlet"`
	Period    int             `json:"period"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Code      string          `json:"code,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const TillStatusSuccess = "SUCCESS"

type TillPayment struct {
	ID        string          `json:"id"`
	Outlet    string          `json:"outlet"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActivePeriod is the per-outlet pointer to the open trading period.
// PeriodStartAt only moves on an end-of-day rotation and bounds till
// aggregation.
type ActivePeriod struct {
	Outlet        string    `json:"outlet"`
	TradingDate   string    `json:"trading_date"`
	Period        int       `json:"period"`
	PeriodStartAt time.Time `json:"period_start_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Outlet struct {
	Name            string          `json:"name"`
	Scoped          bool            `json:"scoped"`
	AttendantPhones []string        `json:"attendant_phones,omitempty"`
	SupplierPhone   string          `json:"supplier_phone,omitempty"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
}

type AssistantAssignment struct {
	Code        string       `json:"code"`
	Outlet      string       `json:"outlet"`
	ProductKeys []ProductKey `json:"product_keys"`
}

func (a AssistantAssignment) Covers(key ProductKey) bool {
	for _, k := range a.ProductKeys {
		if k.Equal(key) {
			return true
		}
	}
	return false
}

type AttendantAccount struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Outlet    string    `json:"outlet"`
	Role      string    `json:"role"`
	Phone     string    `json:"phone,omitempty"`
	PINHash   string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleAttendant  = "attendant"
	RoleAssistant  = "assistant"
	RoleSupplier   = "supplier"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

type Actor struct {
	Code   string
	Role   string
	Outlet string
}

type OutletPerformance struct {
	Date        string          `json:"date"`
	Outlet      string          `json:"outlet"`
	Sales       decimal.Decimal `json:"sales"`
	Expenses    decimal.Decimal `json:"expenses"`
	Deposits    decimal.Decimal `json:"deposits"`
	TillGross   decimal.Decimal `json:"till_gross"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Commissions decimal.Decimal `json:"commissions"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type AttendantKPI struct {
	Date       string          `json:"date"`
	Outlet     string          `json:"outlet"`
	Code       string          `json:"code"`
	Deposited  decimal.Decimal `json:"deposited"`
	Deposits   int             `json:"deposits"`
	Commission decimal.Decimal `json:"commission"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type SupplyStat struct {
	Date    string          `json:"date"`
	Outlet  string          `json:"outlet"`
	ItemKey ProductKey      `json:"item_key"`
	Sold    decimal.Decimal `json:"sold"`
	Waste   decimal.Decimal `json:"waste"`
	Closing decimal.Decimal `json:"closing"`
}

type SupplyRecommendation struct {
	Date           string          `json:"date"`
	Outlet         string          `json:"outlet"`
	ItemKey        ProductKey      `json:"item_key"`
	RecommendedQty decimal.Decimal `json:"recommended_qty"`
}

type TradingInterval struct {
	Outlet    string    `json:"outlet"`
	Date      string    `json:"date"`
	StartedAt time.Time `json:"started_at"`
	ClosedAt  time.Time `json:"closed_at"`
}

// ScopedOutlets are outlets that deposit full sales with no till offset,
// in addition to those flagged Scoped on their own record.
type ScopedOutlets map[string]struct{}

func NewScopedOutlets(names []string) ScopedOutlets {
	set := make(ScopedOutlets, len(names))
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

func (s ScopedOutlets) Covers(outlet *Outlet, name string) bool {
	if outlet != nil && outlet.Scoped {
		return true
	}
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
