package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ViewCurrent  = "current"
	ViewPrevious = "previous"
)

const (
	LabelDeposit = "Deposit"
	LabelExcess  = "Excess"
)

// DepositDisplay is the UI-facing rendering of an amount to deposit: a
// negative figure is shown as its absolute value under the Excess label.
type DepositDisplay struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

func DisplayFor(amountToDeposit decimal.Decimal) DepositDisplay {
	if amountToDeposit.IsNegative() {
		return DepositDisplay{Label: LabelExcess, Amount: amountToDeposit.Abs()}
	}
	return DepositDisplay{Label: LabelDeposit, Amount: amountToDeposit}
}

type MetricsTotals struct {
	WeightSales      decimal.Decimal `json:"weightSales"`
	Expenses         decimal.Decimal `json:"expenses"`
	TodayTotalSales  decimal.Decimal `json:"todayTotalSales"`
	TillSalesGross   decimal.Decimal `json:"tillSalesGross"`
	TodayTillSales   decimal.Decimal `json:"todayTillSales"`
	VerifiedDeposits decimal.Decimal `json:"verifiedDeposits"`
	NetTill          decimal.Decimal `json:"netTill"`
	OpeningValue     decimal.Decimal `json:"openingValue"`
	CarryoverPrev    decimal.Decimal `json:"carryoverPrev"`
	AmountToDeposit  decimal.Decimal `json:"amountToDeposit"`
	Display          DepositDisplay  `json:"display"`
}

type AssistantLine struct {
	ItemKey        ProductKey      `json:"itemKey"`
	Opening        decimal.Decimal `json:"opening"`
	Supply         decimal.Decimal `json:"supply"`
	Closing        decimal.Decimal `json:"closing"`
	Waste          decimal.Decimal `json:"waste"`
	SoldUnits      decimal.Decimal `json:"soldUnits"`
	Price          decimal.Decimal `json:"price"`
	SalesValue     decimal.Decimal `json:"salesValue"`
	ExcludedReason string          `json:"excludedReason,omitempty"`
}

const (
	PeriodStateOpen   = "OPEN"
	PeriodStateLocked = "LOCKED"
)

type AssistantMetrics struct {
	OK             bool            `json:"ok"`
	Reason         string          `json:"reason,omitempty"`
	Code           string          `json:"code"`
	Expected       decimal.Decimal `json:"expected"`
	RecommendedNow decimal.Decimal `json:"recommendedNow"`
	DepositedSoFar decimal.Decimal `json:"depositedSoFar"`
	SalesValue     decimal.Decimal `json:"salesValue"`
	ExpensesValue  decimal.Decimal `json:"expensesValue"`
	CarryoverPrev  decimal.Decimal `json:"carryoverPrev"`
	PeriodState    string          `json:"periodState"`
	Warnings       []string        `json:"warnings"`
	Breakdown      []AssistantLine `json:"breakdown"`
}

type MetricsResponse struct {
	OK        bool              `json:"ok"`
	Outlet    string            `json:"outlet"`
	Date      string            `json:"date"`
	Period    string            `json:"period"`
	Totals    MetricsTotals     `json:"totals"`
	Assistant *AssistantMetrics `json:"assistant,omitempty"`
}

// LedgerRef names the live ledger a write or a current-view read lands in.
type LedgerRef struct {
	Date   string `json:"date"`
	Period int    `json:"period"`
}

type MetricsQuery struct {
	Outlet    string
	Attendant string
	Date      string
	View      string
}

type DepositRequest struct {
	Date   string          `json:"date"`
	Outlet string          `json:"outlet"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
	Code   string          `json:"code,omitempty"`
}

type DepositStatusRequest struct {
	Status DepositStatus `json:"status"`
	Reason string        `json:"reason"`
}

type ClosingItem struct {
	ItemKey    ProductKey      `json:"item_key"`
	ClosingQty decimal.Decimal `json:"closing_qty"`
	WasteQty   decimal.Decimal `json:"waste_qty"`
}

type ClosingSubmission struct {
	Date        string        `json:"date"`
	Outlet      string        `json:"outlet"`
	SubmittedBy string        `json:"submitted_by,omitempty"`
	Items       []ClosingItem `json:"items"`
}

type SupplyItem struct {
	ItemKey  ProductKey      `json:"item_key"`
	Qty      decimal.Decimal `json:"qty"`
	Unit     string          `json:"unit"`
	BuyPrice decimal.Decimal `json:"buy_price"`
}

type SupplyRequest struct {
	Date   string       `json:"date"`
	Outlet string       `json:"outlet"`
	Items  []SupplyItem `json:"items"`
}

type ExpenseRequest struct {
	Date   string          `json:"date"`
	Outlet string          `json:"outlet"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Code   string          `json:"code,omitempty"`
}

type TillPaymentRequest struct {
	Outlet    string          `json:"outlet"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
}

const (
	RotationFirstClose  = "first_close"
	RotationSecondClose = "second_close"
	RotationCorrection  = "correction"
)

type RotationResult struct {
	Outlet          string    `json:"outlet"`
	Date            string    `json:"date"`
	Kind            string    `json:"kind"`
	CloseIndex      int       `json:"close_index,omitempty"`
	SnapshotCreated bool      `json:"snapshot_created"`
	TradingDate     string    `json:"trading_date"`
	Period          int       `json:"period"`
	PeriodStartAt   time.Time `json:"period_start_at"`
}

type LoginRequest struct {
	Code string `json:"code"`
	PIN  string `json:"pin"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Outlet      string `json:"outlet,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type PeriodStatus struct {
	Outlet        string    `json:"outlet"`
	Date          string    `json:"date"`
	State         string    `json:"state"`
	TradingDate   string    `json:"trading_date"`
	Period        int       `json:"period"`
	PeriodStartAt time.Time `json:"period_start_at"`
}

type RecomputeStage struct {
	Name    string `json:"name"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type RecomputeResult struct {
	Outlet  string           `json:"outlet"`
	Date    string           `json:"date"`
	Aborted bool             `json:"aborted"`
	Stages  []RecomputeStage `json:"stages"`
}
