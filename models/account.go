package models

import "github.com/shopspring/decimal"

// Order lifecycle statuses published by the venue.
const (
	OrderStatusProcessing = "processing"
	OrderStatusPlaced     = "placed"
	OrderStatusOpen       = "open"
	OrderStatusClosed     = "closed"
	OrderStatusRejected   = "rejected"
	OrderStatusCanceled   = "canceled"
	OrderStatusCanceling  = "canceling"
	OrderStatusAmending   = "amending"
)

// terminalOrderStatuses lists the statuses after which no further updates are
// expected for an order id. "canceling" is included on purpose: the order is
// removed from local state as soon as the cancel is in flight.
var terminalOrderStatuses = map[string]struct{}{
	OrderStatusClosed:    {},
	OrderStatusRejected:  {},
	OrderStatusCanceled:  {},
	OrderStatusCanceling: {},
}

// IsTerminalOrderStatus reports whether an order with the given status should
// be dropped from local state.
func IsTerminalOrderStatus(status string) bool {
	_, ok := terminalOrderStatuses[status]
	return ok
}

// Order is one resting order as published on the account channel. Only the
// fields the client tracks are decoded; the venue sends more.
type Order struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	Status        string          `json:"status"`
	Side          string          `json:"side,omitempty"`
	Type          string          `json:"type,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	CreatedAt     int64           `json:"created_at,omitempty"`
	UpdatedAt     int64           `json:"updated_at,omitempty"`
}

// OrdersData is the payload shape carrying order updates.
type OrdersData struct {
	Orders []Order `json:"orders"`
}

// Position is the account's exposure on one market.
type Position struct {
	ID               string          `json:"id,omitempty"`
	MarketID         string          `json:"market_id"`
	Side             string          `json:"side,omitempty"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	Margin           decimal.Decimal `json:"margin"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// PositionsData is the payload shape carrying position updates.
type PositionsData struct {
	Positions []Position `json:"positions"`
}
