// Package model holds the engine's view of backend resources. The remote
// backend owns every one of these; the engine only caches them.
package model

import (
	"time"

	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = enum.OrderStatusPending
	OrderPreparing OrderStatus = enum.OrderStatusPreparing
	OrderReady     OrderStatus = enum.OrderStatusReady
	OrderCompleted OrderStatus = enum.OrderStatusCompleted
	OrderVoided    OrderStatus = enum.OrderStatusVoided
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPreparing, OrderReady, OrderCompleted, OrderVoided:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderVoided
}

// TableStatus is derived from orders, never stored.
type TableStatus string

const (
	TableAvailable TableStatus = enum.TableStatusAvailable
	TableOccupied  TableStatus = enum.TableStatusOccupied
	TableReady     TableStatus = enum.TableStatusReady
	TableServed    TableStatus = enum.TableStatusServed
)

// PaymentStatus of a bill. Draft -> Paid or Draft -> Cancelled only.
type PaymentStatus string

const (
	PaymentDraft     PaymentStatus = enum.PaymentStatusDraft
	PaymentPaid      PaymentStatus = enum.PaymentStatusPaid
	PaymentCancelled PaymentStatus = enum.PaymentStatusCancelled
)

// DiscountMode selects how a Discount value is interpreted.
type DiscountMode string

const (
	DiscountPercent DiscountMode = enum.DiscountTypePercentage
	DiscountFlat    DiscountMode = enum.DiscountTypeFixed
)

// Discount is either a percentage (0-100) or a flat amount.
type Discount struct {
	Mode  DiscountMode    `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ID           string          `json:"id"`
	MenuItemID   string          `json:"menu_item_id"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int32           `json:"quantity"`
	Notes        string          `json:"notes,omitempty"`
	LineDiscount Discount        `json:"line_discount"`
	Station      string          `json:"station,omitempty"`
}

// Order as served by GET /orders.
type Order struct {
	ID         string      `json:"id"`
	TableID    *string     `json:"table_id"`
	KOTNumber  string      `json:"kot_number"`
	OrderType  string      `json:"order_type,omitempty"`
	Items      []OrderItem `json:"items"`
	Status     OrderStatus `json:"status"`
	Station    string      `json:"station,omitempty"`
	VoidReason string      `json:"void_reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// OnTable reports whether the order references the given table.
func (o Order) OnTable(tableID string) bool {
	return o.TableID != nil && *o.TableID == tableID
}

// Bill as served by GET /bills. Exactly one per order.
type Bill struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"order_id"`
	BillDiscount         Discount        `json:"bill_discount"`
	TaxRate              decimal.Decimal `json:"tax_rate"`
	ServiceChargeRate    decimal.Decimal `json:"service_charge_rate"`
	ServiceChargeEnabled bool            `json:"service_charge_enabled"`
	PaymentStatus        PaymentStatus   `json:"payment_status"`
	PaymentMethod        string          `json:"payment_method,omitempty"`
	AmountPaid           decimal.Decimal `json:"amount_paid"`
}

// Table as served by GET /tables.
type Table struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Seats  int    `json:"seats"`
}
