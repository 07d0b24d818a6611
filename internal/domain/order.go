package domain

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to another.
// Only pending orders move, and only into a terminal status.
func CanTransition(from, to OrderStatus) bool {
	return from == OrderStatusPending && to.Terminal()
}

type OrderItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	Items         []OrderItem     `json:"items"`
	Total         int64           `json:"total"`
	Currency      string          `json:"currency"`
	Status        OrderStatus     `json:"status"`
	Shipping      json.RawMessage `json:"shipping,omitempty"`
	PreferenceID  *string         `json:"mp_preference_id"`
	PaymentID     *string         `json:"mp_payment_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ItemsTotal sums price × quantity over items. ok is false when an item has a
// negative price or quantity, or when the sum does not fit in an int64.
func ItemsTotal(items []OrderItem) (total int64, ok bool) {
	for _, item := range items {
		qty := int64(item.Quantity)
		if qty < 0 || item.Price < 0 {
			return 0, false
		}
		if qty != 0 && item.Price > math.MaxInt64/qty {
			return 0, false
		}
		line := qty * item.Price
		if total > math.MaxInt64-line {
			return 0, false
		}
		total += line
	}
	return total, true
}

// Settlement is a requested pending → terminal transition. UserID, when set,
// restricts the transition to orders owned by that user.
type Settlement struct {
	OrderID   string
	Status    OrderStatus
	PaymentID string
	UserID    string
}
