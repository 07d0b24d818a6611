package domain

import "time"

const (
	EventOrderPaid      = "order.paid"
	EventOrderFailed    = "order.failed"
	EventOrderCancelled = "order.cancelled"
)

// EventTypeFor returns the event emitted when an order reaches status.
func EventTypeFor(status OrderStatus) string {
	switch status {
	case OrderStatusPaid:
		return EventOrderPaid
	case OrderStatusFailed:
		return EventOrderFailed
	case OrderStatusCancelled:
		return EventOrderCancelled
	}
	return ""
}

type OrderEvent struct {
	Type          string      `json:"type"`
	OrderID       string      `json:"order_id"`
	UserID        string      `json:"user_id"`
	CustomerEmail string      `json:"customer_email"`
	Status        OrderStatus `json:"status"`
	Total         int64       `json:"total"`
	Currency      string      `json:"currency"`
	PaymentID     string      `json:"payment_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}
