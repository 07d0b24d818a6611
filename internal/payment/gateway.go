// Package payment builds hosted checkout sessions with the payment gateway and
// reconciles order status from gateway notifications.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrPaymentNotFound = errors.New("payment not found")

type Item struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice int64
	Currency  string
}

type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest describes a checkout session. A zero ExpiresAt leaves the
// session open indefinitely.
type PreferenceRequest struct {
	Items             []Item
	PayerEmail        string
	BackURLs          BackURLs
	NotificationURL   string
	ExternalReference string
	ExpiresAt         time.Time
}

// Preference is a hosted checkout session. InitPoint is where the buyer is
// redirected to pay.
type Preference struct {
	ID        string
	InitPoint string
}

type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
}

type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// APIError is a non-success response from the gateway API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}
