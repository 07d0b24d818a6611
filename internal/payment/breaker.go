package payment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name string
	// ConsecutiveFailures opens the breaker once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerGateway stops calling the gateway while it keeps failing. Client
// errors such as a rejected preference or an unknown payment do not count as
// failures.
type BreakerGateway struct {
	next        Gateway
	preferences *gobreaker.CircuitBreaker[*Preference]
	payments    *gobreaker.CircuitBreaker[*Payment]
}

func NewBreakerGateway(next Gateway, settings BreakerSettings, logger *slog.Logger) *BreakerGateway {
	build := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("payment gateway breaker changed state",
					"breaker", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: isBreakerSuccess,
		}
	}

	return &BreakerGateway{
		next:        next,
		preferences: gobreaker.NewCircuitBreaker[*Preference](build(settings.Name + "-preferences")),
		payments:    gobreaker.NewCircuitBreaker[*Payment](build(settings.Name + "-payments")),
	}
}

func (b *BreakerGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	return b.preferences.Execute(func() (*Preference, error) {
		return b.next.CreatePreference(ctx, req)
	})
}

func (b *BreakerGateway) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return b.payments.Execute(func() (*Payment, error) {
		return b.next.GetPayment(ctx, id)
	})
}

func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrPaymentNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
