package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

var ErrGatewaySubmission = errors.New("payment gateway submission failed")

var meter = otel.Meter("storefront/payment")

type ReferenceRecorder interface {
	SetPaymentReference(ctx context.Context, orderID, preferenceID string) error
}

// CallbackURLs are where the gateway sends the buyer back and where it posts
// payment notifications.
type CallbackURLs struct {
	Success      string
	Failure      string
	Pending      string
	Notification string
}

func CallbackURLsFor(siteURL string) CallbackURLs {
	return CallbackURLs{
		Success:      siteURL + "/checkout/exito",
		Failure:      siteURL + "/carrito",
		Pending:      siteURL + "/checkout/pendiente",
		Notification: siteURL + "/api/checkout/payment-webhook",
	}
}

// Checkout is an open payment session for an order.
type Checkout struct {
	OrderID      string `json:"orderId"`
	PreferenceID string `json:"preferenceId"`
	InitPoint    string `json:"init_point"`
}

// Builder opens a gateway payment session for a pending order and records the
// session id on the order. Calling it again for the same order opens a new
// session and replaces the recorded id.
//
// Sessions expire when the order's pending window ends, so a buyer cannot pay
// for an order the sweeper has already cancelled. A zero window disables
// expiry.
type Builder struct {
	gateway  Gateway
	recorder ReferenceRecorder
	urls     CallbackURLs
	timeout  time.Duration
	window   time.Duration
	logger   *slog.Logger
	sessions metric.Int64Counter
	now      func() time.Time
}

func NewBuilder(gateway Gateway, recorder ReferenceRecorder, urls CallbackURLs, timeout, window time.Duration, logger *slog.Logger) (*Builder, error) {
	sessions, err := meter.Int64Counter("checkout.payment.sessions",
		metric.WithDescription("Payment sessions requested from the gateway, by result"))
	if err != nil {
		return nil, err
	}

	return &Builder{
		gateway:  gateway,
		recorder: recorder,
		urls:     urls,
		timeout:  timeout,
		window:   window,
		logger:   logger,
		sessions: sessions,
		now:      time.Now,
	}, nil
}

func (b *Builder) Build(ctx context.Context, order *domain.Order, payerEmail string) (*Checkout, error) {
	if order.Status != domain.OrderStatusPending {
		return nil, domain.ErrOrderNotPending
	}

	expiresAt := b.expiresAt(order)
	if !expiresAt.IsZero() && !expiresAt.After(b.now()) {
		b.count(ctx, "expired")
		return nil, fmt.Errorf("%w: payment window closed at %s", domain.ErrOrderNotPending, expiresAt.Format(time.RFC3339))
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	pref, err := b.gateway.CreatePreference(gatewayCtx, b.preferenceRequest(order, payerEmail, expiresAt))
	if err != nil {
		b.count(ctx, "gateway_error")
		return nil, fmt.Errorf("%w: %v", ErrGatewaySubmission, err)
	}

	if err := b.recorder.SetPaymentReference(ctx, order.ID, pref.ID); err != nil {
		b.count(ctx, "record_error")
		return nil, fmt.Errorf("record payment reference: %w", err)
	}

	b.count(ctx, "created")
	b.logger.Info("payment session created", "order_id", order.ID, "preference_id", pref.ID)

	return &Checkout{OrderID: order.ID, PreferenceID: pref.ID, InitPoint: pref.InitPoint}, nil
}

func (b *Builder) expiresAt(order *domain.Order) time.Time {
	if b.window <= 0 || order.CreatedAt.IsZero() {
		return time.Time{}
	}
	return order.CreatedAt.Add(b.window)
}

func (b *Builder) preferenceRequest(order *domain.Order, payerEmail string, expiresAt time.Time) PreferenceRequest {
	items := make([]Item, 0, len(order.Items))
	for _, item := range order.Items {
		title := item.ProductName
		if title == "" {
			title = item.ProductID
		}
		items = append(items, Item{
			ID:        item.ProductID,
			Title:     title,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
			Currency:  order.Currency,
		})
	}

	return PreferenceRequest{
		Items:      items,
		PayerEmail: payerEmail,
		BackURLs: BackURLs{
			Success: b.urls.Success,
			Failure: b.urls.Failure,
			Pending: b.urls.Pending,
		},
		NotificationURL:   b.urls.Notification,
		ExternalReference: order.ID,
		ExpiresAt:         expiresAt,
	}
}

func (b *Builder) count(ctx context.Context, result string) {
	b.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
