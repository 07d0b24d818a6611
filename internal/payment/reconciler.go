package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

var ErrMissingPaymentID = errors.New("notification has no payment id")

type Notification struct {
	Kind      string
	PaymentID string
}

// flexibleID accepts ids sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// ParseNotification reads a gateway notification from its JSON body, falling
// back to the query string. The resource id in data.id wins over the
// top-level id, which on newer notifications identifies the notification
// itself.
func ParseNotification(body []byte, query url.Values) (Notification, error) {
	var env struct {
		Topic string     `json:"topic"`
		Type  string     `json:"type"`
		ID    flexibleID `json:"id"`
		Data  *struct {
			ID flexibleID `json:"id"`
		} `json:"data"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return Notification{}, fmt.Errorf("decode notification: %w", err)
		}
	}

	n := Notification{Kind: firstNonEmpty(env.Topic, env.Type, query.Get("topic"), query.Get("type"))}

	var dataID string
	if env.Data != nil {
		dataID = string(env.Data.ID)
	}
	n.PaymentID = firstNonEmpty(dataID, string(env.ID), query.Get("data.id"), query.Get("id"))

	return n, nil
}

func IsPaymentKind(kind string) bool {
	switch kind {
	case "payment", "payment.created", "payment.updated":
		return true
	}
	return false
}

// MapStatus translates a gateway payment status into an order status.
// Pending means the order stays as it is.
func MapStatus(status string) domain.OrderStatus {
	switch status {
	case "approved":
		return domain.OrderStatusPaid
	case "pending", "in_process":
		return domain.OrderStatusPending
	}
	return domain.OrderStatusFailed
}

type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSettled   Outcome = "settled"
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeUnmatched is an approved payment for an order that had already
	// left pending, typically cancelled by the sweeper. It needs a refund or
	// manual review.
	OutcomeUnmatched Outcome = "unmatched"
)

type Result struct {
	Outcome   Outcome
	OrderID   string
	Status    domain.OrderStatus
	PaymentID string
}

type SettlementStore interface {
	Settle(ctx context.Context, s domain.Settlement) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// Reconciler applies the gateway's view of a payment to its order. It never
// trusts the notification body for status; the payment is always re-read
// from the gateway.
type Reconciler struct {
	gateway       Gateway
	store         SettlementStore
	timeout       time.Duration
	logger        *slog.Logger
	notifications metric.Int64Counter
}

func NewReconciler(gateway Gateway, store SettlementStore, timeout time.Duration, logger *slog.Logger) (*Reconciler, error) {
	notifications, err := meter.Int64Counter("checkout.webhook.notifications",
		metric.WithDescription("Gateway notifications processed, by outcome"))
	if err != nil {
		return nil, err
	}

	return &Reconciler{
		gateway:       gateway,
		store:         store,
		timeout:       timeout,
		logger:        logger,
		notifications: notifications,
	}, nil
}

func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Result, error) {
	res, err := r.reconcile(ctx, n)

	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	r.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, n Notification) (Result, error) {
	if !IsPaymentKind(n.Kind) {
		r.logger.Info("ignoring notification", "kind", n.Kind)
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if n.PaymentID == "" {
		return Result{}, ErrMissingPaymentID
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payment, err := r.gateway.GetPayment(gatewayCtx, n.PaymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			r.logger.Warn("notification for unknown payment", "payment_id", n.PaymentID)
			return Result{Outcome: OutcomeUnchanged, PaymentID: n.PaymentID}, nil
		}
		return Result{}, fmt.Errorf("fetch payment %s: %w", n.PaymentID, err)
	}

	res := Result{
		Outcome:   OutcomeUnchanged,
		OrderID:   payment.ExternalReference,
		Status:    MapStatus(payment.Status),
		PaymentID: n.PaymentID,
	}

	if res.Status == domain.OrderStatusPending {
		return res, nil
	}

	if _, err := uuid.Parse(res.OrderID); err != nil {
		r.logger.Warn("payment without a usable order reference",
			"payment_id", n.PaymentID, "external_reference", res.OrderID)
		return res, nil
	}

	settled, err := r.store.Settle(ctx, domain.Settlement{
		OrderID:   res.OrderID,
		Status:    res.Status,
		PaymentID: n.PaymentID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("settle order %s: %w", res.OrderID, err)
	}

	if !settled {
		return r.unsettled(ctx, res)
	}

	res.Outcome = OutcomeSettled
	r.logger.Info("order settled", "order_id", res.OrderID, "status", res.Status, "payment_id", n.PaymentID)
	return res, nil
}

// unsettled classifies a payment whose order could not move out of pending.
func (r *Reconciler) unsettled(ctx context.Context, res Result) (Result, error) {
	order, err := r.store.GetByID(ctx, res.OrderID)
	if err != nil {
		return Result{}, fmt.Errorf("load order %s: %w", res.OrderID, err)
	}

	switch {
	case order == nil:
		r.logger.Warn("payment for unknown order", "order_id", res.OrderID, "payment_id", res.PaymentID)
	case order.PaymentID != nil && *order.PaymentID == res.PaymentID:
		r.logger.Info("order already settled", "order_id", res.OrderID, "status", order.Status, "payment_id", res.PaymentID)
	case res.Status == domain.OrderStatusPaid:
		res.Outcome = OutcomeUnmatched
		r.logger.Error("approved payment for order that is no longer pending",
			"order_id", res.OrderID, "order_status", order.Status, "payment_id", res.PaymentID)
	default:
		r.logger.Info("payment outcome for order that is no longer pending",
			"order_id", res.OrderID, "order_status", order.Status, "payment_id", res.PaymentID, "status", res.Status)
	}

	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
