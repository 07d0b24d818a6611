package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/messaging"
)

// NotificationHandler emails customers when their order is paid, fails or is
// cancelled.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type emailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}

	eventType := msg.EventType
	if eventType == "" {
		eventType = event.Type
	}

	h.logger.Info("processing order event", "order_id", event.OrderID, "event_type", eventType)

	if event.CustomerEmail == "" {
		h.logger.Warn("order has no customer email, skipping notification", "order_id", event.OrderID)
		return nil
	}

	email, ok := composeEmail(eventType, event)
	if !ok {
		h.logger.Info("no notification for event type", "event_type", eventType, "order_id", event.OrderID)
		return nil
	}

	if err := h.sendEmail(ctx, email); err != nil {
		h.logger.Error("failed to send notification", "error", err, "order_id", event.OrderID, "event_type", eventType)
		return fmt.Errorf("send %s notification: %w", eventType, err)
	}

	h.logger.Info("notification sent", "order_id", event.OrderID, "event_type", eventType)
	return nil
}

func composeEmail(eventType string, event domain.OrderEvent) (emailMessage, bool) {
	amount := formatAmount(event.Total, event.Currency)

	switch eventType {
	case domain.EventOrderPaid:
		return emailMessage{
			To:      event.CustomerEmail,
			Subject: "Payment received for order " + event.OrderID,
			Body:    fmt.Sprintf("We received your payment of %s for order %s. We are preparing your products.", amount, event.OrderID),
		}, true
	case domain.EventOrderFailed:
		return emailMessage{
			To:      event.CustomerEmail,
			Subject: "Payment failed for order " + event.OrderID,
			Body:    fmt.Sprintf("Your payment of %s for order %s was not approved. You can retry the payment from your order history.", amount, event.OrderID),
		}, true
	case domain.EventOrderCancelled:
		return emailMessage{
			To:      event.CustomerEmail,
			Subject: "Order " + event.OrderID + " cancelled",
			Body:    fmt.Sprintf("Order %s for %s was cancelled because no payment was received. The reserved products were released.", event.OrderID, amount),
		}, true
	}
	return emailMessage{}, false
}

func formatAmount(minor int64, currency string) string {
	return currency + " " + decimal.New(minor, -2).StringFixed(2)
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg emailMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
