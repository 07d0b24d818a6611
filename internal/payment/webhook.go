package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const maxNotificationBody = 64 << 10

type NotificationReconciler interface {
	Reconcile(ctx context.Context, n Notification) (Result, error)
}

// WebhookHandler receives gateway notifications. It answers 200 whenever the
// notification was understood, 400 when it names no payment, and 500 when
// processing failed so the gateway redelivers.
type WebhookHandler struct {
	reconciler NotificationReconciler
	secret     string
	logger     *slog.Logger
}

// NewWebhookHandler verifies signatures only when secret is non-empty.
func NewWebhookHandler(reconciler NotificationReconciler, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, "could not read notification")
		return
	}

	query := r.URL.Query()
	n, err := ParseNotification(body, query)
	if err != nil {
		h.logger.Warn("malformed notification", "error", err)
		h.writeMessage(w, http.StatusBadRequest, "malformed notification")
		return
	}

	if IsPaymentKind(n.Kind) && n.PaymentID == "" {
		h.writeMessage(w, http.StatusBadRequest, "missing payment id")
		return
	}

	if h.secret != "" && IsPaymentKind(n.Kind) {
		dataID := query.Get("data.id")
		if dataID == "" {
			dataID = n.PaymentID
		}
		err := VerifySignature(h.secret, r.Header.Get("X-Signature"), r.Header.Get("X-Request-Id"), dataID)
		if err != nil {
			h.logger.Warn("rejected notification signature", "payment_id", n.PaymentID)
			h.writeMessage(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	res, err := h.reconciler.Reconcile(r.Context(), n)
	if err != nil {
		if errors.Is(err, ErrMissingPaymentID) {
			h.writeMessage(w, http.StatusBadRequest, "missing payment id")
			return
		}
		h.logger.Error("failed to reconcile notification", "error", err, "payment_id", n.PaymentID)
		h.writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch res.Outcome {
	case OutcomeIgnored:
		h.writeMessage(w, http.StatusOK, "notification ignored")
	case OutcomeSettled:
		h.writeMessage(w, http.StatusOK, fmt.Sprintf("order %s updated to %s", res.OrderID, res.Status))
	case OutcomeUnmatched:
		h.writeMessage(w, http.StatusOK, fmt.Sprintf("payment %s needs review: order %s is not pending", res.PaymentID, res.OrderID))
	default:
		h.writeMessage(w, http.StatusOK, "no change")
	}
}

func (h *WebhookHandler) writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": message}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
