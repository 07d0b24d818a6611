package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/idempotency"
	"github.com/joao-fontenele/storefront-checkout/internal/identity"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
	"github.com/joao-fontenele/storefront-checkout/internal/payment"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error)
}

type OrderStore interface {
	GetForUser(ctx context.Context, id, userID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	Settle(ctx context.Context, s domain.Settlement) (bool, error)
}

type CheckoutBuilder interface {
	Build(ctx context.Context, order *domain.Order, payerEmail string) (*payment.Checkout, error)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (*idempotency.Response, error)
	Complete(ctx context.Context, key string, resp idempotency.Response) error
	Release(ctx context.Context, key string) error
}

type Handler struct {
	placer   OrderPlacer
	store    OrderStore
	payments CheckoutBuilder
	idem     IdempotencyStore
	logger   *slog.Logger
}

// NewHandler wires the checkout API. idem may be nil, in which case the
// Idempotency-Key header is ignored.
func NewHandler(placer OrderPlacer, store OrderStore, payments CheckoutBuilder, idem IdempotencyStore, logger *slog.Logger) *Handler {
	return &Handler{
		placer:   placer,
		store:    store,
		payments: payments,
		idem:     idem,
		logger:   logger,
	}
}

// Routes registers the authenticated checkout and order routes. The caller
// is expected to have resolved the user before these handlers run.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/checkout/create-order", h.HandleCreate)
	r.Post("/api/checkout/confirm-payment", h.HandleConfirmPayment)
	r.Get("/api/orders", h.HandleListMine)
	r.Get("/api/orders/{id}", h.HandleGet)
	r.Post("/api/orders/{id}/payment", h.HandleRetryPayment)
	r.With(identity.RequireRole("admin")).Get("/api/admin/orders", h.HandleListAll)
}

type createOrderRequest struct {
	Items    []CartLine      `json:"items"`
	Shipping json.RawMessage `json:"shipping"`
}

type createOrderResponse struct {
	OrderID      string             `json:"orderId"`
	PreferenceID string             `json:"preferenceId,omitempty"`
	InitPoint    string             `json:"init_point,omitempty"`
	Status       domain.OrderStatus `json:"status"`
	Error        string             `json:"error,omitempty"`
	Retry        string             `json:"retry,omitempty"`
}

// HandleCreate places an order and opens its payment session. With an
// Idempotency-Key header, a response that created an order (201, or 502 when
// only the payment session failed) is stored and replayed; any other outcome
// releases the key so the request can be retried.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := idempotency.FromRequest(r)
	if h.idem == nil || key == "" {
		status, body := h.createOrder(r.Context(), user, req)
		h.writeJSON(w, status, body)
		return
	}

	key = "create-order:" + user.ID + ":" + key
	stored, err := h.idem.Begin(r.Context(), key)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		h.writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
		return
	case err != nil:
		h.logger.Error("failed to claim idempotency key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	case stored != nil:
		h.logger.Info("replaying create-order response", "user_id", user.ID)
		w.Header().Set("Idempotent-Replayed", "true")
		h.writeRaw(w, stored.StatusCode, stored.Body)
		return
	}

	status, body := h.createOrder(r.Context(), user, req)

	if status == http.StatusCreated || status == http.StatusBadGateway {
		data, err := json.Marshal(body)
		if err == nil {
			err = h.idem.Complete(r.Context(), key, idempotency.Response{StatusCode: status, Body: data})
		}
		if err != nil {
			h.logger.Error("failed to store idempotent response", "error", err)
		}
	} else if err := h.idem.Release(r.Context(), key); err != nil {
		h.logger.Error("failed to release idempotency key", "error", err)
	}

	h.writeJSON(w, status, body)
}

func (h *Handler) createOrder(ctx context.Context, user *identity.User, req createOrderRequest) (int, any) {
	order, err := h.placer.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:   user.ID,
		Email:    user.Email,
		Items:    req.Items,
		Shipping: req.Shipping,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCart), errors.Is(err, ErrPriceMismatch):
			return http.StatusBadRequest, errorBody(err.Error())
		case errors.Is(err, inventory.ErrOutOfStock):
			return http.StatusConflict, errorBody(err.Error())
		}
		h.logger.Error("failed to create order", "error", err, "user_id", user.ID)
		return http.StatusInternalServerError, errorBody("internal server error")
	}

	h.logger.Info("order created", "order_id", order.ID, "user_id", user.ID, "total", order.Total)

	checkout, err := h.payments.Build(ctx, order, user.Email)
	if err != nil {
		h.logger.Error("failed to open payment session", "error", err, "order_id", order.ID)
		return http.StatusBadGateway, createOrderResponse{
			OrderID: order.ID,
			Status:  domain.OrderStatusPending,
			Error:   "order created but payment could not be started",
			Retry:   "/api/orders/" + order.ID + "/payment",
		}
	}

	return http.StatusCreated, createOrderResponse{
		OrderID:      order.ID,
		PreferenceID: checkout.PreferenceID,
		InitPoint:    checkout.InitPoint,
		Status:       order.Status,
	}
}

type confirmPaymentRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

// HandleConfirmPayment marks the caller's pending order as paid. Repeating the
// call with the same payment id after it succeeded is accepted.
func (h *Handler) HandleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" || req.PaymentID == "" {
		h.writeError(w, http.StatusBadRequest, "orderId and paymentId are required")
		return
	}

	settled, err := h.store.Settle(r.Context(), domain.Settlement{
		OrderID:   req.OrderID,
		Status:    domain.OrderStatusPaid,
		PaymentID: req.PaymentID,
		UserID:    user.ID,
	})
	if err != nil {
		h.logger.Error("failed to confirm payment", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	order, err := h.store.GetForUser(r.Context(), req.OrderID, user.ID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if !settled {
		samePayment := order.PaymentID != nil && *order.PaymentID == req.PaymentID
		if order.Status != domain.OrderStatusPaid || !samePayment {
			h.writeError(w, http.StatusConflict, domain.ErrOrderNotPending.Error())
			return
		}
	} else {
		h.logger.Info("payment confirmed", "order_id", order.ID, "payment_id", req.PaymentID)
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	orders, err := h.store.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := chi.URLParam(r, "id")
	order, err := h.store.GetForUser(r.Context(), id, user.ID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// HandleRetryPayment opens a fresh payment session for a pending order whose
// first attempt failed or was abandoned.
func (h *Handler) HandleRetryPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := chi.URLParam(r, "id")
	order, err := h.store.GetForUser(r.Context(), id, user.ID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	checkout, err := h.payments.Build(r.Context(), order, user.Email)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotPending):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, payment.ErrGatewaySubmission):
			h.logger.Error("failed to open payment session", "error", err, "order_id", order.ID)
			h.writeError(w, http.StatusBadGateway, "payment could not be started")
		default:
			h.logger.Error("failed to open payment session", "error", err, "order_id", order.ID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, checkout)
}

func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorBody(message))
}
