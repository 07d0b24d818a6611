package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
)

var (
	ErrInvalidCart   = errors.New("invalid cart")
	ErrPriceMismatch = errors.New("cart price does not match catalog price")
)

var meter = otel.Meter("storefront/orders")

type Catalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type OrderCreator interface {
	Create(ctx context.Context, order *domain.Order) error
}

// CartLine is one line of the cart as submitted by the client. Price is what
// the client saw and is only checked against the catalog, never stored.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type PlaceOrderRequest struct {
	UserID   string
	Email    string
	Items    []CartLine
	Shipping json.RawMessage
}

// Service turns a validated cart into a pending order with reserved stock.
type Service struct {
	catalog  Catalog
	orders   OrderCreator
	currency string
	now      func() time.Time

	created  metric.Int64Counter
	rejected metric.Int64Counter
}

func NewService(catalog Catalog, orders OrderCreator, currency string) (*Service, error) {
	created, err := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders accepted by the checkout"))
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("checkout.orders.rejected",
		metric.WithDescription("Checkout attempts rejected, by reason"))
	if err != nil {
		return nil, err
	}

	return &Service{
		catalog:  catalog,
		orders:   orders,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
		created:  created,
		rejected: rejected,
	}, nil
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	order, err := s.placeOrder(ctx, req)
	if err != nil {
		if reason := rejectReason(err); reason != "" {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		}
		return nil, err
	}

	s.created.Add(ctx, 1)
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := validateCart(req.Items); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidCart)
	}

	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.ProductID)
	}

	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, ok := products[line.ProductID]
		if !ok || !product.IsActive {
			return nil, fmt.Errorf("%w: product %s is not available", ErrInvalidCart, line.ProductID)
		}
		if line.Price != product.Price {
			return nil, fmt.Errorf("%w: product %s costs %d, cart says %d",
				ErrPriceMismatch, line.ProductID, product.Price, line.Price)
		}

		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			Price:       product.Price,
		})
	}

	total, ok := domain.ItemsTotal(items)
	if !ok {
		return nil, fmt.Errorf("%w: order total out of range", ErrInvalidCart)
	}

	order := &domain.Order{
		UserID:        req.UserID,
		CustomerEmail: req.Email,
		Items:         items,
		Total:         total,
		Currency:      s.currency,
		Status:        domain.OrderStatusPending,
		Shipping:      req.Shipping,
		CreatedAt:     s.now(),
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func validateCart(lines []CartLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	perProduct := make(map[string]int64, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidCart, i)
		}
		if line.Quantity <= 0 || line.Quantity > math.MaxInt32 {
			return fmt.Errorf("%w: item %d has quantity %d", ErrInvalidCart, i, line.Quantity)
		}
		perProduct[line.ProductID] += int64(line.Quantity)
		if perProduct[line.ProductID] > math.MaxInt32 {
			return fmt.Errorf("%w: too many units of product %s", ErrInvalidCart, line.ProductID)
		}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, ErrPriceMismatch):
		return "price_mismatch"
	case errors.Is(err, inventory.ErrOutOfStock):
		return "out_of_stock"
	}
	return ""
}
