package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
	"github.com/joao-fontenele/storefront-checkout/internal/outbox"
)

const orderColumns = `id, user_id, customer_email, status, total, currency, shipping,
		mp_preference_id, mp_payment_id, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists order and its items and reserves stock for every line in a
// single transaction. A line that cannot be reserved rolls everything back and
// the returned error wraps inventory.ErrOutOfStock.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, customer_email, status, total, currency, shipping, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, order.ID, order.UserID, order.CustomerEmail, order.Status, order.Total, order.Currency,
		nullableJSON(order.Shipping), order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), order.ID, item.ProductID, item.ProductName, item.Quantity, item.Price)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.ProductID, err)
		}
	}

	stock := inventory.NewInventoryRepository(tx)
	for _, res := range reservations(order.Items) {
		if err := stock.Decrement(ctx, res.ProductID, res.Quantity); err != nil {
			return fmt.Errorf("reserve product %s: %w", res.ProductID, err)
		}
	}

	order.UpdatedAt = order.CreatedAt
	return tx.Commit()
}

type reservation struct {
	ProductID string
	Quantity  int
}

// reservations sums quantities per product and orders them by product id so
// concurrent checkouts lock product rows in the same order.
func reservations(items []domain.OrderItem) []reservation {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}

	out := make([]reservation, 0, len(totals))
	for id, qty := range totals {
		out = append(out, reservation{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetForUser returns the order only when it belongs to userID.
func (r *OrderRepository) GetForUser(ctx context.Context, id, userID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *OrderRepository) getOne(ctx context.Context, query, id string, args ...any) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC
	`)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	var orderIDs []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return []domain.Order{}, nil
	}

	items, err := r.loadItems(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// loadItems fetches the items of every order in one query.
func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for _, id := range orderIDs {
		items[id] = []domain.OrderItem{}
	}

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items[orderID] = append(items[orderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// SetPaymentReference stores the gateway preference id on a pending order.
func (r *OrderRepository) SetPaymentReference(ctx context.Context, orderID, preferenceID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET mp_preference_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, orderID, preferenceID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		order, err := r.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderNotPending
	}

	return nil
}

// Settle moves a pending order to s.Status and records the order event in the
// same transaction. It reports false, without error, when the order is unknown,
// not owned by s.UserID, or no longer pending.
func (r *OrderRepository) Settle(ctx context.Context, s domain.Settlement) (bool, error) {
	if !domain.CanTransition(domain.OrderStatusPending, s.Status) {
		return false, fmt.Errorf("cannot settle order into status %q", s.Status)
	}
	if _, err := uuid.Parse(s.OrderID); err != nil {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	event := domain.OrderEvent{
		Type:      domain.EventTypeFor(s.Status),
		OrderID:   s.OrderID,
		Status:    s.Status,
		PaymentID: s.PaymentID,
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, mp_payment_id = COALESCE(NULLIF($3::text, ''), mp_payment_id), updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND ($4::text = '' OR user_id = $4)
		RETURNING user_id, customer_email, total, currency, updated_at
	`, s.OrderID, s.Status, s.PaymentID, s.UserID).Scan(
		&event.UserID, &event.CustomerEmail, &event.Total, &event.Currency, &event.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("settle order: %w", err)
	}

	if err := outbox.Insert(ctx, tx, event.Type, event.OrderID, event); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ExpirePending cancels up to limit orders that have been pending since before
// cutoff, returning the ids it cancelled.
func (r *OrderRepository) ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cancelled := make([]string, 0, len(candidates))
	for _, id := range candidates {
		ok, err := r.cancel(ctx, id)
		if err != nil {
			return cancelled, fmt.Errorf("cancel order %s: %w", id, err)
		}
		if ok {
			cancelled = append(cancelled, id)
		}
	}

	return cancelled, nil
}

// cancel moves a pending order to cancelled and returns its stock. It reports
// false when the order already left pending.
func (r *OrderRepository) cancel(ctx context.Context, orderID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	event := domain.OrderEvent{
		Type:    domain.EventOrderCancelled,
		OrderID: orderID,
		Status:  domain.OrderStatusCancelled,
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING user_id, customer_email, total, currency, updated_at
	`, orderID).Scan(&event.UserID, &event.CustomerEmail, &event.Total, &event.Currency, &event.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return false, err
	}
	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			_ = rows.Close()
			return false, err
		}
		items = append(items, item)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	stock := inventory.NewInventoryRepository(tx)
	for _, res := range reservations(items) {
		if err := stock.Restock(ctx, res.ProductID, res.Quantity); err != nil {
			return false, fmt.Errorf("restock product %s: %w", res.ProductID, err)
		}
	}

	if err := outbox.Insert(ctx, tx, event.Type, event.OrderID, event); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order        domain.Order
		shipping     []byte
		preferenceID sql.NullString
		paymentID    sql.NullString
	)

	err := row.Scan(&order.ID, &order.UserID, &order.CustomerEmail, &order.Status, &order.Total,
		&order.Currency, &shipping, &preferenceID, &paymentID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(shipping) > 0 {
		order.Shipping = shipping
	}
	if preferenceID.Valid {
		order.PreferenceID = &preferenceID.String
	}
	if paymentID.Valid {
		order.PaymentID = &paymentID.String
	}
	order.Items = []domain.OrderItem{}

	return &order, nil
}

// nullableJSON maps an empty document to SQL NULL. Documents are sent as text
// so the driver does not encode them as bytea.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
