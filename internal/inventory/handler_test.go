package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type fakeStockStore struct {
	products map[string]*domain.Product
	err      error
}

func (f *fakeStockStore) ListAll(_ context.Context) ([]domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Product
	for _, p := range f.products {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStockStore) GetStock(_ context.Context, productID string) (*domain.StockLevel, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, nil
	}
	return &domain.StockLevel{ProductID: p.ID, Stock: p.Stock}, nil
}

func (f *fakeStockStore) Restock(_ context.Context, productID string, quantity int) error {
	if f.err != nil {
		return f.err
	}
	p, ok := f.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock += quantity
	return nil
}

func newTestMux(store StockStore) *http.ServeMux {
	handler := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", handler.HandleListProducts)
	mux.HandleFunc("GET /products/{productId}/stock", handler.HandleGetStock)
	mux.HandleFunc("POST /products/{productId}/restock", handler.HandleRestock)
	return mux
}

func TestHandler_HandleGetStock(t *testing.T) {
	store := &fakeStockStore{products: map[string]*domain.Product{
		"p1": {ID: "p1", Name: "Serum", Price: 1000, Stock: 5, IsActive: true},
	}}
	mux := newTestMux(store)

	t.Run("returns stock level", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/p1/stock", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var stock domain.StockLevel
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stock))
		assert.Equal(t, domain.StockLevel{ProductID: "p1", Stock: 5}, stock)
	})

	t.Run("returns 404 for unknown product", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/nope/stock", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_HandleRestock(t *testing.T) {
	t.Run("adds units and returns new level", func(t *testing.T) {
		store := &fakeStockStore{products: map[string]*domain.Product{
			"p1": {ID: "p1", Stock: 2, IsActive: true},
		}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/products/p1/restock", strings.NewReader(`{"quantity": 8}`))
		newTestMux(store).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var stock domain.StockLevel
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stock))
		assert.Equal(t, 10, stock.Stock)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		store := &fakeStockStore{products: map[string]*domain.Product{"p1": {ID: "p1"}}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/products/p1/restock", strings.NewReader(`{"quantity": 0}`))
		newTestMux(store).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 404 for unknown product", func(t *testing.T) {
		store := &fakeStockStore{products: map[string]*domain.Product{}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/products/p9/restock", strings.NewReader(`{"quantity": 1}`))
		newTestMux(store).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 500 on storage error", func(t *testing.T) {
		store := &fakeStockStore{err: errors.New("connection reset")}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/products/p1/restock", strings.NewReader(`{"quantity": 1}`))
		newTestMux(store).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandler_HandleListProducts(t *testing.T) {
	store := &fakeStockStore{products: map[string]*domain.Product{
		"p1": {ID: "p1", Stock: 1},
	}}
	rec := httptest.NewRecorder()
	newTestMux(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var products []domain.Product
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&products))
	assert.Len(t, products, 1)
}
