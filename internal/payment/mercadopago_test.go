package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMercadoPagoClient_CreatePreference(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"pref-123","init_point":"https://gateway.test/checkout?pref=pref-123"}`)
	}))
	defer srv.Close()

	client := NewMercadoPagoClient(srv.URL, "test-token", srv.Client())
	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items:             []Item{{ID: "p1", Title: "Cleanser", Quantity: 2, UnitPrice: 1050, Currency: "ARS"}},
		PayerEmail:        "ana@example.com",
		BackURLs:          BackURLs{Success: "https://shop.test/checkout/exito", Failure: "https://shop.test/carrito"},
		NotificationURL:   "https://shop.test/api/checkout/payment-webhook",
		ExternalReference: "order-1",
		ExpiresAt:         time.Date(2026, 3, 2, 12, 0, 0, 0, time.FixedZone("ART", -3*60*60)),
	})
	require.NoError(t, err)
	assert.Equal(t, &Preference{ID: "pref-123", InitPoint: "https://gateway.test/checkout?pref=pref-123"}, pref)

	assert.Equal(t, "order-1", got["external_reference"])
	assert.Equal(t, "approved", got["auto_return"])
	assert.Equal(t, "https://shop.test/api/checkout/payment-webhook", got["notification_url"])
	assert.Equal(t, map[string]any{"email": "ana@example.com"}, got["payer"])
	assert.Equal(t, true, got["expires"])
	assert.Equal(t, "2026-03-02T12:00:00.000-03:00", got["expiration_date_to"])

	items := got["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, 10.5, item["unit_price"])
	assert.Equal(t, float64(2), item["quantity"])
	assert.Equal(t, "ARS", item["currency_id"])
	assert.Equal(t, "Cleanser", item["title"])
}

func TestMercadoPagoClient_CreatePreferenceWithoutExpiry(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"pref-1"}`)
	}))
	defer srv.Close()

	client := NewMercadoPagoClient(srv.URL, "test-token", srv.Client())
	_, err := client.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "order-1"})
	require.NoError(t, err)

	assert.NotContains(t, got, "expires")
	assert.NotContains(t, got, "expiration_date_to")
	assert.NotContains(t, got, "auto_return")
}

func TestMercadoPagoClient_CreatePreferenceAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"invalid items","status":400}`)
	}))
	defer srv.Close()

	client := NewMercadoPagoClient(srv.URL, "test-token", srv.Client())
	_, err := client.CreatePreference(context.Background(), PreferenceRequest{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid items", apiErr.Message)
}

func TestMercadoPagoClient_GetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/payments/12345":
			_, _ = io.WriteString(w, `{"id":12345,"status":"approved","status_detail":"accredited","external_reference":"order-1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"Payment not found"}`)
		}
	}))
	defer srv.Close()

	client := NewMercadoPagoClient(srv.URL+"/", "test-token", srv.Client())

	p, err := client.GetPayment(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, &Payment{ID: "12345", Status: "approved", StatusDetail: "accredited", ExternalReference: "order-1"}, p)

	_, err = client.GetPayment(context.Background(), "999")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestToAmount(t *testing.T) {
	assert.Equal(t, 10.0, toAmount(1000))
	assert.Equal(t, 0.99, toAmount(99))
	assert.Equal(t, 25.5, toAmount(2550))
}
