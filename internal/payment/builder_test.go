package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

func pendingOrder() *domain.Order {
	return &domain.Order{
		ID:       "6f1f2a0e-3c1b-4d53-9a2e-7b0c4f5d6e71",
		UserID:   "user-1",
		Currency: "ARS",
		Status:   domain.OrderStatusPending,
		Total:    2000,
		Items: []domain.OrderItem{
			{ProductID: "p1", ProductName: "Cleanser", Quantity: 2, Price: 1000},
		},
	}
}

func TestBuilder_Build(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1", InitPoint: "https://gateway.test/pay/pref-1"}}
	recorder := &fakeRecorder{}
	b, err := NewBuilder(gw, recorder, CallbackURLsFor("https://shop.test"), time.Second, 0, discardLogger())
	require.NoError(t, err)

	order := pendingOrder()
	checkout, err := b.Build(context.Background(), order, "ana@example.com")
	require.NoError(t, err)

	assert.Equal(t, &Checkout{OrderID: order.ID, PreferenceID: "pref-1", InitPoint: "https://gateway.test/pay/pref-1"}, checkout)
	assert.Equal(t, "pref-1", recorder.refs[order.ID])

	req := gw.lastRequest
	assert.Equal(t, order.ID, req.ExternalReference)
	assert.Equal(t, "ana@example.com", req.PayerEmail)
	assert.Equal(t, "https://shop.test/api/checkout/payment-webhook", req.NotificationURL)
	assert.Equal(t, BackURLs{
		Success: "https://shop.test/checkout/exito",
		Failure: "https://shop.test/carrito",
		Pending: "https://shop.test/checkout/pendiente",
	}, req.BackURLs)
	assert.Equal(t, []Item{{ID: "p1", Title: "Cleanser", Quantity: 2, UnitPrice: 1000, Currency: "ARS"}}, req.Items)
}

func TestBuilder_GatewayFailureLeavesOrderUnreferenced(t *testing.T) {
	gw := &fakeGateway{err: errors.New("connection refused")}
	recorder := &fakeRecorder{}
	b, err := NewBuilder(gw, recorder, CallbackURLsFor("https://shop.test"), time.Second, 0, discardLogger())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), pendingOrder(), "ana@example.com")
	assert.ErrorIs(t, err, ErrGatewaySubmission)
	assert.Empty(t, recorder.refs)
}

func TestBuilder_TimeoutIsGatewayFailure(t *testing.T) {
	gw := &fakeGateway{block: true}
	b, err := NewBuilder(gw, &fakeRecorder{}, CallbackURLsFor("https://shop.test"), 20*time.Millisecond, 0, discardLogger())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), pendingOrder(), "")
	assert.ErrorIs(t, err, ErrGatewaySubmission)
}

func TestBuilder_RejectsSettledOrder(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1"}}
	b, err := NewBuilder(gw, &fakeRecorder{}, CallbackURLsFor("https://shop.test"), time.Second, 0, discardLogger())
	require.NoError(t, err)

	order := pendingOrder()
	order.Status = domain.OrderStatusPaid
	_, err = b.Build(context.Background(), order, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotPending)
	assert.Zero(t, gw.prefCalls)
}

func TestBuilder_RetryReplacesReference(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1"}}
	recorder := &fakeRecorder{}
	b, err := NewBuilder(gw, recorder, CallbackURLsFor("https://shop.test"), time.Second, 0, discardLogger())
	require.NoError(t, err)

	order := pendingOrder()
	_, err = b.Build(context.Background(), order, "")
	require.NoError(t, err)

	gw.preference = &Preference{ID: "pref-2"}
	_, err = b.Build(context.Background(), order, "")
	require.NoError(t, err)

	assert.Equal(t, "pref-2", recorder.refs[order.ID])
	assert.Equal(t, 2, gw.prefCalls)
}

func TestBuilder_RecordFailure(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1"}}
	b, err := NewBuilder(gw, &fakeRecorder{err: domain.ErrOrderNotPending}, CallbackURLsFor("https://shop.test"), time.Second, 0, discardLogger())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), pendingOrder(), "")
	assert.ErrorIs(t, err, domain.ErrOrderNotPending)
	assert.NotErrorIs(t, err, ErrGatewaySubmission)
}

func TestBuilder_SessionExpiresWithPendingWindow(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1"}}
	b, err := NewBuilder(gw, &fakeRecorder{}, CallbackURLsFor("https://shop.test"), time.Second, 24*time.Hour, discardLogger())
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return created.Add(time.Hour) }

	order := pendingOrder()
	order.CreatedAt = created
	_, err = b.Build(context.Background(), order, "")
	require.NoError(t, err)

	assert.Equal(t, created.Add(24*time.Hour), gw.lastRequest.ExpiresAt)
}

func TestBuilder_RejectsOrderPastPendingWindow(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1"}}
	recorder := &fakeRecorder{}
	b, err := NewBuilder(gw, recorder, CallbackURLsFor("https://shop.test"), time.Second, 24*time.Hour, discardLogger())
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return created.Add(25 * time.Hour) }

	order := pendingOrder()
	order.CreatedAt = created
	_, err = b.Build(context.Background(), order, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotPending)
	assert.Zero(t, gw.prefCalls)
	assert.Empty(t, recorder.refs)
}

func TestBuilder_NoWindowMeansNoExpiry(t *testing.T) {
	gw := &fakeGateway{preference: &Preference{ID: "pref-1"}}
	b, err := NewBuilder(gw, &fakeRecorder{}, CallbackURLsFor("https://shop.test"), time.Second, 0, discardLogger())
	require.NoError(t, err)

	order := pendingOrder()
	order.CreatedAt = time.Now().Add(-48 * time.Hour)
	_, err = b.Build(context.Background(), order, "")
	require.NoError(t, err)
	assert.True(t, gw.lastRequest.ExpiresAt.IsZero())
}
