package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerGateway_OpensAfterFailures(t *testing.T) {
	next := &fakeGateway{err: &APIError{StatusCode: http.StatusServiceUnavailable, Message: "down"}}
	gw := NewBreakerGateway(next, BreakerSettings{Name: "test", ConsecutiveFailures: 2, OpenTimeout: time.Minute}, discardLogger())

	for i := 0; i < 2; i++ {
		_, err := gw.CreatePreference(context.Background(), PreferenceRequest{})
		require.Error(t, err)
	}

	_, err := gw.CreatePreference(context.Background(), PreferenceRequest{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.prefCalls)
}

func TestBreakerGateway_ClientErrorsDoNotTrip(t *testing.T) {
	next := &fakeGateway{err: &APIError{StatusCode: http.StatusBadRequest, Message: "invalid"}}
	gw := NewBreakerGateway(next, BreakerSettings{Name: "test", ConsecutiveFailures: 2, OpenTimeout: time.Minute}, discardLogger())

	for i := 0; i < 5; i++ {
		_, err := gw.CreatePreference(context.Background(), PreferenceRequest{})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}
	assert.Equal(t, 5, next.prefCalls)
}

func TestIsBreakerSuccess(t *testing.T) {
	assert.True(t, isBreakerSuccess(nil))
	assert.True(t, isBreakerSuccess(ErrPaymentNotFound))
	assert.True(t, isBreakerSuccess(&APIError{StatusCode: http.StatusUnprocessableEntity}))
	assert.False(t, isBreakerSuccess(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isBreakerSuccess(&APIError{StatusCode: http.StatusBadGateway}))
	assert.False(t, isBreakerSuccess(errors.New("connection reset")))
	assert.False(t, isBreakerSuccess(context.DeadlineExceeded))
}
