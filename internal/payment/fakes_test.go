package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	mu          sync.Mutex
	preference  *Preference
	payments    map[string]*Payment
	err         error
	prefCalls   int
	paymentReqs []string
	lastRequest PreferenceRequest
	block       bool
}

func (f *fakeGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	f.mu.Lock()
	f.prefCalls++
	f.lastRequest = req
	block, pref, err := f.block, f.preference, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return pref, nil
}

func (f *fakeGateway) GetPayment(_ context.Context, id string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentReqs = append(f.paymentReqs, id)
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

type fakeRecorder struct {
	refs map[string]string
	err  error
}

func (f *fakeRecorder) SetPaymentReference(_ context.Context, orderID, preferenceID string) error {
	if f.err != nil {
		return f.err
	}
	if f.refs == nil {
		f.refs = map[string]string{}
	}
	f.refs[orderID] = preferenceID
	return nil
}

// fakeSettlements holds pending orders and applies the pending-only guard.
type fakeSettlements struct {
	statuses    map[string]domain.OrderStatus
	settlements []domain.Settlement
	err         error
	loadErr     error
}

func (f *fakeSettlements) Settle(_ context.Context, s domain.Settlement) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.statuses[s.OrderID] != domain.OrderStatusPending {
		return false, nil
	}
	f.statuses[s.OrderID] = s.Status
	f.settlements = append(f.settlements, s)
	return true, nil
}

func (f *fakeSettlements) GetByID(_ context.Context, id string) (*domain.Order, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	status, ok := f.statuses[id]
	if !ok {
		return nil, nil
	}
	order := &domain.Order{ID: id, Status: status}
	for _, s := range f.settlements {
		if s.OrderID == id {
			paymentID := s.PaymentID
			order.PaymentID = &paymentID
		}
	}
	return order, nil
}
