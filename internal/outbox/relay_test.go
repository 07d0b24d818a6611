package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	records  []Record
	sent     []int64
	fetchErr error
}

func (f *fakeSource) FetchPending(_ context.Context, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []Record
	for _, rec := range f.records {
		if rec.SentAt == nil && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkSent(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].SentAt = &now
		}
	}
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeSource) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type published struct {
	key, eventType string
	payload        string
}

type fakePublisher struct {
	messages []published
	failOn   string
}

func (f *fakePublisher) Publish(_ context.Context, key, eventType string, payload []byte) error {
	if key == f.failOn {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, published{key: key, eventType: eventType, payload: string(payload)})
	return nil
}

func newTestRelay(source Source, publisher Publisher) *Relay {
	return NewRelay(source, publisher, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRelay_Flush(t *testing.T) {
	t.Run("publishes pending events in order and marks them sent", func(t *testing.T) {
		source := &fakeSource{records: []Record{
			{ID: 1, EventID: "e1", EventType: "order.paid", Key: "o1", Payload: []byte(`{"order_id":"o1"}`)},
			{ID: 2, EventID: "e2", EventType: "order.failed", Key: "o2", Payload: []byte(`{"order_id":"o2"}`)},
		}}
		publisher := &fakePublisher{}

		n, err := newTestRelay(source, publisher).Flush(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []int64{1, 2}, source.sent)
		require.Len(t, publisher.messages, 2)
		assert.Equal(t, published{key: "o1", eventType: "order.paid", payload: `{"order_id":"o1"}`}, publisher.messages[0])
	})

	t.Run("stops at first publish failure", func(t *testing.T) {
		source := &fakeSource{records: []Record{
			{ID: 1, EventID: "e1", Key: "o1"},
			{ID: 2, EventID: "e2", Key: "o2"},
			{ID: 3, EventID: "e3", Key: "o3"},
		}}
		publisher := &fakePublisher{failOn: "o2"}

		n, err := newTestRelay(source, publisher).Flush(context.Background())

		require.Error(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{1}, source.sent)
	})

	t.Run("second flush does not republish", func(t *testing.T) {
		source := &fakeSource{records: []Record{{ID: 1, EventID: "e1", Key: "o1"}}}
		publisher := &fakePublisher{}
		relay := newTestRelay(source, publisher)

		_, err := relay.Flush(context.Background())
		require.NoError(t, err)
		n, err := relay.Flush(context.Background())

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, publisher.messages, 1)
	})

	t.Run("wraps fetch error", func(t *testing.T) {
		source := &fakeSource{fetchErr: errors.New("db down")}

		_, err := newTestRelay(source, &fakePublisher{}).Flush(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch pending events")
	})
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{records: []Record{{ID: 1, EventID: "e1", Key: "o1"}}}
	publisher := &fakePublisher{}

	done := make(chan error, 1)
	go func() { done <- newTestRelay(source, publisher).Run(ctx) }()

	require.Eventually(t, func() bool { return source.sentCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
