package messaging

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestMessageCarrier(t *testing.T) {
	msg := kafka.Message{
		Headers: []kafka.Header{{Key: EventTypeHeader, Value: []byte("order.paid")}},
	}
	carrier := NewMessageCarrier(&msg)

	assert.Equal(t, "order.paid", carrier.Get(EventTypeHeader))
	assert.Empty(t, carrier.Get("traceparent"))

	carrier.Set("traceparent", "00-abc-def-01")
	carrier.Set(EventTypeHeader, "order.failed")

	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, "order.failed", carrier.Get(EventTypeHeader))
	assert.ElementsMatch(t, []string{EventTypeHeader, "traceparent"}, carrier.Keys())
	assert.Len(t, msg.Headers, 2)
}
