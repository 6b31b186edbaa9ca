package mqtt_middleware

import (
	"testing"

	"github.com/benmeehan/display-agent/pkg/mqtt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type captureSubscriber struct {
	handlers map[string]mqtt.MessageHandler
}

func (c *captureSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) {
	c.handlers[topic] = handler
}

func (c *captureSubscriber) Unsubscribe(topic string) {
	delete(c.handlers, topic)
}

func tag(name string, log *[]string) Middleware {
	return func(next mqtt.MessageHandler) mqtt.MessageHandler {
		return func(topic string, payload []byte) {
			*log = append(*log, name)
			next(topic, payload)
		}
	}
}

// TestChain_Order tests that the first middleware runs first.
func TestChain_Order(t *testing.T) {
	var log []string
	handler := Chain(func(topic string, payload []byte) {
		log = append(log, "handler")
	}, tag("outer", &log), tag("inner", &log))

	handler("t", nil)

	assert.Equal(t, []string{"outer", "inner", "handler"}, log)
}

// TestChainedSubscriber tests the size limit and panic recovery on subscribed handlers.
func TestChainedSubscriber(t *testing.T) {
	// Setup
	inner := &captureSubscriber{handlers: map[string]mqtt.MessageHandler{}}
	sub := NewChainedSubscriber(inner, Recoverer(zerolog.Nop()), MessageLogger(zerolog.Nop()), SizeLimit(8, zerolog.Nop()))
	var got []string

	// Execute
	sub.Subscribe("devices/commands/dev-1", 1, func(topic string, payload []byte) {
		if string(payload) == "panic" {
			panic("boom")
		}
		got = append(got, string(payload))
	})
	handler := inner.handlers["devices/commands/dev-1"]
	handler("devices/commands/dev-1", []byte("small"))
	handler("devices/commands/dev-1", []byte("far too large"))
	assert.NotPanics(t, func() { handler("devices/commands/dev-1", []byte("panic")) })
	sub.Unsubscribe("devices/commands/dev-1")

	// Assert
	assert.Equal(t, []string{"small"}, got)
	assert.Empty(t, inner.handlers)
}
