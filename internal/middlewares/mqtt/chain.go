package mqtt_middleware

import (
	"github.com/benmeehan/display-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

// Middleware wraps an inbound message handler.
type Middleware func(next mqtt.MessageHandler) mqtt.MessageHandler

// Subscriber is the part of the realtime channel a chain decorates.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler)
	Unsubscribe(topic string)
}

// ChainedSubscriber runs every inbound message through a middleware chain
// before it reaches the subscribed handler.
type ChainedSubscriber struct {
	middlewares []Middleware
	subscriber  Subscriber
}

// NewChainedSubscriber creates a new chained subscriber. The first
// middleware is the outermost one.
func NewChainedSubscriber(subscriber Subscriber, middlewares ...Middleware) *ChainedSubscriber {
	return &ChainedSubscriber{
		middlewares: middlewares,
		subscriber:  subscriber,
	}
}

// Chain applies middlewares to handler.
func Chain(handler mqtt.MessageHandler, middlewares ...Middleware) mqtt.MessageHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// Subscribe subscribes through the middleware chain.
func (c *ChainedSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) {
	c.subscriber.Subscribe(topic, qos, Chain(handler, c.middlewares...))
}

// Unsubscribe is passed through unchanged.
func (c *ChainedSubscriber) Unsubscribe(topic string) {
	c.subscriber.Unsubscribe(topic)
}

// Recoverer stops a panicking handler from taking down the client's
// delivery goroutine.
func Recoverer(logger zerolog.Logger) Middleware {
	return func(next mqtt.MessageHandler) mqtt.MessageHandler {
		return func(topic string, payload []byte) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Str("topic", topic).Msg("MQTT handler panicked")
				}
			}()
			next(topic, payload)
		}
	}
}

// SizeLimit drops messages larger than max bytes.
func SizeLimit(max int, logger zerolog.Logger) Middleware {
	return func(next mqtt.MessageHandler) mqtt.MessageHandler {
		return func(topic string, payload []byte) {
			if len(payload) > max {
				logger.Warn().Str("topic", topic).Int("size", len(payload)).Int("max", max).Msg("Dropping oversized MQTT message")
				return
			}
			next(topic, payload)
		}
	}
}

// MessageLogger logs every inbound message at debug level.
func MessageLogger(logger zerolog.Logger) Middleware {
	return func(next mqtt.MessageHandler) mqtt.MessageHandler {
		return func(topic string, payload []byte) {
			logger.Debug().Str("topic", topic).Int("size", len(payload)).Msg("MQTT message received")
			next(topic, payload)
		}
	}
}
