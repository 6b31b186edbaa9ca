package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benmeehan/display-agent/internal/models"
)

var ErrNoAckEndpoint = errors.New("no ack endpoint configured")

// JSONPoster is the cloud API client used for acknowledgments.
type JSONPoster interface {
	PostJSON(ctx context.Context, url string, payload any, out any) error
	InFlight() bool
}

// HTTPAckClient posts acknowledgments to the cloud API.
type HTTPAckClient struct {
	url     string
	client  JSONPoster
	timeout time.Duration
}

func NewHTTPAckClient(url string, client JSONPoster, timeout time.Duration) *HTTPAckClient {
	return &HTTPAckClient{url: url, client: client, timeout: timeout}
}

func (c *HTTPAckClient) SendAck(ctx context.Context, ack models.CommandAck) error {
	if c.url == "" {
		return ErrNoAckEndpoint
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.client.PostJSON(ctx, c.url, ack, nil)
}

func (c *HTTPAckClient) InFlight() bool {
	return c.client.InFlight()
}

func (c *HTTPAckClient) UsesRealtime() bool {
	return false
}

// Publisher is the realtime channel side used to publish responses.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte, timeout time.Duration) error
}

// MQTTAckClient publishes acknowledgments on the device response topic. It is
// used when no ack endpoint is configured.
type MQTTAckClient struct {
	topic     string
	qos       byte
	publisher Publisher
	timeout   time.Duration
}

// NewMQTTAckClient publishes to <commandTopic>/<deviceID>/response.
func NewMQTTAckClient(commandTopic, deviceID string, qos byte, publisher Publisher, timeout time.Duration) *MQTTAckClient {
	return &MQTTAckClient{
		topic:     commandTopic + "/" + deviceID + "/response",
		qos:       qos,
		publisher: publisher,
		timeout:   timeout,
	}
}

func (c *MQTTAckClient) SendAck(ctx context.Context, ack models.CommandAck) error {
	payload, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.publisher.Publish(c.topic, c.qos, payload, c.timeout)
}

// InFlight is always false; publishes complete before SendAck returns.
func (c *MQTTAckClient) InFlight() bool {
	return false
}

func (c *MQTTAckClient) UsesRealtime() bool {
	return true
}
