package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/display-agent/pkg/file"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTClient defines the subset of the paho client the service uses.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// MessageHandler receives the topic and payload of an inbound message.
type MessageHandler func(topic string, payload []byte)

// Options configures the broker connection.
type Options struct {
	Broker        string
	ClientID      string
	CACertificate string // empty for plain TCP
	Username      string
	Password      string
	TLSVerify     bool
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MqttService is the realtime command channel. Connection attempts are
// started explicitly and never retried by the library itself, so the caller
// decides when the heap can afford a TLS handshake.
type MqttService struct {
	client     MQTTClient
	fileClient file.FileOperations
	logger     zerolog.Logger

	connecting atomic.Bool

	mu            sync.Mutex
	subscriptions map[string]subscription
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger) *MqttService {
	return &MqttService{
		fileClient:    fileClient,
		logger:        logger,
		subscriptions: map[string]subscription{},
	}
}

// NewMqttServiceWithClient wraps an existing client. Used by tests.
func NewMqttServiceWithClient(client MQTTClient, logger zerolog.Logger) *MqttService {
	s := NewMqttService(nil, logger)
	s.client = client
	return s
}

// Initialize builds the paho client. It does not connect.
func (s *MqttService) Initialize(o Options) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(20 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	if o.CACertificate != "" {
		caCert, err := s.fileClient.ReadFileRaw(o.CACertificate)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %v", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to append CA certificate")
		}
		opts.SetTLSConfig(&tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: !o.TLSVerify,
		})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) { s.onConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	s.client = mqtt.NewClient(opts)
	return nil
}

// Connect starts a connection attempt and returns immediately.
func (s *MqttService) Connect() error {
	if s.client == nil {
		return fmt.Errorf("mqtt client not initialized")
	}
	if !s.connecting.CompareAndSwap(false, true) {
		return nil
	}
	token := s.client.Connect()
	go func() {
		token.Wait()
		s.connecting.Store(false)
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Msg("MQTT connect failed")
		}
	}()
	return nil
}

// onConnect restores the subscriptions after every successful connect.
func (s *MqttService) onConnect() {
	s.mu.Lock()
	subs := make(map[string]subscription, len(s.subscriptions))
	for topic, sub := range s.subscriptions {
		subs[topic] = sub
	}
	s.mu.Unlock()

	s.logger.Info().Int("subscriptions", len(subs)).Msg("MQTT connected")
	for topic, sub := range subs {
		s.subscribe(topic, sub)
	}
}

func (s *MqttService) subscribe(topic string, sub subscription) {
	handler := sub.handler
	token := s.client.Subscribe(topic, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
			return
		}
		s.logger.Info().Str("topic", topic).Msg("Subscribed to MQTT topic")
	}()
}

// Subscribe registers handler for topic. The subscription is (re)established
// on every connect.
func (s *MqttService) Subscribe(topic string, qos byte, handler MessageHandler) {
	sub := subscription{qos: qos, handler: handler}
	s.mu.Lock()
	s.subscriptions[topic] = sub
	s.mu.Unlock()

	if s.IsConnected() {
		s.subscribe(topic, sub)
	}
}

// Unsubscribe forgets topic.
func (s *MqttService) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.subscriptions, topic)
	s.mu.Unlock()

	if s.IsConnected() {
		s.client.Unsubscribe(topic)
	}
}

// Publish sends payload and waits up to timeout for the broker.
func (s *MqttService) Publish(topic string, qos byte, payload []byte, timeout time.Duration) error {
	if !s.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := s.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Disconnect closes the connection, waiting briefly for in-flight work.
func (s *MqttService) Disconnect() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(250)
	s.connecting.Store(false)
}

func (s *MqttService) IsConnected() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *MqttService) IsConnecting() bool {
	return s.connecting.Load()
}
