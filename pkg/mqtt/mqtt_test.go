package mqtt_test

import (
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/display-agent/internal/mocks"
	"github.com/benmeehan/display-agent/pkg/mqtt"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestMqttService_Publish tests publishing while connected.
func TestMqttService_Publish(t *testing.T) {
	// Setup
	mockClient := new(mocks.MockMQTTClient)
	mockClient.On("IsConnectionOpen").Return(true)
	mockClient.On("Publish", "devices/dev-1/response", byte(1), false, []byte("ok")).Return(mocks.CompletedToken(nil))
	service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

	// Execute
	err := service.Publish("devices/dev-1/response", 1, []byte("ok"), time.Second)

	// Assert
	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
}

// TestMqttService_Publish_Errors tests the offline, timeout and broker error paths.
func TestMqttService_Publish_Errors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		mockClient := new(mocks.MockMQTTClient)
		mockClient.On("IsConnectionOpen").Return(false)
		service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

		err := service.Publish("t", 1, []byte("x"), time.Second)

		assert.EqualError(t, err, "mqtt not connected")
	})

	t.Run("timeout", func(t *testing.T) {
		token := new(mocks.MockToken)
		token.On("WaitTimeout", time.Second).Return(false)
		mockClient := new(mocks.MockMQTTClient)
		mockClient.On("IsConnectionOpen").Return(true)
		mockClient.On("Publish", "t", byte(1), false, mock.Anything).Return(token)
		service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

		err := service.Publish("t", 1, []byte("x"), time.Second)

		assert.EqualError(t, err, "publish to t timed out")
	})

	t.Run("broker error", func(t *testing.T) {
		mockClient := new(mocks.MockMQTTClient)
		mockClient.On("IsConnectionOpen").Return(true)
		mockClient.On("Publish", "t", byte(1), false, mock.Anything).Return(mocks.CompletedToken(errors.New("not authorized")))
		service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

		err := service.Publish("t", 1, []byte("x"), time.Second)

		assert.EqualError(t, err, "not authorized")
	})
}

// TestMqttService_Subscribe tests that messages reach the handler once connected.
func TestMqttService_Subscribe(t *testing.T) {
	// Setup
	mockClient := new(mocks.MockMQTTClient)
	mockClient.On("IsConnectionOpen").Return(true)
	mockClient.On("Subscribe", "devices/commands/dev-1", byte(1), mock.Anything).Return(mocks.CompletedToken(nil))
	service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

	received := make(chan string, 1)

	// Execute
	service.Subscribe("devices/commands/dev-1", 1, func(topic string, payload []byte) {
		received <- topic + ":" + string(payload)
	})

	// Assert
	require.Len(t, mockClient.Calls, 2)
	callback := mockClient.Calls[1].Arguments.Get(2).(paho.MessageHandler)
	callback(nil, mocks.NewMockMessage("devices/commands/dev-1", []byte(`{"id":"1"}`)))
	assert.Equal(t, `devices/commands/dev-1:{"id":"1"}`, <-received)
}

// TestMqttService_Subscribe_Offline tests that subscriptions wait for a connection.
func TestMqttService_Subscribe_Offline(t *testing.T) {
	mockClient := new(mocks.MockMQTTClient)
	mockClient.On("IsConnectionOpen").Return(false)
	service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

	service.Subscribe("devices/commands/dev-1", 1, func(string, []byte) {})
	service.Unsubscribe("devices/commands/dev-1")

	mockClient.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)
	mockClient.AssertNotCalled(t, "Unsubscribe", mock.Anything)
}

// TestMqttService_Connect tests that only one attempt runs at a time.
func TestMqttService_Connect(t *testing.T) {
	// Setup
	token := new(mocks.MockToken)
	release := make(chan struct{})
	token.On("Wait").Run(func(mock.Arguments) { <-release }).Return(true)
	token.On("Error").Return(nil)
	mockClient := new(mocks.MockMQTTClient)
	mockClient.On("Connect").Return(token)
	service := mqtt.NewMqttServiceWithClient(mockClient, zerolog.Nop())

	// Execute
	require.NoError(t, service.Connect())
	require.NoError(t, service.Connect())

	// Assert
	assert.True(t, service.IsConnecting())
	close(release)
	assert.Eventually(t, func() bool { return !service.IsConnecting() }, time.Second, 5*time.Millisecond)
	mockClient.AssertNumberOfCalls(t, "Connect", 1)
}

// TestMqttService_NotInitialized tests Connect without a client.
func TestMqttService_NotInitialized(t *testing.T) {
	service := mqtt.NewMqttService(nil, zerolog.Nop())

	assert.Error(t, service.Connect())
	assert.False(t, service.IsConnected())
	service.Disconnect()
}
