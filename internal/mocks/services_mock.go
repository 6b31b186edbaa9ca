package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/display-agent/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRealtimeChannel is a mock implementation of the RealtimeChannel interface
type MockRealtimeChannel struct {
	mock.Mock
}

func (m *MockRealtimeChannel) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRealtimeChannel) Disconnect() {
	m.Called()
}

func (m *MockRealtimeChannel) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockRealtimeChannel) IsConnecting() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockRealtimeController is a mock implementation of the RealtimeController interface
type MockRealtimeController struct {
	mock.Mock
}

func (m *MockRealtimeController) Pause(d time.Duration) {
	m.Called(d)
}

func (m *MockRealtimeController) Defer(d time.Duration) {
	m.Called(d)
}

func (m *MockRealtimeController) IsConnecting() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockWebServer is a mock implementation of the WebServerControl interface
type MockWebServer struct {
	mock.Mock
}

func (m *MockWebServer) IsRunning() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockWebServer) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockWebServer) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockWatchdog is a mock implementation of the Watchdog interface
type MockWatchdog struct {
	mock.Mock
}

func (m *MockWatchdog) Feed() {
	m.Called()
}

func (m *MockWatchdog) SetTimeout(d time.Duration) {
	m.Called(d)
}

func (m *MockWatchdog) RestoreTimeout() {
	m.Called()
}

// MockRestarter is a mock implementation of the Restarter interface
type MockRestarter struct {
	mock.Mock
}

func (m *MockRestarter) Restart(reason string) {
	m.Called(reason)
}

// MockHeapProbe is a mock implementation of the HeapProbe interface
type MockHeapProbe struct {
	mock.Mock
}

func (m *MockHeapProbe) Sample() (models.HeapSample, error) {
	args := m.Called()
	return args.Get(0).(models.HeapSample), args.Error(1)
}

// MockAckClient is a mock implementation of the AckClient interface
type MockAckClient struct {
	mock.Mock
}

func (m *MockAckClient) SendAck(ctx context.Context, ack models.CommandAck) error {
	args := m.Called(ctx, ack)
	return args.Error(0)
}

func (m *MockAckClient) InFlight() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAckClient) UsesRealtime() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockUpdateChecker is a mock implementation of the UpdateChecker interface
type MockUpdateChecker struct {
	mock.Mock
}

func (m *MockUpdateChecker) CheckForUpdate(ctx context.Context) (models.UpdateCheckResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.UpdateCheckResult), args.Error(1)
}

func (m *MockUpdateChecker) CurrentVersion() string {
	args := m.Called()
	return args.String(0)
}
