package mocks

import (
	"github.com/benmeehan/display-agent/pkg/identity"
	"github.com/stretchr/testify/mock"
)

// MockDeviceInfo is a mock implementation of the DeviceInfoInterface
type MockDeviceInfo struct {
	mock.Mock
}

func (m *MockDeviceInfo) LoadDeviceInfo() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDeviceInfo) GetDeviceIdentity() *identity.Identity {
	args := m.Called()
	if id := args.Get(0); id != nil {
		return id.(*identity.Identity)
	}
	return nil
}

func (m *MockDeviceInfo) GetDeviceID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockDeviceInfo) GetSerial() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockDeviceInfo) GetHardwareVariant() string {
	args := m.Called()
	return args.String(0)
}
