package identity

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/benmeehan/display-agent/pkg/file"
)

// Identity holds the device's unique identifier and other metadata.
type Identity struct {
	ID              string          `json:"device_id,omitempty"`
	Name            string          `json:"device_name,omitempty"`
	Serial          string          `json:"serial,omitempty"`
	HardwareVariant string          `json:"hardware_variant,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// DeviceInfoInterface defines methods for reading device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	GetDeviceID() string
	GetSerial() string
	GetHardwareVariant() string
	GetDeviceIdentity() *Identity
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) *DeviceInfo {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
	}
}

// LoadDeviceInfo reads the device information from the file and populates the Identity field.
func (d *DeviceInfo) LoadDeviceInfo() error {
	err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			d.Identity = Identity{}
			return nil
		}
		return err
	}

	return nil
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetDeviceID returns the current device ID.
func (d *DeviceInfo) GetDeviceID() string {
	return d.Identity.ID
}

// GetSerial returns the serial used to sign API requests, falling back to the device ID.
func (d *DeviceInfo) GetSerial() string {
	if d.Identity.Serial != "" {
		return d.Identity.Serial
	}
	return d.Identity.ID
}

// GetHardwareVariant returns the board identity used to pick firmware assets.
// Without one in the identity file the build architecture is used.
func (d *DeviceInfo) GetHardwareVariant() string {
	if d.Identity.HardwareVariant != "" {
		return d.Identity.HardwareVariant
	}
	return runtime.GOARCH
}
