package models

// DeviceState is the OTA state that survives a reboot.
type DeviceState struct {
	PartitionVersions map[string]string `json:"partition_versions"`
	FailedOTAVersion  string            `json:"failed_ota_version,omitempty"`
}

// DeviceSettings is the user-facing device configuration wiped by a factory reset.
type DeviceSettings struct {
	DisplayName    string `json:"display_name,omitempty"`
	Brightness     int    `json:"brightness"`
	ScrollSpeedMs  int    `json:"scroll_speed_ms,omitempty"`
	PageIntervalMs int    `json:"page_interval_ms,omitempty"`
	TimeZone       string `json:"time_zone,omitempty"`
	AutoUpdate     *bool  `json:"auto_update,omitempty"`
	TLSVerify      *bool  `json:"tls_verify,omitempty"`
	MQTTBroker     string `json:"mqtt_broker,omitempty"`
}

// DeviceStatus is served by the local status API and the get_status command.
type DeviceStatus struct {
	DeviceID          string            `json:"device_id"`
	Version           string            `json:"version"`
	RunningPartition  string            `json:"running_partition,omitempty"`
	BootPartition     string            `json:"boot_partition,omitempty"`
	PartitionVersions map[string]string `json:"partition_versions,omitempty"`
	Update            UpdateStatus      `json:"update"`
	Heap              HeapStats         `json:"heap"`
	UptimeSeconds     int64             `json:"uptime_seconds"`
}
