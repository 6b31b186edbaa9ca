package models

import "time"

// HeapSample is one reading of available memory.
type HeapSample struct {
	FreeBytes    uint64    `json:"free_bytes"`
	LargestBlock uint64    `json:"largest_block_bytes"`
	TakenAt      time.Time `json:"taken_at"`
}

// HeapStats summarises the resource guard state for status output.
type HeapStats struct {
	Current        HeapSample `json:"current"`
	Minimum        uint64     `json:"min_free_bytes"`
	Declining      bool       `json:"declining"`
	RecoveryCount  int        `json:"recovery_count"`
	LastRecoveryAt time.Time  `json:"last_recovery_at,omitempty"`
}

// Telemetry is the response body of the get_telemetry command.
type Telemetry struct {
	Timestamp time.Time          `json:"timestamp"`
	DeviceID  string             `json:"device_id"`
	Metrics   map[string]float64 `json:"metrics"`
	Heap      HeapStats          `json:"heap"`
}
