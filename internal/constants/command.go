package constants

import "time"

// Command names understood by the dispatch table.
const (
	CommandGetStatus         = "get_status"
	CommandGetTelemetry      = "get_telemetry"
	CommandGetConfig         = "get_config"
	CommandSetConfig         = "set_config"
	CommandSetBrightness     = "set_brightness"
	CommandCheckUpdate       = "check_update"
	CommandPerformUpdate     = "perform_update"
	CommandClearFailedUpdate = "clear_failed_update"
	CommandReboot            = "reboot"
	CommandFactoryReset      = "factory_reset"
)

const (
	AckQueueCapacity           = 4
	ProcessedIDCapacity        = 8
	CommandInboxSize           = 16
	DefaultBrightness          = 128
	DefaultRestartDelay        = 500 * time.Millisecond
	DefaultActionRealtimeDefer = 60 * time.Second
	PendingActionLogInterval   = 10 * time.Second
	DefaultMaxCommandPayload   = 8 * 1024

	// Headroom required before sending an acknowledgment over TLS.
	AckMinFreeHeap  = 65000
	AckMinHeapBlock = 40000
)

const FactoryResetRemoteRejected = "Factory reset must be performed locally via serial console"
