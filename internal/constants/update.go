package constants

import "time"

type UpdateState string

const (
	UpdateStateIdle             UpdateState = "idle"
	UpdateStateCheckingManifest UpdateState = "checking_manifest"
	UpdateStateNoUpdate         UpdateState = "no_update"
	UpdateStateUpdateAvailable  UpdateState = "update_available"
	UpdateStatePreparing        UpdateState = "preparing"
	UpdateStateDownloading      UpdateState = "downloading"
	UpdateStateFlashing         UpdateState = "flashing"
	UpdateStateDownloadingFS    UpdateState = "downloading_fs"
	UpdateStateFlashingFS       UpdateState = "flashing_fs"
	UpdateStateFinalizing       UpdateState = "finalizing"
	UpdateStateRebooting        UpdateState = "rebooting"
	UpdateStateAborted          UpdateState = "aborted"
)

// UpdateTrigger tells whether an update cycle was started by the scheduler or by a user.
type UpdateTrigger string

const (
	UpdateTriggerAutomatic UpdateTrigger = "automatic"
	UpdateTriggerManual    UpdateTrigger = "manual"
)

// Image formats served by the manifest or the release API.
const (
	ImageFormatBinary = "bin"
	ImageFormatBundle = "bundle"
)

// Update source labels reported in check results.
const (
	UpdateSourceManifest = "manifest"
	UpdateSourceRelease  = "release"
)

const (
	DefaultUpdateCheckInterval = time.Hour
	DefaultCheckRealtimeDefer  = 30 * time.Second
	DefaultUpdateRealtimeDefer = 10 * time.Minute
	DefaultAbortCooldown       = time.Minute
	DefaultOTAWatchdogTimeout  = 120 * time.Second
	DefaultLoopWatchdogTimeout = 30 * time.Second

	DefaultMaxRetryAttempts = 3
	DefaultRetryBaseDelay   = 2 * time.Second
	DefaultRetryMaxDelay    = 15 * time.Second

	DefaultTransferBufferSize = 2048
	DefaultStallTimeout       = 60 * time.Second
	DefaultStallPollInterval  = 20 * time.Millisecond
	DefaultYieldInterval      = 5 * time.Millisecond
	DefaultProgressStep       = 5
	DefaultHeaderReadTimeout  = 10 * time.Second
	DefaultRequestTimeout     = 15 * time.Second

	// Share of the status progress bar given to the application image of a bundle.
	BundleFirmwareProgressShare = 85
)
