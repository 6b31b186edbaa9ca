package utils

import (
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/pkg/file"
)

// SlotConfig describes one flash slot backed by a block device or image file.
type SlotConfig struct {
	Label  string `yaml:"label"`  // Partition label, e.g. app0
	Path   string `yaml:"path"`   // Block device or image file
	Offset int64  `yaml:"offset"` // Byte offset of the slot inside Path
	Size   int64  `yaml:"size"`   // Slot capacity in bytes
}

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Console writer instead of JSON
	} `yaml:"log"`

	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
	} `yaml:"mqtt"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Security struct {
		SigningKeyFile string `yaml:"signing_key_file"` // HMAC key used to sign API requests
	} `yaml:"security"`

	API struct {
		AckURL         string        `yaml:"ack_url"`         // Endpoint receiving command acknowledgments
		TokenFile      string        `yaml:"token_file"`      // Bearer token for the API
		RequestTimeout time.Duration `yaml:"request_timeout"` // Timeout for API requests
	} `yaml:"api"`

	OTA struct {
		Enabled           bool          `yaml:"enabled"`
		CurrentVersion    string        `yaml:"current_version"`    // Overrides the build version
		ManifestURL       string        `yaml:"manifest_url"`       // Version manifest, tried first
		ReleaseURL        string        `yaml:"release_url"`        // Release API fallback
		HardwareVariant   string        `yaml:"hardware_variant"`   // Overrides the identity file
		KnownVariants     []string      `yaml:"known_variants"`     // Variant tokens recognised in asset names
		AutoUpdate        bool          `yaml:"auto_update"`        // Install automatically when a check finds an update
		CheckInterval     time.Duration `yaml:"check_interval"`     // Interval between automatic checks
		StateFile         string        `yaml:"state_file"`         // Partition versions and failed marker
		WatchdogTimeout   time.Duration `yaml:"watchdog_timeout"`   // Watchdog budget while an update runs
		RealtimeDefer     time.Duration `yaml:"realtime_defer"`     // Realtime reconnect deferral during an update
		CheckDefer        time.Duration `yaml:"check_defer"`        // Realtime reconnect deferral during a check
		AbortCooldown     time.Duration `yaml:"abort_cooldown"`     // Realtime deferral after an aborted update
		HeaderReadTimeout time.Duration `yaml:"header_read_timeout"`

		Retry struct {
			MaxAttempts int           `yaml:"max_attempts"`
			BaseDelay   time.Duration `yaml:"base_delay"`
			MaxDelay    time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`

		Transfer struct {
			BufferSize    int           `yaml:"buffer_size"`
			StallTimeout  time.Duration `yaml:"stall_timeout"`
			PollInterval  time.Duration `yaml:"poll_interval"`
			YieldInterval time.Duration `yaml:"yield_interval"`
			ProgressStep  int           `yaml:"progress_step"` // Percent between progress callbacks
		} `yaml:"transfer"`
	} `yaml:"ota"`

	Flash struct {
		AppSlots   []SlotConfig `yaml:"app_slots"`
		Filesystem SlotConfig   `yaml:"filesystem"`
		BootFile   string       `yaml:"boot_file"` // Persisted boot selector
	} `yaml:"flash"`

	Heap struct {
		SampleInterval   time.Duration `yaml:"sample_interval"`
		LowFree          uint64        `yaml:"low_free"`
		LowBlock         uint64        `yaml:"low_block"`
		CriticalFree     uint64        `yaml:"critical_free"`
		LowDuration      time.Duration `yaml:"low_duration"`
		CriticalDuration time.Duration `yaml:"critical_duration"`
		RecoveryCooldown time.Duration `yaml:"recovery_cooldown"`
		RecoveryDefer    time.Duration `yaml:"recovery_defer"`
		LogInterval      time.Duration `yaml:"log_interval"`
		Scale            uint64        `yaml:"scale"` // Divides probe readings, lets host builds reuse device thresholds
	} `yaml:"heap"`

	Commands struct {
		Enabled                 bool          `yaml:"enabled"`
		Topic                   string        `yaml:"topic"` // MQTT topic prefix, device id appended
		QOS                     int           `yaml:"qos"`
		SettingsFile            string        `yaml:"settings_file"`
		AllowRemoteFactoryReset bool          `yaml:"allow_remote_factory_reset"`
		RestartDelay            time.Duration `yaml:"restart_delay"`
		ActionDefer             time.Duration `yaml:"action_defer"`
		MaxPayload              int           `yaml:"max_payload"`
	} `yaml:"commands"`

	Web struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"web"`

	Storage struct {
		S3 struct {
			Enabled   bool   `yaml:"enabled"`
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	System struct {
		LoopInterval    time.Duration `yaml:"loop_interval"`
		WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
		RestartCommand  []string      `yaml:"restart_command"` // Empty exits the process for the supervisor to restart
		RestartExitCode int           `yaml:"restart_exit_code"`
	} `yaml:"system"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(&config)
	return &config, nil
}

// ApplyDefaults fills zero values with the built-in defaults.
func ApplyDefaults(c *Config) {
	setDuration(&c.API.RequestTimeout, constants.DefaultRequestTimeout)

	setDuration(&c.OTA.CheckInterval, constants.DefaultUpdateCheckInterval)
	setDuration(&c.OTA.WatchdogTimeout, constants.DefaultOTAWatchdogTimeout)
	setDuration(&c.OTA.RealtimeDefer, constants.DefaultUpdateRealtimeDefer)
	setDuration(&c.OTA.CheckDefer, constants.DefaultCheckRealtimeDefer)
	setDuration(&c.OTA.AbortCooldown, constants.DefaultAbortCooldown)
	setDuration(&c.OTA.HeaderReadTimeout, constants.DefaultHeaderReadTimeout)
	if c.OTA.StateFile == "" {
		c.OTA.StateFile = "/var/lib/display-agent/ota-state.json"
	}
	if len(c.OTA.KnownVariants) == 0 {
		c.OTA.KnownVariants = []string{"esp32", "esp32s2", "esp32s3", "esp32c3"}
	}
	if c.OTA.Retry.MaxAttempts == 0 {
		c.OTA.Retry.MaxAttempts = constants.DefaultMaxRetryAttempts
	}
	setDuration(&c.OTA.Retry.BaseDelay, constants.DefaultRetryBaseDelay)
	setDuration(&c.OTA.Retry.MaxDelay, constants.DefaultRetryMaxDelay)
	if c.OTA.Transfer.BufferSize == 0 {
		c.OTA.Transfer.BufferSize = constants.DefaultTransferBufferSize
	}
	if c.OTA.Transfer.ProgressStep == 0 {
		c.OTA.Transfer.ProgressStep = constants.DefaultProgressStep
	}
	setDuration(&c.OTA.Transfer.StallTimeout, constants.DefaultStallTimeout)
	setDuration(&c.OTA.Transfer.PollInterval, constants.DefaultStallPollInterval)
	setDuration(&c.OTA.Transfer.YieldInterval, constants.DefaultYieldInterval)

	if c.Flash.BootFile == "" {
		c.Flash.BootFile = "/var/lib/display-agent/boot.json"
	}

	setDuration(&c.Heap.SampleInterval, constants.HeapSampleInterval)
	setUint(&c.Heap.LowFree, constants.HeapLowFree)
	setUint(&c.Heap.LowBlock, constants.HeapLowBlock)
	setUint(&c.Heap.CriticalFree, constants.HeapCriticalFree)
	setDuration(&c.Heap.LowDuration, constants.HeapLowDuration)
	setDuration(&c.Heap.CriticalDuration, constants.HeapCriticalDuration)
	setDuration(&c.Heap.RecoveryCooldown, constants.HeapRecoveryCooldown)
	setDuration(&c.Heap.RecoveryDefer, constants.HeapRecoveryDefer)
	setDuration(&c.Heap.LogInterval, constants.HeapLogInterval)
	setUint(&c.Heap.Scale, 1)

	if c.Commands.Topic == "" {
		c.Commands.Topic = "devices/commands"
	}
	if c.Commands.SettingsFile == "" {
		c.Commands.SettingsFile = "/var/lib/display-agent/settings.json"
	}
	setDuration(&c.Commands.RestartDelay, constants.DefaultRestartDelay)
	setDuration(&c.Commands.ActionDefer, constants.DefaultActionRealtimeDefer)
	if c.Commands.MaxPayload <= 0 {
		c.Commands.MaxPayload = constants.DefaultMaxCommandPayload
	}

	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = ":8080"
	}

	setDuration(&c.System.LoopInterval, 50*time.Millisecond)
	setDuration(&c.System.WatchdogTimeout, constants.DefaultLoopWatchdogTimeout)
	if c.System.RestartExitCode == 0 {
		c.System.RestartExitCode = 42
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setUint(v *uint64, def uint64) {
	if *v == 0 {
		*v = def
	}
}
