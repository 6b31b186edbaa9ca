package service_registry

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/benmeehan/display-agent/internal/metrics_collectors"
	http_middleware "github.com/benmeehan/display-agent/internal/middlewares/http"
	mqtt_middleware "github.com/benmeehan/display-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/display-agent/internal/services"
	"github.com/benmeehan/display-agent/internal/state_managers"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/benmeehan/display-agent/pkg/encryption"
	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/benmeehan/display-agent/pkg/flash"
	http_utils "github.com/benmeehan/display-agent/pkg/httpUtils"
	"github.com/benmeehan/display-agent/pkg/identity"
	"github.com/benmeehan/display-agent/pkg/mqtt"
	"github.com/benmeehan/display-agent/pkg/transfer"
	"github.com/rs/zerolog"
)

// Dependencies are the process-wide collaborators built by the CLI. Realtime
// and Signer may be nil.
type Dependencies struct {
	Config     *utils.Config
	Version    string
	FileClient file.FileOperations
	DeviceInfo identity.DeviceInfoInterface
	Realtime   *mqtt.MqttService
	API        *http_utils.APIClient
	Signer     *encryption.HMACSigner
	Opener     transfer.Opener
	Flash      flash.FlashTarget
	HeapProbe  services.HeapProbe
	Restarter  services.Restarter
	Clock      utils.Clock
	Logger     zerolog.Logger
}

// Components are the wired agent parts, exposed for the CLI subcommands.
type Components struct {
	State        *state_managers.DeviceStateManager
	Settings     *state_managers.SettingsManager
	Guard        *services.ResourceGuard
	Realtime     *services.RealtimeSupervisor
	Resolver     *services.ManifestResolver
	Orchestrator *services.OTAOrchestrator
	Commands     *services.CommandProcessor
	Status       *services.StatusReporter
	Web          *services.StatusServer
	Watchdog     *services.SoftwareWatchdog
	Metrics      *metrics_collectors.MetricsRegistry
}

// Build constructs every component from deps and registers the enabled ones
// with the run loop. Tick order: watchdog, resource guard, realtime, commands, ota.
func (sr *ServiceRegistry) Build(deps Dependencies) (*Components, error) {
	cfg := deps.Config
	logger := deps.Logger
	c := &Components{}

	var err error
	c.State, err = state_managers.NewDeviceStateManager(cfg.OTA.StateFile, deps.FileClient, logger.With().Str("component", "device_state").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to load device state: %w", err)
	}
	c.Settings, err = state_managers.NewSettingsManager(cfg.Commands.SettingsFile, deps.FileClient, logger.With().Str("component", "settings").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	c.Watchdog = services.NewSoftwareWatchdog(cfg.System.WatchdogTimeout, deps.Restarter, logger.With().Str("component", "watchdog").Logger())

	guardCfg := services.DefaultResourceGuardConfig()
	guardCfg.SampleInterval = cfg.Heap.SampleInterval
	guardCfg.LowFree = cfg.Heap.LowFree
	guardCfg.LowBlock = cfg.Heap.LowBlock
	guardCfg.CriticalFree = cfg.Heap.CriticalFree
	guardCfg.LowDuration = cfg.Heap.LowDuration
	guardCfg.CriticalDuration = cfg.Heap.CriticalDuration
	guardCfg.RecoveryCooldown = cfg.Heap.RecoveryCooldown
	guardCfg.RecoveryDefer = cfg.Heap.RecoveryDefer
	guardCfg.LogInterval = cfg.Heap.LogInterval
	c.Guard = services.NewResourceGuard(guardCfg, deps.HeapProbe, nil, deps.Clock, logger.With().Str("component", "resource_guard").Logger())

	var channel services.RealtimeChannel
	if deps.Realtime != nil {
		channel = deps.Realtime
	}
	c.Realtime = services.NewRealtimeSupervisor(channel, c.Guard, deps.Clock, logger.With().Str("component", "realtime").Logger())
	c.Guard.SetRealtime(c.Realtime)

	c.Metrics = metrics_collectors.NewMetricsRegistry(5*time.Second, logger)
	metricsLogger := logger.With().Str("component", "metrics").Logger()
	c.Metrics.Register(metrics_collectors.NewCPUCollector(metricsLogger))
	c.Metrics.Register(metrics_collectors.NewLoadCollector(metricsLogger))
	c.Metrics.Register(metrics_collectors.NewMemoryCollector(metricsLogger))
	c.Metrics.Register(metrics_collectors.NewDiskCollector(filepath.Dir(cfg.OTA.StateFile), metricsLogger))
	c.Metrics.Register(metrics_collectors.NewGoroutineCollector())

	variant := cfg.OTA.HardwareVariant
	if variant == "" {
		variant = deps.DeviceInfo.GetHardwareVariant()
	}
	currentVersion := deps.Version
	if cfg.OTA.CurrentVersion != "" {
		currentVersion = cfg.OTA.CurrentVersion
	}
	c.Resolver = services.NewManifestResolver(services.ManifestResolverConfig{
		ManifestURL:     cfg.OTA.ManifestURL,
		ReleaseURL:      cfg.OTA.ReleaseURL,
		CurrentVersion:  currentVersion,
		HardwareVariant: variant,
		KnownVariants:   cfg.OTA.KnownVariants,
	}, deps.API, deps.Clock, logger.With().Str("component", "resolver").Logger())

	engine := transfer.NewEngine(transfer.Options{
		BufferSize:    cfg.OTA.Transfer.BufferSize,
		StallTimeout:  cfg.OTA.Transfer.StallTimeout,
		PollInterval:  cfg.OTA.Transfer.PollInterval,
		YieldInterval: cfg.OTA.Transfer.YieldInterval,
		ProgressStep:  cfg.OTA.Transfer.ProgressStep,
	}, deps.Clock, c.Guard, c.Watchdog.Feed, logger.With().Str("component", "transfer").Logger())
	writer := flash.NewWriter(deps.Flash, c.State, logger.With().Str("component", "flash").Logger())

	c.Status = &services.StatusReporter{
		DeviceID: deps.DeviceInfo.GetDeviceID(),
		Version:  currentVersion,
		Heap:     c.Guard,
		State:    c.State,
		Flash:    deps.Flash,
		Clock:    deps.Clock,
		Started:  deps.Clock.Now(),
	}

	orchCfg := services.DefaultOrchestratorConfig()
	orchCfg.AutoUpdate = cfg.OTA.AutoUpdate
	orchCfg.CheckInterval = cfg.OTA.CheckInterval
	orchCfg.CheckDefer = cfg.OTA.CheckDefer
	orchCfg.UpdateDefer = cfg.OTA.RealtimeDefer
	orchCfg.AbortCooldown = cfg.OTA.AbortCooldown
	orchCfg.WatchdogTimeout = cfg.OTA.WatchdogTimeout
	orchCfg.HeaderReadTimeout = cfg.OTA.HeaderReadTimeout
	orchCfg.Retry = transfer.RetryPolicy{
		MaxAttempts: cfg.OTA.Retry.MaxAttempts,
		BaseDelay:   cfg.OTA.Retry.BaseDelay,
		MaxDelay:    cfg.OTA.Retry.MaxDelay,
	}
	orchDeps := services.OrchestratorDeps{
		Resolver:  c.Resolver,
		Opener:    deps.Opener,
		Engine:    engine,
		Writer:    writer,
		Headroom:  c.Guard,
		Realtime:  c.Realtime,
		Watchdog:  c.Watchdog,
		Restarter: deps.Restarter,
		Marker:    c.State,
		Settings:  c.Settings,
		Clock:     deps.Clock,
	}

	if cfg.Web.Enabled {
		var verifier http_middleware.SignatureVerifier
		if deps.Signer != nil {
			verifier = deps.Signer
		}
		c.Web = services.NewStatusServer(cfg.Web.ListenAddr, c.Status, nil, verifier, logger.With().Str("component", "web").Logger())
		orchDeps.Web = c.Web
	}
	c.Orchestrator = services.NewOTAOrchestrator(orchCfg, orchDeps, logger.With().Str("component", "ota").Logger())
	c.Status.Updates = c.Orchestrator
	if c.Web != nil {
		c.Web.SetUpdates(c.Orchestrator)
	}

	var acks services.AckClient = services.NewHTTPAckClient(cfg.API.AckURL, deps.API, cfg.API.RequestTimeout)
	var subscriber services.CommandSubscriber
	if deps.Realtime != nil {
		inboundLogger := logger.With().Str("component", "commands_inbound").Logger()
		subscriber = mqtt_middleware.NewChainedSubscriber(deps.Realtime,
			mqtt_middleware.Recoverer(inboundLogger),
			mqtt_middleware.MessageLogger(inboundLogger),
			mqtt_middleware.SizeLimit(cfg.Commands.MaxPayload, inboundLogger),
		)
		if cfg.API.AckURL == "" {
			acks = services.NewMQTTAckClient(cfg.Commands.Topic, deps.DeviceInfo.GetDeviceID(), byte(cfg.Commands.QOS), deps.Realtime, cfg.API.RequestTimeout)
		}
	}
	c.Commands = services.NewCommandProcessor(services.CommandProcessorConfig{
		Topic:        cfg.Commands.Topic,
		QOS:          byte(cfg.Commands.QOS),
		DeviceID:     deps.DeviceInfo.GetDeviceID(),
		RestartDelay: cfg.Commands.RestartDelay,
		ActionDefer:  cfg.Commands.ActionDefer,
	}, services.CommandProcessorDeps{
		Subscriber: subscriber,
		Acks:       acks,
		Headroom:   c.Guard,
		Realtime:   c.Realtime,
		Restarter:  deps.Restarter,
		Settings:   c.Settings,
		Clock:      deps.Clock,
	}, logger.With().Str("component", "commands").Logger())
	services.RegisterCommands(c.Commands, services.CommandTable{
		DeviceID:                deps.DeviceInfo.GetDeviceID(),
		Status:                  c.Status,
		Updates:                 c.Orchestrator,
		Telemetry:               c.Metrics,
		Heap:                    c.Guard,
		Settings:                c.Settings,
		AllowRemoteFactoryReset: cfg.Commands.AllowRemoteFactoryReset,
		Clock:                   deps.Clock,
	})

	sr.register(cfg, c)
	return c, nil
}

// register wires the enabled components into the lifecycle and the loop.
func (sr *ServiceRegistry) register(cfg *utils.Config, c *Components) {
	sr.RegisterService("watchdog", c.Watchdog)
	sr.RegisterTicker(c.Watchdog)
	sr.RegisterTicker(c.Guard)
	sr.RegisterTicker(c.Realtime)

	if cfg.Commands.Enabled {
		sr.RegisterService("commands", c.Commands)
		sr.RegisterTicker(c.Commands)
	} else {
		sr.Logger.Debug().Str("component", "commands").Msg("Component is disabled, skipping")
	}
	if cfg.OTA.Enabled {
		sr.RegisterTicker(c.Orchestrator)
	} else {
		sr.Logger.Debug().Str("component", "ota").Msg("Component is disabled, skipping")
	}
	if c.Web != nil {
		sr.RegisterService("web", c.Web)
	}
}
