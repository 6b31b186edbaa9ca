package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benmeehan/display-agent/internal/metrics_collectors"
	"github.com/benmeehan/display-agent/internal/service_registry"
	"github.com/benmeehan/display-agent/internal/services"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/benmeehan/display-agent/pkg/encryption"
	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/benmeehan/display-agent/pkg/flash"
	http_utils "github.com/benmeehan/display-agent/pkg/httpUtils"
	"github.com/benmeehan/display-agent/pkg/identity"
	"github.com/benmeehan/display-agent/pkg/mqtt"
	"github.com/benmeehan/display-agent/pkg/s3"
	"github.com/benmeehan/display-agent/pkg/transfer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// environment holds what bootstrap built so the subcommands can share it.
type environment struct {
	Config     *utils.Config
	Logger     zerolog.Logger
	Deps       service_registry.Dependencies
	fileClient file.FileOperations
	realtime   *mqtt.MqttService
}

// Close releases the broker connection, if any.
func (e *environment) Close() {
	if e.realtime != nil {
		e.realtime.Disconnect()
	}
}

// RunningImageHash hashes the image file behind the running slot.
func (e *environment) RunningImageHash() (string, error) {
	running, err := e.Deps.Flash.RunningPartition()
	if err != nil {
		return "", err
	}
	for _, slot := range e.Config.Flash.AppSlots {
		if slot.Label == running.Label {
			return e.fileClient.GetFileHash(slot.Path)
		}
	}
	return "", fmt.Errorf("no slot configured for running partition %q", running.Label)
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

// bootstrap loads the configuration and builds the process-wide
// collaborators. The realtime channel is only created when withRealtime is
// set and a broker is configured.
func bootstrap(path string, withRealtime bool) (*environment, error) {
	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(path, fileClient)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(config.Log.Level, config.Log.Pretty)

	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		return nil, fmt.Errorf("failed to load device information: %w", err)
	}

	var signer *encryption.HMACSigner
	var requestSigner encryption.RequestSigner
	if config.Security.SigningKeyFile != "" {
		signer, err = encryption.LoadHMACSigner(deviceInfo.GetSerial(), config.Security.SigningKeyFile, fileClient)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		requestSigner = signer
	}

	userAgent := "display-agent/" + version
	api := http_utils.NewAPIClient(config.API.RequestTimeout, requestSigner, userAgent)
	if config.API.TokenFile != "" {
		token, err := fileClient.ReadFile(config.API.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read API token: %w", err)
		}
		api.SetBearerToken(strings.TrimSpace(token))
	}

	opener := transfer.NewMuxOpener()
	streams := http_utils.NewStreamOpener(userAgent, http_utils.StreamOptions{
		ResponseHeaderTimeout: config.API.RequestTimeout,
	})
	opener.Handle("http", streams)
	opener.Handle("https", streams)
	if config.Storage.S3.Enabled {
		store := s3.NewObjectStorage()
		s3cfg := config.Storage.S3
		if err := store.Connect(s3cfg.Endpoint, s3cfg.AccessKey, s3cfg.SecretKey, s3cfg.UseSSL); err != nil {
			return nil, err
		}
		opener.Handle("s3", store)
	}

	target, err := newFlashTarget(config, fileClient, logger.With().Str("component", "flash_target").Logger())
	if err != nil {
		return nil, err
	}

	env := &environment{
		Config:     config,
		Logger:     logger,
		fileClient: fileClient,
	}

	if withRealtime && config.MQTT.Broker != "" {
		// Generate a unique MQTT client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

		env.realtime = mqtt.NewMqttService(fileClient, logger.With().Str("component", "mqtt").Logger())
		err = env.realtime.Initialize(mqtt.Options{
			Broker:        config.MQTT.Broker,
			ClientID:      clientID,
			CACertificate: config.MQTT.CACertificate,
			Username:      config.MQTT.Username,
			Password:      config.MQTT.Password,
			TLSVerify:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MQTT client: %w", err)
		}
	}

	env.Deps = service_registry.Dependencies{
		Config:     config,
		Version:    version,
		FileClient: fileClient,
		DeviceInfo: deviceInfo,
		Realtime:   env.realtime,
		API:        api,
		Signer:     signer,
		Opener:     opener,
		Flash:      target,
		HeapProbe:  &metrics_collectors.SystemHeapProbe{Scale: config.Heap.Scale},
		Restarter:  services.NewSystemRestarter(config.System.RestartCommand, config.System.RestartExitCode, logger.With().Str("component", "restarter").Logger()),
		Clock:      utils.SystemClock{},
		Logger:     logger,
	}
	return env, nil
}

func newFlashTarget(config *utils.Config, fileClient file.FileOperations, logger zerolog.Logger) (*flash.FileTarget, error) {
	toSlot := func(c utils.SlotConfig) flash.Slot {
		return flash.Slot{
			Partition: flash.Partition{Label: c.Label, Offset: c.Offset, Size: c.Size},
			Path:      c.Path,
		}
	}

	apps := make([]flash.Slot, 0, len(config.Flash.AppSlots))
	for _, c := range config.Flash.AppSlots {
		apps = append(apps, toSlot(c))
	}
	var fs *flash.Slot
	if config.Flash.Filesystem.Path != "" {
		slot := toSlot(config.Flash.Filesystem)
		fs = &slot
	}

	target, err := flash.NewFileTarget(apps, fs, config.Flash.BootFile, fileClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash slots: %w", err)
	}
	return target, nil
}
