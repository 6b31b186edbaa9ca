package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/internal/utils"
)

// UpdateControl is the part of the orchestrator commands may drive.
type UpdateControl interface {
	CheckForUpdate(ctx context.Context) (models.UpdateCheckResult, error)
	RequestManualUpdate()
	ClearFailedVersion() error
}

// StatusSource builds the device status document.
type StatusSource interface {
	Report() models.DeviceStatus
}

// TelemetrySource collects host metrics.
type TelemetrySource interface {
	CollectAll(ctx context.Context) map[string]float64
}

// CommandTable wires the dispatch table to the components it drives.
type CommandTable struct {
	DeviceID                string
	Status                  StatusSource
	Updates                 UpdateControl
	Telemetry               TelemetrySource
	Heap                    HeapStatsSource
	Settings                SettingsStore
	AllowRemoteFactoryReset bool
	Clock                   utils.Clock
}

// RegisterCommands installs the device command set on cp.
func RegisterCommands(cp *CommandProcessor, t CommandTable) {
	cp.Register(constants.CommandGetStatus, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		return jsonResult(t.Status.Report())
	})

	cp.Register(constants.CommandGetTelemetry, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		tel := models.Telemetry{
			Timestamp: t.Clock.Now(),
			DeviceID:  t.DeviceID,
		}
		if t.Telemetry != nil {
			tel.Metrics = t.Telemetry.CollectAll(ctx)
		}
		if t.Heap != nil {
			tel.Heap = t.Heap.Stats()
		}
		return jsonResult(tel)
	})

	cp.Register(constants.CommandGetConfig, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		return jsonResult(t.Settings.Get())
	})

	cp.Register(constants.CommandSetConfig, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		payload := cmd.PayloadBytes()
		if len(payload) == 0 {
			return CommandResult{}, errors.New("set_config requires a payload")
		}
		updated, err := t.Settings.Apply(payload)
		if err != nil {
			return CommandResult{}, err
		}
		return jsonResult(updated)
	})

	cp.Register(constants.CommandSetBrightness, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		var req struct {
			Value *int `json:"value"`
		}
		if payload := cmd.PayloadBytes(); len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return CommandResult{}, fmt.Errorf("invalid brightness payload: %w", err)
			}
		}
		value := constants.DefaultBrightness
		if req.Value != nil {
			value = *req.Value
		}
		return CommandResult{}, t.Settings.SetBrightness(value)
	})

	cp.Register(constants.CommandCheckUpdate, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		res, err := t.Updates.CheckForUpdate(ctx)
		if err != nil {
			return CommandResult{}, err
		}
		return jsonResult(res)
	})

	cp.Register(constants.CommandPerformUpdate, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		t.Updates.RequestManualUpdate()
		return CommandResult{Response: "update scheduled"}, nil
	})

	cp.Register(constants.CommandClearFailedUpdate, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		return CommandResult{}, t.Updates.ClearFailedVersion()
	})

	cp.Register(constants.CommandReboot, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		if err := cp.QueuePendingAction(models.ActionReboot, cmd.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Deferred: true}, nil
	})

	cp.Register(constants.CommandFactoryReset, func(ctx context.Context, cmd models.Command) (CommandResult, error) {
		if !t.AllowRemoteFactoryReset {
			return CommandResult{}, errors.New(constants.FactoryResetRemoteRejected)
		}
		if err := cp.QueuePendingAction(models.ActionFactoryReset, cmd.ID); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Deferred: true}, nil
	})
}

func jsonResult(v any) (CommandResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Response: string(b)}, nil
}
