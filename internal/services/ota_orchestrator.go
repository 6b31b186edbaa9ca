package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/benmeehan/display-agent/pkg/flash"
	"github.com/benmeehan/display-agent/pkg/transfer"
	"github.com/rs/zerolog"
)

var (
	ErrUpdateBusy        = errors.New("an update cycle is already running")
	ErrInvalidTransition = errors.New("invalid update state transition")
	ErrChecksumMismatch  = errors.New("image checksum mismatch")
	ErrNoContentLength   = errors.New("server did not report a content length")
)

var validTransitions = map[constants.UpdateState][]constants.UpdateState{
	constants.UpdateStateIdle:             {constants.UpdateStateCheckingManifest},
	constants.UpdateStateCheckingManifest: {constants.UpdateStateNoUpdate, constants.UpdateStateUpdateAvailable, constants.UpdateStateIdle},
	constants.UpdateStateNoUpdate:         {constants.UpdateStateIdle},
	constants.UpdateStateUpdateAvailable:  {constants.UpdateStatePreparing, constants.UpdateStateIdle},
	constants.UpdateStatePreparing:        {constants.UpdateStateDownloading, constants.UpdateStateAborted},
	constants.UpdateStateDownloading:      {constants.UpdateStateFlashing, constants.UpdateStateAborted},
	constants.UpdateStateFlashing:         {constants.UpdateStateDownloadingFS, constants.UpdateStateFinalizing, constants.UpdateStateAborted},
	constants.UpdateStateDownloadingFS:    {constants.UpdateStateFlashingFS, constants.UpdateStateAborted},
	constants.UpdateStateFlashingFS:       {constants.UpdateStateFinalizing, constants.UpdateStateAborted},
	constants.UpdateStateFinalizing:       {constants.UpdateStateRebooting, constants.UpdateStateAborted},
	constants.UpdateStateRebooting:        {},
	constants.UpdateStateAborted:          {constants.UpdateStateIdle},
}

// UpdateChecker resolves the latest published firmware.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context) (models.UpdateCheckResult, error)
	CurrentVersion() string
}

// TransferHeadroom supplies the heap abort predicates for the two image kinds.
type TransferHeadroom interface {
	TransferCritical() bool
	BundleCritical() bool
}

// AutoUpdateSetting lets the user-facing settings override the configured default.
type AutoUpdateSetting interface {
	AutoUpdate(def bool) bool
}

// OrchestratorConfig carries the timing knobs of an update cycle.
type OrchestratorConfig struct {
	AutoUpdate        bool
	CheckInterval     time.Duration
	CheckDefer        time.Duration
	UpdateDefer       time.Duration
	AbortCooldown     time.Duration
	WatchdogTimeout   time.Duration
	HeaderReadTimeout time.Duration
	Retry             transfer.RetryPolicy
}

// DefaultOrchestratorConfig returns the device defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		AutoUpdate:        true,
		CheckInterval:     constants.DefaultUpdateCheckInterval,
		CheckDefer:        constants.DefaultCheckRealtimeDefer,
		UpdateDefer:       constants.DefaultUpdateRealtimeDefer,
		AbortCooldown:     constants.DefaultAbortCooldown,
		WatchdogTimeout:   constants.DefaultOTAWatchdogTimeout,
		HeaderReadTimeout: constants.DefaultHeaderReadTimeout,
		Retry: transfer.RetryPolicy{
			MaxAttempts: constants.DefaultMaxRetryAttempts,
			BaseDelay:   constants.DefaultRetryBaseDelay,
			MaxDelay:    constants.DefaultRetryMaxDelay,
		},
	}
}

// OrchestratorDeps are the collaborators of an OTAOrchestrator. Web, Watchdog,
// Settings and Headroom are optional.
type OrchestratorDeps struct {
	Resolver  UpdateChecker
	Opener    transfer.Opener
	Engine    *transfer.Engine
	Writer    *flash.Writer
	Headroom  TransferHeadroom
	Realtime  RealtimeController
	Web       WebServerControl
	Watchdog  Watchdog
	Restarter Restarter
	Marker    FailedVersionStore
	Settings  AutoUpdateSetting
	Clock     utils.Clock
}

// OTAOrchestrator runs update cycles on the run loop. It checks hourly,
// installs when allowed and reboots into the new image.
type OTAOrchestrator struct {
	cfg OrchestratorConfig
	OrchestratorDeps
	logger zerolog.Logger

	manualRequested atomic.Bool
	checkRequested  atomic.Bool
	lastCheck       time.Time
	webStopped      bool

	mu     sync.Mutex
	status models.UpdateStatus
}

// NewOTAOrchestrator creates an orchestrator in the idle state.
func NewOTAOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps, logger zerolog.Logger) *OTAOrchestrator {
	o := &OTAOrchestrator{
		cfg:              cfg,
		OrchestratorDeps: deps,
		logger:           logger,
	}
	o.status = models.UpdateStatus{
		State:          constants.UpdateStateIdle,
		CurrentVersion: deps.Resolver.CurrentVersion(),
		FailedVersion:  deps.Marker.FailedVersion(),
	}
	return o
}

func (o *OTAOrchestrator) Name() string {
	return "ota"
}

// Status returns a copy of the current update status.
func (o *OTAOrchestrator) Status() models.UpdateStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// State returns the current state of the update state machine.
func (o *OTAOrchestrator) State() constants.UpdateState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.State
}

// RequestManualUpdate asks the next tick to run a user-initiated update cycle.
// It is safe to call from any goroutine.
func (o *OTAOrchestrator) RequestManualUpdate() {
	o.manualRequested.Store(true)
}

// RequestCheck asks the next tick to run a check without installing.
func (o *OTAOrchestrator) RequestCheck() {
	o.checkRequested.Store(true)
}

// ClearFailedVersion forgets the failed-version marker so the next automatic
// cycle may install that version again.
func (o *OTAOrchestrator) ClearFailedVersion() error {
	if err := o.Marker.ClearFailedVersion(); err != nil {
		return err
	}
	o.mu.Lock()
	o.status.FailedVersion = ""
	o.mu.Unlock()
	return nil
}

// Tick runs pending manual requests first, then the periodic check. The
// first periodic check happens one interval after start.
func (o *OTAOrchestrator) Tick(ctx context.Context, now time.Time) {
	if o.State() != constants.UpdateStateIdle {
		return
	}
	if o.lastCheck.IsZero() {
		o.lastCheck = now
	}

	switch {
	case o.manualRequested.Swap(false):
		if err := o.RunUpdateCycle(ctx, constants.UpdateTriggerManual); err != nil {
			o.logger.Error().Err(err).Msg("Manual update failed")
		}
	case o.checkRequested.Swap(false):
		if _, err := o.CheckForUpdate(ctx); err != nil {
			o.logger.Error().Err(err).Msg("Update check failed")
		}
	case o.cfg.CheckInterval > 0 && now.Sub(o.lastCheck) >= o.cfg.CheckInterval:
		if err := o.RunUpdateCycle(ctx, constants.UpdateTriggerAutomatic); err != nil {
			o.logger.Error().Err(err).Msg("Automatic update failed")
		}
	}
}

func (o *OTAOrchestrator) transition(to constants.UpdateState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.status.State
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.status.State = to
	o.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Update state changed")
	return nil
}

func (o *OTAOrchestrator) setProgress(percent int, phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Progress = percent
	o.status.Phase = phase
}

// CheckForUpdate queries the update source and returns to idle. It never installs.
func (o *OTAOrchestrator) CheckForUpdate(ctx context.Context) (models.UpdateCheckResult, error) {
	res, err := o.check(ctx)
	if err != nil {
		return res, err
	}
	if res.UpdateAvailable {
		if err := o.transition(constants.UpdateStateIdle); err != nil {
			return res, err
		}
	}
	return res, nil
}

// check leaves the machine in UpdateAvailable when there is something to
// install and in Idle otherwise.
func (o *OTAOrchestrator) check(ctx context.Context) (models.UpdateCheckResult, error) {
	if err := o.transition(constants.UpdateStateCheckingManifest); err != nil {
		return models.UpdateCheckResult{}, ErrUpdateBusy
	}
	o.lastCheck = o.Clock.Now()
	o.Realtime.Pause(o.cfg.CheckDefer)

	o.logger.Info().Msg("Checking for updates")
	res, err := o.Resolver.CheckForUpdate(ctx)

	o.mu.Lock()
	o.status.LastCheck = o.lastCheck
	if err != nil {
		o.status.LastError = err.Error()
	} else {
		o.status.LatestVersion = res.LatestVersion
	}
	o.mu.Unlock()

	if err != nil {
		_ = o.transition(constants.UpdateStateIdle)
		return res, fmt.Errorf("update check failed: %w", err)
	}
	if !res.UpdateAvailable {
		_ = o.transition(constants.UpdateStateNoUpdate)
		_ = o.transition(constants.UpdateStateIdle)
		o.logger.Info().Str("version", res.CurrentVersion).Msg("Firmware is up to date")
		return res, nil
	}
	_ = o.transition(constants.UpdateStateUpdateAvailable)
	o.logger.Info().Str("latest", res.LatestVersion).Str("format", res.Format).Msg("Update available")
	return res, nil
}

// RunUpdateCycle checks for an update and installs it. Automatic cycles honour
// the auto-update setting and skip a version that already failed; manual
// cycles clear the failed-version marker first. On success the device is
// restarted and the call does not return in production.
func (o *OTAOrchestrator) RunUpdateCycle(ctx context.Context, trigger constants.UpdateTrigger) error {
	if o.State() != constants.UpdateStateIdle {
		return ErrUpdateBusy
	}
	if trigger == constants.UpdateTriggerManual {
		if err := o.ClearFailedVersion(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to clear failed-version marker")
		}
	}

	o.mu.Lock()
	o.status.Trigger = trigger
	o.status.LastError = ""
	o.status.Progress = 0
	o.status.Phase = ""
	o.mu.Unlock()

	res, err := o.check(ctx)
	if err != nil || !res.UpdateAvailable {
		return err
	}

	if trigger == constants.UpdateTriggerAutomatic {
		if !o.autoUpdateEnabled() {
			o.logger.Info().Str("version", res.LatestVersion).Msg("Auto-update disabled, not installing")
			return o.transition(constants.UpdateStateIdle)
		}
		if failed := o.Marker.FailedVersion(); failed != "" && failed == res.LatestVersion {
			o.logger.Warn().Str("version", failed).Msg("Skipping auto-update, version previously failed")
			return o.transition(constants.UpdateStateIdle)
		}
	}

	return o.install(ctx, res, trigger)
}

func (o *OTAOrchestrator) autoUpdateEnabled() bool {
	if o.Settings == nil {
		return o.cfg.AutoUpdate
	}
	return o.Settings.AutoUpdate(o.cfg.AutoUpdate)
}

func (o *OTAOrchestrator) install(ctx context.Context, res models.UpdateCheckResult, trigger constants.UpdateTrigger) error {
	if err := o.transition(constants.UpdateStatePreparing); err != nil {
		return err
	}
	o.prepare()

	o.logger.Info().
		Str("version", res.LatestVersion).
		Str("format", res.Format).
		Str("trigger", string(trigger)).
		Msg("Installing update")

	var err error
	if res.Format == constants.ImageFormatBundle {
		err = o.installBundle(ctx, res)
	} else {
		err = o.installBinary(ctx, res)
	}
	if err == nil {
		err = o.transition(constants.UpdateStateFinalizing)
	}
	if err != nil {
		o.abort(trigger, res.LatestVersion, err)
		return err
	}

	if err := o.Marker.ClearFailedVersion(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to clear failed-version marker")
	}
	o.mu.Lock()
	o.status.FailedVersion = ""
	o.status.Progress = 100
	o.mu.Unlock()

	if err := o.transition(constants.UpdateStateRebooting); err != nil {
		return err
	}
	o.logger.Info().Str("version", res.LatestVersion).Msg("Update installed, rebooting")
	o.Restarter.Restart("firmware update to " + res.LatestVersion)
	return nil
}

// prepare frees resources for the download: the realtime channel is paused
// for the whole update, the web server is stopped and the watchdog extended.
func (o *OTAOrchestrator) prepare() {
	o.Realtime.Pause(o.cfg.UpdateDefer)

	if o.Web != nil && o.Web.IsRunning() {
		if err := o.Web.Stop(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to stop web server for update")
		} else {
			o.webStopped = true
		}
	}
	if o.Watchdog != nil {
		o.Watchdog.SetTimeout(o.cfg.WatchdogTimeout)
	}
}

func (o *OTAOrchestrator) abort(trigger constants.UpdateTrigger, version string, cause error) {
	if err := o.transition(constants.UpdateStateAborted); err != nil {
		o.logger.Error().Err(err).Msg("Abort from unexpected state")
		o.mu.Lock()
		o.status.State = constants.UpdateStateAborted
		o.mu.Unlock()
	}
	o.Writer.Abort()

	if o.webStopped {
		if err := o.Web.Start(); err != nil {
			o.logger.Error().Err(err).Msg("Failed to restart web server after update")
		}
		o.webStopped = false
	}
	o.Realtime.Defer(o.cfg.AbortCooldown)
	if o.Watchdog != nil {
		o.Watchdog.RestoreTimeout()
	}

	failed := o.Marker.FailedVersion()
	if trigger == constants.UpdateTriggerAutomatic && version != "" {
		if err := o.Marker.SetFailedVersion(version); err != nil {
			o.logger.Error().Err(err).Msg("Failed to persist failed-version marker")
		} else {
			failed = version
		}
	}

	o.mu.Lock()
	o.status.LastError = cause.Error()
	o.status.FailedVersion = failed
	o.mu.Unlock()

	o.logger.Error().
		Err(cause).
		Str("version", version).
		Str("trigger", string(trigger)).
		Msg("Update aborted")
	_ = o.transition(constants.UpdateStateIdle)
}

// imageJob describes one image streamed into one partition.
type imageJob struct {
	url      string
	kind     flash.ImageKind
	checksum string
	phase    string
	base     int
	span     int
}

func (o *OTAOrchestrator) progress(job imageJob) transfer.ProgressFunc {
	return func(percent int, written, total int64) {
		o.setProgress(job.base+percent*job.span/100, job.phase)
		o.logger.Info().
			Str("phase", job.phase).
			Int("percent", percent).
			Int64("written", written).
			Int64("total", total).
			Msg("Update progress")
	}
}

func (o *OTAOrchestrator) installBinary(ctx context.Context, res models.UpdateCheckResult) error {
	app := imageJob{url: res.FirmwareURL, kind: flash.KindApplication, checksum: res.Checksum, phase: "firmware", base: 0, span: 100}
	if res.FilesystemURL != "" {
		app.span = constants.BundleFirmwareProgressShare
	}

	if err := o.transition(constants.UpdateStateDownloading); err != nil {
		return err
	}
	part, err := o.streamImage(ctx, app)
	if err != nil {
		return err
	}
	if err := o.transition(constants.UpdateStateFlashing); err != nil {
		return err
	}
	if err := o.Writer.FinalizeUpdate(flash.KindApplication, part, res.LatestVersion); err != nil {
		return fmt.Errorf("firmware finalize failed: %w", err)
	}
	if res.FilesystemURL == "" {
		return nil
	}

	fs := imageJob{
		url:   res.FilesystemURL,
		kind:  flash.KindFilesystem,
		phase: "filesystem",
		base:  constants.BundleFirmwareProgressShare,
		span:  100 - constants.BundleFirmwareProgressShare,
	}
	if err := o.transition(constants.UpdateStateDownloadingFS); err != nil {
		return err
	}
	fsPart, err := o.streamImage(ctx, fs)
	if err != nil {
		return o.afterBootSwitch(err)
	}
	if err := o.transition(constants.UpdateStateFlashingFS); err != nil {
		return err
	}
	if err := o.Writer.FinalizeUpdate(flash.KindFilesystem, fsPart, ""); err != nil {
		return o.afterBootSwitch(fmt.Errorf("filesystem finalize failed: %w", err))
	}
	return nil
}

// afterBootSwitch annotates a failure that happened once the boot selector
// already points at the new application image. The switch is not undone.
func (o *OTAOrchestrator) afterBootSwitch(err error) error {
	o.logger.Error().Err(err).Msg("Filesystem update failed after boot partition switch; firmware stays switched")
	return err
}

// streamImage writes one image, re-opening the stream for retryable partial
// transfers. The target partition is resolved again on every attempt.
func (o *OTAOrchestrator) streamImage(ctx context.Context, job imageJob) (flash.Partition, error) {
	policy := o.cfg.Retry
	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			o.logger.Warn().
				Str("phase", job.phase).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying download")
			o.Clock.Sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return flash.Partition{}, err
		}

		part, res, err := o.attemptImage(ctx, job)
		if err == nil {
			return part, nil
		}
		lastErr = err
		if res == nil || !res.Retryable() {
			return flash.Partition{}, err
		}
	}
	return flash.Partition{}, fmt.Errorf("%s download failed after %d attempts: %w", job.phase, policy.MaxAttempts+1, lastErr)
}

// attemptImage performs a single download. The returned Result is nil when
// the failure happened before any byte could be transferred.
func (o *OTAOrchestrator) attemptImage(ctx context.Context, job imageJob) (flash.Partition, *transfer.Result, error) {
	stream, err := o.Opener.Open(ctx, job.url)
	if err != nil {
		return flash.Partition{}, nil, fmt.Errorf("%s download failed: %w", job.phase, err)
	}
	defer stream.Close()

	length := stream.ContentLength()
	if length <= 0 {
		return flash.Partition{}, nil, fmt.Errorf("%s: %w", job.phase, ErrNoContentLength)
	}

	part, err := o.partitionFor(job.kind)
	if err != nil {
		return flash.Partition{}, nil, err
	}
	if err := o.Writer.BeginUpdate(length, job.kind, part); err != nil {
		return flash.Partition{}, nil, fmt.Errorf("%s: %w", job.phase, err)
	}

	var sink io.Writer = o.Writer
	var hasher hash.Hash
	if job.checksum != "" {
		hasher = sha256.New()
		sink = io.MultiWriter(o.Writer, hasher)
	}

	var headroom transfer.HeadroomMonitor
	if o.Headroom != nil {
		headroom = transfer.HeadroomFunc(o.Headroom.TransferCritical)
	}
	res := o.Engine.DownloadStream(stream, sink, length, o.progress(job), headroom)
	if !res.Complete() {
		o.Writer.Abort()
		return part, &res, fmt.Errorf("%s %s", job.phase, res)
	}

	if hasher != nil {
		if sum := hex.EncodeToString(hasher.Sum(nil)); sum != job.checksum {
			o.Writer.Abort()
			return part, nil, fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, sum, job.checksum)
		}
	}
	return part, &res, nil
}

func (o *OTAOrchestrator) partitionFor(kind flash.ImageKind) (flash.Partition, error) {
	if kind == flash.KindFilesystem {
		return o.Writer.Target().FilesystemPartition()
	}
	return o.Writer.Target().NextUpdatePartition()
}
