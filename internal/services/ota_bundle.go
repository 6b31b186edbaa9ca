package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/pkg/flash"
	"github.com/benmeehan/display-agent/pkg/transfer"
)

var ErrStreamClosedBeforeFS = errors.New("stream disconnected before filesystem phase")

// installBundle streams a combined image: a 16 byte header followed by the
// application image and the filesystem image on a single connection. Bundles
// are not retried because the filesystem phase depends on the same stream.
func (o *OTAOrchestrator) installBundle(ctx context.Context, res models.UpdateCheckResult) error {
	if err := o.transition(constants.UpdateStateDownloading); err != nil {
		return err
	}

	stream, err := o.Opener.Open(ctx, res.FirmwareURL)
	if err != nil {
		return fmt.Errorf("bundle download failed: %w", err)
	}
	defer stream.Close()

	length := stream.ContentLength()
	if length >= 0 && length <= transfer.BundleHeaderSize {
		return fmt.Errorf("%w: content length %d", transfer.ErrBundleTooShort, length)
	}

	raw := make([]byte, transfer.BundleHeaderSize)
	if err := o.Engine.ReadExact(stream, raw, o.cfg.HeaderReadTimeout); err != nil {
		return fmt.Errorf("bundle header: %w", err)
	}
	header, err := transfer.ParseBundleHeader(raw)
	if err != nil {
		return err
	}
	if length > 0 && header.Total() != length {
		o.logger.Warn().
			Int64("content_length", length).
			Int64("header_total", header.Total()).
			Msg("Bundle size does not match content length")
	}
	o.logger.Info().
		Uint32("app_size", header.AppSize).
		Uint32("fs_size", header.FSSize).
		Msg("Bundle header parsed")

	// Phase 1: application image.
	appPart, err := o.Writer.Target().NextUpdatePartition()
	if err != nil {
		return err
	}
	if err := o.Writer.BeginUpdate(int64(header.AppSize), flash.KindApplication, appPart); err != nil {
		return fmt.Errorf("firmware: %w", err)
	}
	var appHeadroom transfer.HeadroomMonitor
	if o.Headroom != nil {
		appHeadroom = transfer.HeadroomFunc(o.Headroom.BundleCritical)
	}
	app := imageJob{phase: "firmware", base: 0, span: constants.BundleFirmwareProgressShare}
	result := o.Engine.DownloadStream(stream, o.Writer, int64(header.AppSize), o.progress(app), appHeadroom)
	if !result.Complete() {
		o.Writer.Abort()
		return fmt.Errorf("firmware %s", result)
	}

	if err := o.transition(constants.UpdateStateFlashing); err != nil {
		return err
	}
	if err := o.Writer.FinalizeUpdate(flash.KindApplication, appPart, res.LatestVersion); err != nil {
		return fmt.Errorf("firmware finalize failed: %w", err)
	}

	// Phase 2: filesystem image, read from the same connection.
	o.setProgress(constants.BundleFirmwareProgressShare, "filesystem")
	if !stream.Connected() && stream.Available() <= 0 {
		return o.afterBootSwitch(ErrStreamClosedBeforeFS)
	}
	if err := o.transition(constants.UpdateStateDownloadingFS); err != nil {
		return err
	}

	fsPart, err := o.Writer.Target().FilesystemPartition()
	if err != nil {
		return o.afterBootSwitch(err)
	}
	if err := o.Writer.BeginUpdate(int64(header.FSSize), flash.KindFilesystem, fsPart); err != nil {
		return o.afterBootSwitch(fmt.Errorf("filesystem: %w", err))
	}
	fs := imageJob{
		phase: "filesystem",
		base:  constants.BundleFirmwareProgressShare,
		span:  100 - constants.BundleFirmwareProgressShare,
	}
	result = o.Engine.DownloadStream(stream, o.Writer, int64(header.FSSize), o.progress(fs), nil)
	if !result.Complete() {
		o.Writer.Abort()
		return o.afterBootSwitch(fmt.Errorf("filesystem %s", result))
	}

	if err := o.transition(constants.UpdateStateFlashingFS); err != nil {
		return err
	}
	if err := o.Writer.FinalizeUpdate(flash.KindFilesystem, fsPart, ""); err != nil {
		return o.afterBootSwitch(fmt.Errorf("filesystem finalize failed: %w", err))
	}
	o.logger.Info().Str("version", res.LatestVersion).Msg("Bundle update complete")
	return nil
}
