package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/rs/zerolog"
)

var (
	ErrNoUpdateSource    = errors.New("no manifest or release url configured")
	ErrManifestInvalid   = errors.New("manifest invalid")
	ErrMissingAsset      = errors.New("no asset for hardware variant")
	ErrAmbiguousAsset    = errors.New("ambiguous asset selection")
	ErrNoMatchingAsset   = errors.New("no matching firmware asset")
	ErrReleaseTagMissing = errors.New("release has no tag")
)

// JSONGetter fetches and decodes a JSON document.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) error
}

// ManifestResolverConfig names the update sources and the running build.
type ManifestResolverConfig struct {
	ManifestURL     string
	ReleaseURL      string
	CurrentVersion  string
	HardwareVariant string
	KnownVariants   []string
}

// ManifestResolver finds the latest published firmware for this device.
type ManifestResolver struct {
	cfg    ManifestResolverConfig
	client JSONGetter
	clock  utils.Clock
	logger zerolog.Logger
}

func NewManifestResolver(cfg ManifestResolverConfig, client JSONGetter, clock utils.Clock, logger zerolog.Logger) *ManifestResolver {
	return &ManifestResolver{cfg: cfg, client: client, clock: clock, logger: logger}
}

// CurrentVersion returns the version of the running build.
func (r *ManifestResolver) CurrentVersion() string {
	return r.cfg.CurrentVersion
}

// CheckForUpdate queries the manifest and, when that fails, the release API.
func (r *ManifestResolver) CheckForUpdate(ctx context.Context) (models.UpdateCheckResult, error) {
	if r.cfg.ManifestURL != "" {
		res, err := r.checkManifest(ctx)
		if err == nil {
			return res, nil
		}
		r.logger.Warn().Err(err).Str("url", r.cfg.ManifestURL).Msg("Manifest check failed, falling back to release API")
		if r.cfg.ReleaseURL == "" {
			return models.UpdateCheckResult{}, err
		}
	}
	if r.cfg.ReleaseURL == "" {
		return models.UpdateCheckResult{}, ErrNoUpdateSource
	}
	return r.checkRelease(ctx)
}

func (r *ManifestResolver) checkManifest(ctx context.Context) (models.UpdateCheckResult, error) {
	var m models.VersionManifest
	if err := r.client.GetJSON(ctx, r.cfg.ManifestURL, &m); err != nil {
		return models.UpdateCheckResult{}, err
	}
	if strings.TrimSpace(m.Version) == "" {
		return models.UpdateCheckResult{}, fmt.Errorf("%w: empty version", ErrManifestInvalid)
	}

	asset, ok := lookupVariant(m.Firmware, r.cfg.HardwareVariant)
	if !ok || asset.URL == "" {
		return models.UpdateCheckResult{}, fmt.Errorf("%w: firmware.%s.url", ErrMissingAsset, r.cfg.HardwareVariant)
	}

	format := constants.ImageFormatBinary
	if asset.Format == constants.ImageFormatBundle || strings.HasSuffix(strings.ToLower(asset.URL), ".lmwb") {
		format = constants.ImageFormatBundle
	}

	latest := utils.StripVersionPrefix(m.Version)
	res := models.UpdateCheckResult{
		CurrentVersion:  r.cfg.CurrentVersion,
		LatestVersion:   latest,
		BuildID:         m.BuildID,
		BuildDate:       m.BuildDate,
		FirmwareURL:     asset.URL,
		Format:          format,
		Checksum:        strings.ToLower(asset.Checksum),
		Size:            asset.Size,
		Source:          constants.UpdateSourceManifest,
		UpdateAvailable: utils.IsNewerVersion(latest, r.cfg.CurrentVersion),
		CheckedAt:       r.clock.Now(),
	}
	if fs, ok := lookupVariant(m.Filesystem, r.cfg.HardwareVariant); ok && format == constants.ImageFormatBinary {
		res.FilesystemURL = fs.URL
	}

	r.logger.Info().
		Str("current", res.CurrentVersion).
		Str("latest", res.LatestVersion).
		Str("build_id", res.BuildID).
		Bool("update_available", res.UpdateAvailable).
		Msg("Manifest checked")
	return res, nil
}

func (r *ManifestResolver) checkRelease(ctx context.Context) (models.UpdateCheckResult, error) {
	var rel models.Release
	if err := r.client.GetJSON(ctx, r.cfg.ReleaseURL, &rel); err != nil {
		return models.UpdateCheckResult{}, err
	}
	if strings.TrimSpace(rel.TagName) == "" {
		return models.UpdateCheckResult{}, ErrReleaseTagMissing
	}

	sel, err := SelectReleaseAssets(rel.Assets, r.cfg.HardwareVariant, r.cfg.KnownVariants)
	if err != nil {
		return models.UpdateCheckResult{}, err
	}

	latest := utils.StripVersionPrefix(rel.TagName)
	res := models.UpdateCheckResult{
		CurrentVersion:  r.cfg.CurrentVersion,
		LatestVersion:   latest,
		Format:          constants.ImageFormatBinary,
		Source:          constants.UpdateSourceRelease,
		UpdateAvailable: utils.IsNewerVersion(latest, r.cfg.CurrentVersion),
		CheckedAt:       r.clock.Now(),
	}
	if sel.Bundle != nil {
		res.Format = constants.ImageFormatBundle
		res.FirmwareURL = sel.Bundle.BrowserDownloadURL
		res.Size = sel.Bundle.Size
	} else {
		res.FirmwareURL = sel.Firmware.BrowserDownloadURL
		res.Size = sel.Firmware.Size
		if sel.Filesystem != nil {
			res.FilesystemURL = sel.Filesystem.BrowserDownloadURL
		}
	}

	r.logger.Info().
		Str("current", res.CurrentVersion).
		Str("latest", res.LatestVersion).
		Str("asset", res.FirmwareURL).
		Bool("update_available", res.UpdateAvailable).
		Msg("Release checked")
	return res, nil
}

func lookupVariant(assets map[string]models.ManifestAsset, variant string) (models.ManifestAsset, bool) {
	if a, ok := assets[variant]; ok {
		return a, true
	}
	want := utils.NormalizeVariant(variant)
	for key, a := range assets {
		if utils.NormalizeVariant(key) == want {
			return a, true
		}
	}
	return models.ManifestAsset{}, false
}

// ReleaseSelection is the outcome of asset scoring. Either Bundle is set, or
// Firmware is set with an optional Filesystem image.
type ReleaseSelection struct {
	Firmware   *models.ReleaseAsset
	Filesystem *models.ReleaseAsset
	Bundle     *models.ReleaseAsset
}

type assetRole int

const (
	roleNone assetRole = iota
	roleFirmware
	roleFilesystem
	roleBundle
)

const (
	scoreVariantMatch = 200
	scoreGeneric      = 100
	scoreDefaultName  = 50
)

var defaultAssetNames = map[string]struct{}{
	"firmware.bin":   {},
	"littlefs.bin":   {},
	"spiffs.bin":     {},
	"filesystem.bin": {},
	"firmware.lmwb":  {},
	"bundle.lmwb":    {},
}

func classifyAsset(name string) assetRole {
	switch {
	case strings.Contains(name, "bootstrap"):
		return roleNone
	case strings.HasSuffix(name, ".lmwb"):
		return roleBundle
	case !strings.HasSuffix(name, ".bin"):
		return roleNone
	case containsAny(name, "ota", "merged", "combined"):
		return roleNone
	case containsAny(name, "littlefs", "spiffs", "filesystem"):
		return roleFilesystem
	case strings.Contains(name, "firmware"):
		return roleFirmware
	}
	return roleNone
}

// variantsInName returns the known variant tokens present in name. Longer
// tokens are matched first and consumed, so "esp32s3" is not also counted
// as "esp32".
func variantsInName(name string, tokens []string) []string {
	n := utils.NormalizeVariant(name)
	sorted := append([]string(nil), tokens...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	var found []string
	for _, t := range sorted {
		if t != "" && strings.Contains(n, t) {
			found = append(found, t)
			n = strings.ReplaceAll(n, t, "#")
		}
	}
	return found
}

func scoreAsset(name, variant string, tokens []string) int {
	found := variantsInName(name, tokens)
	switch {
	case len(found) == 1 && found[0] == variant:
		return scoreVariantMatch
	case len(found) > 0:
		return 0
	}
	if _, ok := defaultAssetNames[name]; ok {
		return scoreDefaultName
	}
	return scoreGeneric
}

// SelectReleaseAssets scores release assets for the running hardware variant.
// Per role the single highest score wins; a tie at the top is an error.
func SelectReleaseAssets(assets []models.ReleaseAsset, variant string, knownVariants []string) (ReleaseSelection, error) {
	own := utils.NormalizeVariant(variant)
	tokenSet := utils.SliceToSet(append([]string{own}, normalizeAll(knownVariants)...))
	tokens := make([]string, 0, len(tokenSet))
	for t := range tokenSet {
		tokens = append(tokens, t)
	}

	type candidate struct {
		asset models.ReleaseAsset
		score int
	}
	candidates := map[assetRole][]candidate{}
	for _, a := range assets {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		role := classifyAsset(name)
		if role == roleNone {
			continue
		}
		score := scoreAsset(name, own, tokens)
		if score <= 0 {
			continue
		}
		candidates[role] = append(candidates[role], candidate{asset: a, score: score})
	}

	pick := func(role assetRole) (*models.ReleaseAsset, error) {
		list := candidates[role]
		if len(list) == 0 {
			return nil, nil
		}
		best, tie := 0, false
		for i := 1; i < len(list); i++ {
			switch {
			case list[i].score > list[best].score:
				best, tie = i, false
			case list[i].score == list[best].score:
				tie = true
			}
		}
		if tie {
			return nil, fmt.Errorf("%w: several assets score %d", ErrAmbiguousAsset, list[best].score)
		}
		a := list[best].asset
		return &a, nil
	}

	var sel ReleaseSelection
	bundle, err := pick(roleBundle)
	if err != nil {
		return sel, err
	}
	if bundle != nil {
		sel.Bundle = bundle
		return sel, nil
	}

	if sel.Firmware, err = pick(roleFirmware); err != nil {
		return ReleaseSelection{}, err
	}
	if sel.Firmware == nil {
		return ReleaseSelection{}, ErrNoMatchingAsset
	}
	if sel.Filesystem, err = pick(roleFilesystem); err != nil {
		return ReleaseSelection{}, err
	}
	return sel, nil
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, utils.NormalizeVariant(v))
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
