package models

import (
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
)

// VersionManifest is the document served at the manifest URL.
type VersionManifest struct {
	Version    string                   `json:"version"`
	BuildID    string                   `json:"build_id"`
	BuildDate  string                   `json:"build_date"`
	Firmware   map[string]ManifestAsset `json:"firmware"`
	Filesystem map[string]ManifestAsset `json:"filesystem,omitempty"`
}

// ManifestAsset points at one downloadable image for a hardware variant.
type ManifestAsset struct {
	URL      string `json:"url"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"` // hex sha256
	Format   string `json:"format,omitempty"`   // "bin" or "bundle"
}

// Release is the subset of the release API response the resolver needs.
type Release struct {
	TagName string         `json:"tag_name"`
	Assets  []ReleaseAsset `json:"assets"`
}

type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size,omitempty"`
}

// UpdateCheckResult is the outcome of one manifest or release lookup.
type UpdateCheckResult struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	BuildID         string    `json:"build_id,omitempty"`
	BuildDate       string    `json:"build_date,omitempty"`
	FirmwareURL     string    `json:"firmware_url,omitempty"`
	FilesystemURL   string    `json:"filesystem_url,omitempty"`
	Format          string    `json:"format"`
	Checksum        string    `json:"checksum,omitempty"`
	Size            int64     `json:"size,omitempty"`
	Source          string    `json:"source"`
	UpdateAvailable bool      `json:"update_available"`
	CheckedAt       time.Time `json:"checked_at"`
}

// UpdateStatus is the snapshot exposed on the status API and the get_status command.
type UpdateStatus struct {
	State          constants.UpdateState   `json:"state"`
	Trigger        constants.UpdateTrigger `json:"trigger,omitempty"`
	Phase          string                  `json:"phase,omitempty"`
	Progress       int                     `json:"progress"`
	CurrentVersion string                  `json:"current_version"`
	LatestVersion  string                  `json:"latest_version,omitempty"`
	LastError      string                  `json:"last_error,omitempty"`
	FailedVersion  string                  `json:"failed_version,omitempty"`
	LastCheck      time.Time               `json:"last_check,omitempty"`
}
