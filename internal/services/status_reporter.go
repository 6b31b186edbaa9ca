package services

import (
	"time"

	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/benmeehan/display-agent/pkg/flash"
)

// UpdateStatusSource exposes the orchestrator snapshot.
type UpdateStatusSource interface {
	Status() models.UpdateStatus
}

// HeapStatsSource exposes the resource guard snapshot.
type HeapStatsSource interface {
	Stats() models.HeapStats
}

// DeviceStateSource exposes the persisted partition versions.
type DeviceStateSource interface {
	Snapshot() models.DeviceState
}

// StatusReporter assembles the device status from the component snapshots.
// Every source may be nil.
type StatusReporter struct {
	DeviceID string
	Version  string
	Updates  UpdateStatusSource
	Heap     HeapStatsSource
	State    DeviceStateSource
	Flash    flash.FlashTarget
	Clock    utils.Clock
	Started  time.Time
}

// Report is safe to call from any goroutine.
func (r *StatusReporter) Report() models.DeviceStatus {
	st := models.DeviceStatus{
		DeviceID: r.DeviceID,
		Version:  r.Version,
	}
	if r.Updates != nil {
		st.Update = r.Updates.Status()
	}
	if r.Heap != nil {
		st.Heap = r.Heap.Stats()
	}
	if r.State != nil {
		st.PartitionVersions = r.State.Snapshot().PartitionVersions
	}
	if r.Flash != nil {
		if p, err := r.Flash.RunningPartition(); err == nil {
			st.RunningPartition = p.Label
		}
		if p, err := r.Flash.BootPartition(); err == nil {
			st.BootPartition = p.Label
		}
	}
	if r.Clock != nil && !r.Started.IsZero() {
		st.UptimeSeconds = int64(r.Clock.Now().Sub(r.Started).Seconds())
	}
	return st
}
