package metrics_collectors

import (
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/shirou/gopsutil/mem"
)

// SystemHeapProbe reads available memory from the operating system. Free
// bytes map to the kernel's available estimate and the largest block to its
// unfragmented free pool, which has no reclaimable cache in it. Scale divides
// both so device-sized thresholds can be exercised on larger hosts.
type SystemHeapProbe struct {
	Scale uint64
}

func (p *SystemHeapProbe) Sample() (models.HeapSample, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return models.HeapSample{}, err
	}
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	block := vm.Free
	if block > vm.Available {
		block = vm.Available
	}
	return models.HeapSample{
		FreeBytes:    vm.Available / scale,
		LargestBlock: block / scale,
	}, nil
}
