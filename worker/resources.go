// vidvault/worker/resources.go
package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// checkStagedResources verifies the host can absorb a staged download
// before any file is materialized. The streaming strategy is exempt: its
// memory use is bounded by the pipe and it touches no disk.
func checkStagedResources(tempDir string, minFreeDisk, minFreeMem int64) error {
	du, err := disk.Usage(tempDir)
	if err == nil && du.Free < uint64(minFreeDisk) {
		return fmt.Errorf("not enough free disk for staged download. Free: %d, Required: %d", du.Free, minFreeDisk)
	}

	vm, err := mem.VirtualMemory()
	if err == nil && vm.Available < uint64(minFreeMem) {
		return fmt.Errorf("not enough free memory for staged download. Available: %d, Required: %d", vm.Available, minFreeMem)
	}

	return nil
}
