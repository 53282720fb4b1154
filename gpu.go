package meminfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cilium/ebpf"
)

// DefaultGpuMemTotalMap is the pinned BPF map the GPU memory tracepoint
// program keeps its per-GPU and global totals in.
const DefaultGpuMemTotalMap = "/sys/fs/bpf/map_gpuMem_gpu_mem_total_map"

// gpuTotalKey is the map key holding the global total in bytes.
const gpuTotalKey uint64 = 0

// ReadGpuTotalUsageKb returns the global GPU memory total in kB from the
// pinned map at path. A missing map means the kernel or vendor driver does
// not track GPU memory.
func ReadGpuTotalUsageKb(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, featureError(path, err)
	}
	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, featureError(path, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer m.Close()

	var total uint64
	if err := m.Lookup(gpuTotalKey, &total); err != nil {
		return 0, fmt.Errorf("%w: gpu total: %w", ErrMalformedRecord, err)
	}
	return total / 1024, nil
}
