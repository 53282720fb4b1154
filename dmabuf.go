package meminfo

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default sysfs and devfs locations of the ION and DMA-BUF accounting files.
const (
	DefaultIonHeapsSizePath        = "/sys/kernel/ion/total_heaps_kb"
	DefaultIonPoolsSizePath        = "/sys/kernel/ion/total_pools_kb"
	DefaultDmabufHeapPoolsSizePath = "/sys/kernel/dma_heap/total_pools_kb"
	DefaultDmabufHeapRoot          = "/dev/dma_heap"
	DefaultDmabufBuffersRoot       = "/sys/kernel/dmabuf/buffers"
)

// ReadIonHeapsSizeKb returns the total size of all ION heaps in kB.
func ReadIonHeapsSizeKb(path string) (uint64, error) {
	return readFeatureScalar(path)
}

// ReadIonPoolsSizeKb returns the total size of the ION page pools in kB.
func ReadIonPoolsSizeKb(path string) (uint64, error) {
	return readFeatureScalar(path)
}

// ReadDmabufHeapPoolsSizeKb returns the total size of the DMA-BUF heap page
// pools in kB.
func ReadDmabufHeapPoolsSizeKb(path string) (uint64, error) {
	return readFeatureScalar(path)
}

// readFeatureScalar is readScalar for files whose absence means the kernel
// lacks the feature.
func readFeatureScalar(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, featureError(path, err)
	}
	return readScalar(path)
}

// DmabufExportStats is the exported DMA-BUF memory grouped by exporter.
type DmabufExportStats struct {
	// ExporterKb maps each exporter_name to the kB of live buffers it
	// exported, whether or not the exporter is a DMA-BUF heap.
	ExporterKb map[string]uint64

	// HeapTotalKb sums the buffers whose exporter is a heap under the heap root.
	HeapTotalKb uint64
}

// ReadDmabufExportedKb walks the per-buffer sysfs stats below buffersRoot,
// one directory per buffer inode holding size and exporter_name, and
// attributes every buffer to its exporter. Heap names come from the entries
// of heapRoot. Buffers that disappear or cannot be parsed during the walk are
// skipped.
func ReadDmabufExportedKb(heapRoot, buffersRoot string) (DmabufExportStats, error) {
	heaps, err := dmabufHeapNames(heapRoot)
	if err != nil {
		return DmabufExportStats{}, err
	}
	entries, err := os.ReadDir(buffersRoot)
	if err != nil {
		return DmabufExportStats{}, featureError(buffersRoot, err)
	}

	exporterBytes := make(map[string]uint64)
	var heapBytes uint64
	for _, e := range entries {
		if _, err := strconv.ParseUint(e.Name(), 10, 64); err != nil {
			continue
		}
		dir := filepath.Join(buffersRoot, e.Name())
		size, err := readScalar(filepath.Join(dir, "size"))
		if err != nil {
			continue
		}
		name, err := os.ReadFile(filepath.Join(dir, "exporter_name"))
		if err != nil {
			continue
		}
		exporter := strings.TrimSpace(string(name))
		exporterBytes[exporter] += size
		if _, ok := heaps[exporter]; ok {
			heapBytes += size
		}
	}

	stats := DmabufExportStats{
		ExporterKb:  make(map[string]uint64, len(exporterBytes)),
		HeapTotalKb: heapBytes / 1024,
	}
	for exporter, b := range exporterBytes {
		stats.ExporterKb[exporter] = b / 1024
	}
	return stats, nil
}

// ReadDmabufHeapTotalExportedKb returns the kB exported by DMA-BUF heaps.
func ReadDmabufHeapTotalExportedKb(heapRoot, buffersRoot string) (uint64, error) {
	stats, err := ReadDmabufExportedKb(heapRoot, buffersRoot)
	if err != nil {
		return 0, err
	}
	return stats.HeapTotalKb, nil
}

func dmabufHeapNames(heapRoot string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(heapRoot)
	if err != nil {
		return nil, featureError(heapRoot, err)
	}
	heaps := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		heaps[e.Name()] = struct{}{}
	}
	return heaps, nil
}
