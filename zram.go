package meminfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultZramRoot holds one zram<N> directory per device.
const DefaultZramRoot = "/sys/block"

const maxZramDevices = 256

// ReadZramTotalKb sums the memory used by every zram device below root.
// Devices are numbered from zram0 and the scan stops at the first missing
// one, so a system without zram reports zero.
func ReadZramTotalKb(root string) (uint64, error) {
	var total uint64
	for i := 0; i < maxZramDevices; i++ {
		dev := filepath.Join(root, "zram"+strconv.Itoa(i))
		if _, err := os.Stat(dev); err != nil {
			break
		}
		b, err := ZramDeviceBytes(dev)
		if err != nil {
			return 0, err
		}
		total += b
	}
	return total / 1024, nil
}

// ZramDeviceBytes returns the memory used by one zram device directory. The
// third field of mm_stat (mem_used_total) is preferred; kernels without
// mm_stat expose mem_used_total as its own file.
func ZramDeviceBytes(dev string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dev, "mm_stat"))
	if err == nil {
		fields := strings.Fields(string(data))
		if len(fields) < 3 {
			return 0, fmt.Errorf("%w: mm_stat in %s", ErrMalformedRecord, dev)
		}
		used, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: mm_stat in %s: %w", ErrMalformedRecord, dev, err)
		}
		return used, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return readScalar(filepath.Join(dev, "mem_used_total"))
}

// readScalar reads a file holding a single unsigned integer.
func readScalar(path string) (uint64, error) {
	data, err := readSource(path)
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrMalformedRecord, path, err)
	}
	return val, nil
}
