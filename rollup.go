package meminfo

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IsSmapsRollupSupported reports whether the kernel exposes smaps_rollup,
// checked on the calling process under procRoot.
func IsSmapsRollupSupported(procRoot string) bool {
	f, err := os.Open(filepath.Join(procRoot, "self", "smaps_rollup"))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// SmapsOrRollupFromFile sums every block of an smaps or smaps_rollup file.
// Rollup files contain a single block so both formats give the process
// total.
func SmapsOrRollupFromFile(path string) (MemUsage, error) {
	var total MemUsage
	err := ForEachVmaFromFile(path, func(v Vma) bool {
		total = total.Add(v.Usage)
		return true
	}, true)
	if err != nil {
		return MemUsage{}, err
	}
	return total, nil
}

// SmapsOrRollupPssFromFile sums only the Pss lines of an smaps or
// smaps_rollup file.
func SmapsOrRollupPssFromFile(path string) (uint64, error) {
	f, err := openSource(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var pss uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "Pss:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		val, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		pss += val
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan error: %w", err)
	}
	return pss, nil
}

// smapsOrRollupPath returns the rollup file of the process if the kernel
// has one, and the full smaps file otherwise.
func smapsOrRollupPath(procDir string) (string, error) {
	rollup := filepath.Join(procDir, "smaps_rollup")
	_, err := os.Stat(rollup)
	switch {
	case err == nil:
		return rollup, nil
	case errors.Is(err, fs.ErrNotExist):
		return filepath.Join(procDir, "smaps"), nil
	default:
		return "", fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
}

// StatusVmRSSFromFile returns the VmRSS value in kB of a status file.
// A file without a VmRSS line fails with ErrMissingTag.
func StatusVmRSSFromFile(path string) (uint64, error) {
	f, err := openSource(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "VmRSS:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, fmt.Errorf("%w: empty VmRSS in %s", ErrMalformedRecord, path)
		}
		rss, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: VmRSS: %w", ErrMalformedRecord, err)
		}
		return rss, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan error: %w", err)
	}
	return 0, fmt.Errorf("%w: VmRSS not found in %s", ErrMissingTag, path)
}
