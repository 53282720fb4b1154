package meminfo

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// VmaCallback is called for every VMA in kernel order. Returning false stops
// the iteration.
type VmaCallback func(Vma) bool

// rollupName is the name given to a rollup block that has no header line.
const rollupName = "[rollup]"

var (
	// Start    End          Perms Offset   Dev    Inode  Name
	// 701ea000-70cdb000      rw-p  00000000 fe:00  3165   /system/framework/x86_64/boot-framework.art
	headerRe = regexp.MustCompile(`^([0-9a-fA-F]+)-([0-9a-fA-F]+)\s+([r-][w-][x-][ps-])\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+:[0-9a-fA-F]+)\s+(\d+)(?:\s+(.*))?$`)

	// Key: Value kB
	// Size:                  4 kB
	kvRe = regexp.MustCompile(`^([A-Za-z_]+):\s+(\d+) kB`)
)

// parseMapsLine parses one maps-format header line. It reports false for any
// line that is not a complete header.
func parseMapsLine(line string) (Vma, bool) {
	if line == "" || !isHexDigit(line[0]) {
		return Vma{}, false
	}
	matches := headerRe.FindStringSubmatch(line)
	if matches == nil {
		return Vma{}, false
	}

	start, err := strconv.ParseUint(matches[1], 16, 64)
	if err != nil {
		return Vma{}, false
	}
	end, err := strconv.ParseUint(matches[2], 16, 64)
	if err != nil || end < start {
		return Vma{}, false
	}
	offset, err := strconv.ParseUint(matches[4], 16, 64)
	if err != nil {
		return Vma{}, false
	}
	inode, err := strconv.ParseUint(matches[6], 10, 64)
	if err != nil {
		return Vma{}, false
	}

	perms := matches[3]
	var flags Prot
	if perms[0] == 'r' {
		flags |= ProtRead
	}
	if perms[1] == 'w' {
		flags |= ProtWrite
	}
	if perms[2] == 'x' {
		flags |= ProtExec
	}

	return Vma{
		Start:    start,
		End:      end,
		Offset:   offset,
		Flags:    flags,
		IsShared: perms[3] == 's',
		Name:     strings.TrimSpace(matches[7]),
		Inode:    inode,
	}, true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// parseUsageLine adds one "Key: N kB" line into the usage of v. It reports
// whether the line had the usage line shape, recognized key or not.
func parseUsageLine(line string, v *Vma) bool {
	kv := kvRe.FindStringSubmatch(line)
	if kv == nil {
		return false
	}
	val, err := strconv.ParseUint(kv[2], 10, 64)
	if err != nil {
		return true
	}
	u := &v.Usage
	switch kv[1] {
	case "Size":
		u.Vss += val
	case "Rss":
		u.Rss += val
	case "Pss":
		u.Pss += val
	case "Shared_Clean":
		u.SharedClean += val
	case "Shared_Dirty":
		u.SharedDirty += val
	case "Private_Clean":
		u.PrivateClean += val
	case "Private_Dirty":
		u.PrivateDirty += val
	case "Swap":
		u.Swap += val
	case "SwapPss":
		u.SwapPss += val
		v.HasSwapPss = true
	case "AnonHugePages":
		u.AnonHugePages += val
	case "ShmemPmdMapped":
		u.ShmemPmdMapped += val
	case "FilePmdMapped":
		u.FilePmdMapped += val
	case "Shared_Hugetlb":
		u.SharedHugetlb += val
	case "Private_Hugetlb":
		u.PrivateHugetlb += val
	}
	return true
}

// ForEachVmaFromReader parses maps or smaps formatted text and calls fn for
// each VMA in order. With useSmaps false only header lines are read and every
// VMA has zero usage. Malformed lines are skipped unless the first line of
// the input is malformed, which fails the parse with ErrMalformedRecord.
// ErrStopped is returned when fn returns false.
func ForEachVmaFromReader(r io.Reader, fn VmaCallback, useSmaps bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	var (
		vma     Vma
		pending bool
		started bool
	)
	emit := func() bool {
		vma.Usage.finish()
		return fn(vma)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if next, ok := parseMapsLine(line); ok {
			if pending && !emit() {
				return ErrStopped
			}
			vma, pending, started = next, true, true
			continue
		}

		if !started {
			// A rollup may start directly with its counters.
			vma = Vma{Name: rollupName}
			if !useSmaps || !parseUsageLine(line, &vma) {
				return fmt.Errorf("%w: unexpected first line %q", ErrMalformedRecord, line)
			}
			pending, started = true, true
			continue
		}

		if useSmaps && pending {
			parseUsageLine(line, &vma)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	if pending && !emit() {
		return ErrStopped
	}
	return nil
}

// ForEachVmaFromFile opens path and parses it with ForEachVmaFromReader.
func ForEachVmaFromFile(path string, fn VmaCallback, useSmaps bool) error {
	f, err := openSource(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ForEachVmaFromReader(f, fn, useSmaps)
}

// ParseSmaps parses the contents of a /proc/[pid]/smaps file into an ordered
// VMA sequence with usage populated.
func ParseSmaps(r io.Reader) ([]Vma, error) {
	var vmas []Vma
	err := ForEachVmaFromReader(r, func(v Vma) bool {
		vmas = append(vmas, v)
		return true
	}, true)
	if err != nil {
		return nil, err
	}
	return vmas, nil
}

// ParseMaps parses the contents of a /proc/[pid]/maps file. Usage is zero
// for every VMA.
func ParseMaps(r io.Reader) ([]Vma, error) {
	var vmas []Vma
	err := ForEachVmaFromReader(r, func(v Vma) bool {
		vmas = append(vmas, v)
		return true
	}, false)
	if err != nil {
		return nil, err
	}
	return vmas, nil
}
