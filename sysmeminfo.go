package meminfo

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMemInfoPath is the system-wide memory counters file.
const DefaultMemInfoPath = "/proc/meminfo"

// ZramTag is a pseudo-tag for ReadMemInfoTags that resolves to the zram
// total from sysfs instead of a meminfo line.
const ZramTag = "Zram:"

// Tags of the default set, in slot order.
const (
	MemInfoTotal = iota
	MemInfoFree
	MemInfoBuffers
	MemInfoCached
	MemInfoShmem
	MemInfoSlab
	MemInfoSlabReclaimable
	MemInfoSlabUnreclaimable
	MemInfoSwapTotal
	MemInfoSwapFree
	MemInfoMapped
	MemInfoVmallocUsed
	MemInfoPageTables
	MemInfoKernelStack
	MemInfoKReclaimable
	MemInfoActive
	MemInfoInactive
	MemInfoUnevictable
	MemInfoAvailable
	MemInfoActiveAnon
	MemInfoInactiveAnon
	MemInfoActiveFile
	MemInfoInactiveFile
	MemInfoCmaTotal
	MemInfoCmaFree
	MemInfoSwapCached
	MemInfoCount
)

// DefaultSysMemInfoTags lists the meminfo tags read by ReadMemInfo, indexed
// by the MemInfo* constants.
var DefaultSysMemInfoTags = []string{
	"MemTotal:",
	"MemFree:",
	"Buffers:",
	"Cached:",
	"Shmem:",
	"Slab:",
	"SReclaimable:",
	"SUnreclaim:",
	"SwapTotal:",
	"SwapFree:",
	"Mapped:",
	"VmallocUsed:",
	"PageTables:",
	"KernelStack:",
	"KReclaimable:",
	"Active:",
	"Inactive:",
	"Unevictable:",
	"MemAvailable:",
	"Active(anon):",
	"Inactive(anon):",
	"Active(file):",
	"Inactive(file):",
	"CmaTotal:",
	"CmaFree:",
	"SwapCached:",
}

// SysMemInfo holds system-wide memory counters in kB.
type SysMemInfo struct {
	path     string
	zramRoot string
	mem      [MemInfoCount]uint64
}

// SysOption configures a SysMemInfo.
type SysOption func(*SysMemInfo)

// WithMemInfoPath reads counters from path instead of /proc/meminfo.
func WithMemInfoPath(path string) SysOption {
	return func(s *SysMemInfo) {
		s.path = path
	}
}

// WithZramRoot looks for zram devices below root instead of /sys/block.
func WithZramRoot(root string) SysOption {
	return func(s *SysMemInfo) {
		s.zramRoot = root
	}
}

// NewSysMemInfo returns an empty SysMemInfo.
func NewSysMemInfo(opts ...SysOption) *SysMemInfo {
	s := &SysMemInfo{
		path:     DefaultMemInfoPath,
		zramRoot: DefaultZramRoot,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadMemInfo reads the default tag set from the configured source.
func (s *SysMemInfo) ReadMemInfo() error {
	return s.ReadMemInfoFromFile(s.path)
}

// ReadMemInfoFromFile reads the default tag set from path. Counters are only
// replaced when the whole file was read.
func (s *SysMemInfo) ReadMemInfoFromFile(path string) error {
	vals, err := s.ReadMemInfoTags(DefaultSysMemInfoTags, path)
	if err != nil {
		return err
	}
	copy(s.mem[:], vals)
	return nil
}

// ReadMemInfoTags reads the given tags from path and returns one value per
// tag, in the order of tags. Tags missing from the source yield zero; an
// empty source is a valid all-zero result.
func (s *SysMemInfo) ReadMemInfoTags(tags []string, path string) ([]uint64, error) {
	f, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vals, err := parseMemInfo(f, tags)
	if err != nil {
		return nil, err
	}

	for i, tag := range tags {
		if tag != ZramTag {
			continue
		}
		// Zram is best effort: a device without stats reads as zero.
		if kb, err := ReadZramTotalKb(s.zramRoot); err == nil {
			vals[i] = kb
		}
	}
	return vals, nil
}

// parseMemInfo resolves every "<Tag> <value> [kB]" line of r to its slot.
func parseMemInfo(r io.Reader, tags []string) ([]uint64, error) {
	slots := make(map[string]int, len(tags))
	for i, tag := range tags {
		if _, dup := slots[tag]; !dup {
			slots[tag] = i
		}
	}
	vals := make([]uint64, len(tags))

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		i, ok := slots[fields[0]]
		if !ok {
			continue
		}
		val, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		vals[i] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}

	// Duplicate tags in the request share the first slot's value.
	for i, tag := range tags {
		vals[i] = vals[slots[tag]]
	}
	return vals, nil
}

// MemTotalKb returns MemTotal from the last read, in kB.
func (s *SysMemInfo) MemTotalKb() uint64 { return s.mem[MemInfoTotal] }

// MemFreeKb returns MemFree from the last read, in kB.
func (s *SysMemInfo) MemFreeKb() uint64 { return s.mem[MemInfoFree] }

// MemBuffersKb returns Buffers from the last read, in kB.
func (s *SysMemInfo) MemBuffersKb() uint64 { return s.mem[MemInfoBuffers] }

// MemCachedKb returns Cached from the last read, in kB.
func (s *SysMemInfo) MemCachedKb() uint64 { return s.mem[MemInfoCached] }

// MemShmemKb returns Shmem from the last read, in kB.
func (s *SysMemInfo) MemShmemKb() uint64 { return s.mem[MemInfoShmem] }

// MemSlabKb returns Slab from the last read, in kB.
func (s *SysMemInfo) MemSlabKb() uint64 { return s.mem[MemInfoSlab] }

// MemSlabReclaimableKb returns SReclaimable from the last read, in kB.
func (s *SysMemInfo) MemSlabReclaimableKb() uint64 { return s.mem[MemInfoSlabReclaimable] }

// MemSlabUnreclaimableKb returns SUnreclaim from the last read, in kB.
func (s *SysMemInfo) MemSlabUnreclaimableKb() uint64 { return s.mem[MemInfoSlabUnreclaimable] }

// MemSwapKb returns SwapTotal from the last read, in kB.
func (s *SysMemInfo) MemSwapKb() uint64 { return s.mem[MemInfoSwapTotal] }

// MemSwapFreeKb returns SwapFree from the last read, in kB.
func (s *SysMemInfo) MemSwapFreeKb() uint64 { return s.mem[MemInfoSwapFree] }

// MemMappedKb returns Mapped from the last read, in kB.
func (s *SysMemInfo) MemMappedKb() uint64 { return s.mem[MemInfoMapped] }

// MemVmallocUsedKb returns VmallocUsed from the last read, in kB.
func (s *SysMemInfo) MemVmallocUsedKb() uint64 { return s.mem[MemInfoVmallocUsed] }

// MemPageTablesKb returns PageTables from the last read, in kB.
func (s *SysMemInfo) MemPageTablesKb() uint64 { return s.mem[MemInfoPageTables] }

// MemKernelStackKb returns KernelStack from the last read, in kB.
func (s *SysMemInfo) MemKernelStackKb() uint64 { return s.mem[MemInfoKernelStack] }

// MemKReclaimableKb returns KReclaimable from the last read, in kB.
func (s *SysMemInfo) MemKReclaimableKb() uint64 { return s.mem[MemInfoKReclaimable] }

// MemActiveKb returns Active from the last read, in kB.
func (s *SysMemInfo) MemActiveKb() uint64 { return s.mem[MemInfoActive] }

// MemInactiveKb returns Inactive from the last read, in kB.
func (s *SysMemInfo) MemInactiveKb() uint64 { return s.mem[MemInfoInactive] }

// MemUnevictableKb returns Unevictable from the last read, in kB.
func (s *SysMemInfo) MemUnevictableKb() uint64 { return s.mem[MemInfoUnevictable] }

// MemAvailableKb returns MemAvailable from the last read, in kB.
func (s *SysMemInfo) MemAvailableKb() uint64 { return s.mem[MemInfoAvailable] }

// MemActiveAnonKb returns Active(anon) from the last read, in kB.
func (s *SysMemInfo) MemActiveAnonKb() uint64 { return s.mem[MemInfoActiveAnon] }

// MemInactiveAnonKb returns Inactive(anon) from the last read, in kB.
func (s *SysMemInfo) MemInactiveAnonKb() uint64 { return s.mem[MemInfoInactiveAnon] }

// MemActiveFileKb returns Active(file) from the last read, in kB.
func (s *SysMemInfo) MemActiveFileKb() uint64 { return s.mem[MemInfoActiveFile] }

// MemInactiveFileKb returns Inactive(file) from the last read, in kB.
func (s *SysMemInfo) MemInactiveFileKb() uint64 { return s.mem[MemInfoInactiveFile] }

// MemCmaTotalKb returns CmaTotal from the last read, in kB.
func (s *SysMemInfo) MemCmaTotalKb() uint64 { return s.mem[MemInfoCmaTotal] }

// MemCmaFreeKb returns CmaFree from the last read, in kB.
func (s *SysMemInfo) MemCmaFreeKb() uint64 { return s.mem[MemInfoCmaFree] }

// MemSwapCachedKb returns SwapCached from the last read, in kB.
func (s *SysMemInfo) MemSwapCachedKb() uint64 { return s.mem[MemInfoSwapCached] }

// MemZramKb returns the zram usage in kB. An empty dev sums every device
// below the configured zram root; otherwise dev is one device directory.
func (s *SysMemInfo) MemZramKb(dev string) (uint64, error) {
	if dev == "" {
		return ReadZramTotalKb(s.zramRoot)
	}
	b, err := ZramDeviceBytes(dev)
	if err != nil {
		return 0, err
	}
	return b / 1024, nil
}

// Values returns a copy of the default tag set counters in slot order.
func (s *SysMemInfo) Values() []uint64 {
	vals := make([]uint64, MemInfoCount)
	copy(vals, s.mem[:])
	return vals
}
