package meminfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultProcRoot is where proc is mounted unless WithProcRoot says otherwise.
const DefaultProcRoot = "/proc"

// ProcMemInfo is a memory snapshot of one process. It holds the VMA sequence
// of the last successful enumeration together with its aggregate, so callers
// that need a consistent view across several queries keep one instance.
//
// A ProcMemInfo must not be mutated from several goroutines at once.
type ProcMemInfo struct {
	pid      int
	getWss   bool
	procRoot string
	pageSize uint64

	maps  []Vma
	usage MemUsage
	wss   MemUsage
}

// Option configures a ProcMemInfo.
type Option func(*ProcMemInfo)

// WithWorkingSet makes the snapshot track the working set instead of full
// usage. The mode cannot change after construction.
func WithWorkingSet() Option {
	return func(p *ProcMemInfo) {
		p.getWss = true
	}
}

// WithProcRoot reads per-process files below root instead of /proc.
func WithProcRoot(root string) Option {
	return func(p *ProcMemInfo) {
		p.procRoot = root
	}
}

// WithPageSize overrides the system page size.
func WithPageSize(size uint64) Option {
	return func(p *ProcMemInfo) {
		p.pageSize = size
	}
}

// NewProcMemInfo returns an empty snapshot bound to pid. Nothing is read
// until a query is made.
func NewProcMemInfo(pid int, opts ...Option) *ProcMemInfo {
	p := &ProcMemInfo{
		pid:      pid,
		procRoot: DefaultProcRoot,
		pageSize: uint64(unix.Getpagesize()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pid returns the process id the snapshot is bound to.
func (p *ProcMemInfo) Pid() int {
	return p.pid
}

// PageSize returns the page size used for page-level queries.
func (p *ProcMemInfo) PageSize() uint64 {
	return p.pageSize
}

func (p *ProcMemInfo) path(name string) string {
	return filepath.Join(p.procRoot, strconv.Itoa(p.pid), name)
}

// skipVma filters mappings the snapshot never surfaces. On x86_64 the
// [vsyscall] page has no pagemap entries.
func skipVma(v Vma) bool {
	return runtime.GOARCH == "amd64" && v.Name == "[vsyscall]"
}

func (p *ProcMemInfo) collect(path string, useSmaps bool) ([]Vma, error) {
	var vmas []Vma
	err := ForEachVmaFromFile(path, func(v Vma) bool {
		if !skipVma(v) {
			vmas = append(vmas, v)
		}
		return true
	}, useSmaps)
	if err != nil {
		return nil, err
	}
	return vmas, nil
}

// store replaces the held sequence and the aggregate selected by getWss.
func (p *ProcMemInfo) store(vmas []Vma, getWss bool) {
	p.maps = vmas
	if getWss {
		p.wss = TotalUsage(vmas)
	} else {
		p.usage = TotalUsage(vmas)
	}
}

// Smaps enumerates the VMAs of an smaps file with usage populated and
// accumulates the process aggregate. An empty path reads the live smaps of
// the process.
func (p *ProcMemInfo) Smaps(path string) ([]Vma, error) {
	if path == "" {
		path = p.path("smaps")
	}
	vmas, err := p.collect(path, true)
	if err != nil {
		return nil, err
	}
	p.store(vmas, p.getWss)
	return vmas, nil
}

// Maps enumerates the live VMAs of the process with usage populated.
func (p *ProcMemInfo) Maps() ([]Vma, error) {
	return p.Smaps("")
}

// MapsWithoutUsageStats enumerates the live VMAs from the cheaper maps file.
// Every VMA has zero usage because none was read; use FillInVmaStats or
// GetUsageStats to add it. The aggregate is reset to match.
func (p *ProcMemInfo) MapsWithoutUsageStats() ([]Vma, error) {
	vmas, err := p.collect(p.path("maps"), false)
	if err != nil {
		return nil, err
	}
	p.store(vmas, p.getWss)
	return vmas, nil
}

// FillInVmaStats returns a copy of vma carrying the usage of the smaps block
// with the same address range. If no block matches, ErrVmaNotFound is
// returned together with vma unchanged.
func (p *ProcMemInfo) FillInVmaStats(vma Vma) (Vma, error) {
	var (
		found  bool
		detail Vma
	)
	err := ForEachVmaFromFile(p.path("smaps"), func(v Vma) bool {
		if v.Start == vma.Start && v.End == vma.End {
			found, detail = true, v
			return false
		}
		return true
	}, true)
	if err != nil && !errors.Is(err, ErrStopped) {
		return vma, err
	}
	if !found {
		return vma, fmt.Errorf("%w: %x-%x", ErrVmaNotFound, vma.Start, vma.End)
	}
	vma.Usage, vma.HasSwapPss = detail.Usage, detail.HasSwapPss
	return vma, nil
}

// GetUsageStats fills in the usage of every held VMA from one pass over the
// live smaps file. getWss selects whether the resulting total is stored as
// the working set or as the usage aggregate.
func (p *ProcMemInfo) GetUsageStats(getWss bool) error {
	if len(p.maps) == 0 {
		if _, err := p.MapsWithoutUsageStats(); err != nil {
			return err
		}
	}
	detailed, err := p.collect(p.path("smaps"), true)
	if err != nil {
		return err
	}
	p.store(MergeUsage(p.maps, detailed), getWss)
	return nil
}

// Vmas returns the sequence held by the snapshot without reading anything.
func (p *ProcMemInfo) Vmas() []Vma {
	return p.maps
}

// Usage returns the process usage aggregate, enumerating the VMAs first if
// the snapshot holds none. A working set snapshot always reports zero usage.
func (p *ProcMemInfo) Usage() (MemUsage, error) {
	if p.getWss {
		return MemUsage{}, nil
	}
	if len(p.maps) == 0 {
		if _, err := p.Maps(); err != nil {
			return MemUsage{}, err
		}
	}
	return p.usage, nil
}

// Wss returns the working set aggregate. A usage snapshot always reports a
// zero working set.
func (p *ProcMemInfo) Wss() (MemUsage, error) {
	if !p.getWss {
		return MemUsage{}, nil
	}
	if len(p.maps) == 0 {
		if _, err := p.Maps(); err != nil {
			return MemUsage{}, err
		}
	}
	return p.wss, nil
}

// SmapsOrRollup returns the process totals from smaps_rollup, or from
// summing every smaps block on kernels without it.
func (p *ProcMemInfo) SmapsOrRollup() (MemUsage, error) {
	path, err := smapsOrRollupPath(filepath.Dir(p.path("smaps")))
	if err != nil {
		return MemUsage{}, err
	}
	return SmapsOrRollupFromFile(path)
}

// SmapsOrRollupPss is SmapsOrRollup restricted to the Pss total.
func (p *ProcMemInfo) SmapsOrRollupPss() (uint64, error) {
	path, err := smapsOrRollupPath(filepath.Dir(p.path("smaps")))
	if err != nil {
		return 0, err
	}
	return SmapsOrRollupPssFromFile(path)
}

// StatusVmRSS returns VmRSS of the process in kB.
func (p *ProcMemInfo) StatusVmRSS() (uint64, error) {
	return StatusVmRSSFromFile(p.path("status"))
}

// ResetWorkingSet clears the referenced and soft-dirty bits of the process.
func (p *ProcMemInfo) ResetWorkingSet() error {
	return resetWorkingSet(p.path("clear_refs"))
}

// ResetWorkingSet clears the referenced and soft-dirty bits of pid under
// /proc.
func ResetWorkingSet(pid int) error {
	return resetWorkingSet(filepath.Join(DefaultProcRoot, strconv.Itoa(pid), "clear_refs"))
}

func resetWorkingSet(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer f.Close()
	if _, err := f.WriteString("1\n"); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ForEachVma streams the live VMAs of the process without storing them.
func (p *ProcMemInfo) ForEachVma(fn VmaCallback, useSmaps bool) error {
	name := "maps"
	if useSmaps {
		name = "smaps"
	}
	return ForEachVmaFromFile(p.path(name), fn, useSmaps)
}

// ForEachExistingVma calls fn for every held VMA that is still mapped in the
// live process. VMAs unmapped since enumeration are skipped. ErrStopped is
// returned as soon as fn returns false.
func (p *ProcMemInfo) ForEachExistingVma(fn VmaCallback) error {
	if len(p.maps) == 0 {
		return ErrEmptySnapshot
	}
	live := make(map[addrRange]struct{}, len(p.maps))
	err := ForEachVmaFromFile(p.path("maps"), func(v Vma) bool {
		live[v.addrRange()] = struct{}{}
		return true
	}, false)
	if err != nil {
		return err
	}
	for _, v := range p.maps {
		if _, ok := live[v.addrRange()]; !ok {
			continue
		}
		if !fn(v) {
			return ErrStopped
		}
	}
	return nil
}
