package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/tsaarni/meminfo"
	"github.com/tsaarni/meminfo/internal/config"
	"github.com/tsaarni/meminfo/internal/finder"
	"github.com/tsaarni/meminfo/internal/metrics"
)

// sources are the system-wide files, rebased below the configured mounts.
type sources struct {
	memInfo         string
	vmallocInfo     string
	zramRoot        string
	ionHeaps        string
	ionPools        string
	dmabufHeapPools string
	dmabufHeapRoot  string
	dmabufBuffers   string
	gpuMap          string
}

func rebase(root, path, mount string) string {
	return filepath.Join(root, strings.TrimPrefix(path, mount))
}

func newSources(cfg *config.Config) sources {
	return sources{
		memInfo:         rebase(cfg.ProcPath, meminfo.DefaultMemInfoPath, "/proc"),
		vmallocInfo:     rebase(cfg.ProcPath, meminfo.DefaultVmallocInfoPath, "/proc"),
		zramRoot:        rebase(cfg.SysPath, meminfo.DefaultZramRoot, "/sys"),
		ionHeaps:        rebase(cfg.SysPath, meminfo.DefaultIonHeapsSizePath, "/sys"),
		ionPools:        rebase(cfg.SysPath, meminfo.DefaultIonPoolsSizePath, "/sys"),
		dmabufHeapPools: rebase(cfg.SysPath, meminfo.DefaultDmabufHeapPoolsSizePath, "/sys"),
		dmabufHeapRoot:  rebase(cfg.DevPath, meminfo.DefaultDmabufHeapRoot, "/dev"),
		dmabufBuffers:   rebase(cfg.SysPath, meminfo.DefaultDmabufBuffersRoot, "/sys"),
		gpuMap:          rebase(cfg.SysPath, meminfo.DefaultGpuMemTotalMap, "/sys"),
	}
}

// Exporter periodically measures the processes selected by the filter and
// the system-wide counters, and publishes them as metrics.
type Exporter struct {
	cfg     *config.Config
	finder  finder.Finder
	filter  finder.Filter
	metrics *metrics.Metrics
	fs      procfs.FS
	sys     *meminfo.SysMemInfo
	src     sources
}

func New(cfg *config.Config, f finder.Finder, m *metrics.Metrics) (*Exporter, error) {
	filter, err := finder.ParseFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	fs, err := procfs.NewFS(cfg.ProcPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.ProcPath, err)
	}
	src := newSources(cfg)
	return &Exporter{
		cfg:     cfg,
		finder:  f,
		filter:  filter,
		metrics: m,
		fs:      fs,
		sys:     meminfo.NewSysMemInfo(meminfo.WithMemInfoPath(src.memInfo), meminfo.WithZramRoot(src.zramRoot)),
		src:     src,
	}, nil
}

// Run collects every scrape interval until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScrapeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := e.CollectOnce(ctx); err != nil {
			slog.Warn("Collection failed", "filter", e.filter, "error", err)
		}
	}
}

// CollectOnce measures all matching processes and the system once. Failing
// to measure one process or one system source does not fail the collection.
func (e *Exporter) CollectOnce(ctx context.Context) error {
	e.collectSystem()

	slog.Debug("Looking up matching processes", "filter", e.filter)
	pids, err := e.finder.FindPIDs(ctx, e.filter)
	if err != nil {
		return fmt.Errorf("failed to get host PIDs: %w", err)
	}

	e.metrics.ResetProcesses()
	mappings := make(map[string]map[string]meminfo.NamedUsage)
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Debug("Processing smaps", "pid", pid)
		if err := e.collectProcess(pid, mappings); err != nil {
			slog.Error("Failed to collect/set metrics", "pid", pid, "error", err)
		}
	}
	for comm, byName := range mappings {
		for _, g := range byName {
			e.metrics.SetMapping(comm, g)
		}
	}
	return nil
}

// mergeGroups adds groups into byName. A merged group is bss only if every
// process reported it as bss.
func mergeGroups(byName map[string]meminfo.NamedUsage, groups []meminfo.NamedUsage) {
	for _, g := range groups {
		if prev, ok := byName[g.Name]; ok {
			g.Usage = g.Usage.Add(prev.Usage)
			g.Count += prev.Count
			g.IsBss = g.IsBss && prev.IsBss
		}
		byName[g.Name] = g
	}
}

// collectProcess publishes the totals of pid and adds its objects to
// mappings, which sums them per command across processes.
func (e *Exporter) collectProcess(pid int, mappings map[string]map[string]meminfo.NamedUsage) error {
	comm, err := finder.Comm(e.fs, pid)
	if err != nil {
		return err
	}
	pmi := meminfo.NewProcMemInfo(pid, meminfo.WithProcRoot(e.cfg.ProcPath))

	var usage meminfo.MemUsage
	if e.cfg.PerMapping {
		vmas, err := pmi.Maps()
		if err != nil {
			return err
		}
		byName, ok := mappings[comm]
		if !ok {
			byName = make(map[string]meminfo.NamedUsage)
			mappings[comm] = byName
		}
		mergeGroups(byName, meminfo.GroupByName(vmas))
		if usage, err = pmi.Usage(); err != nil {
			return err
		}
	} else {
		if usage, err = pmi.SmapsOrRollup(); err != nil {
			return err
		}
	}
	e.metrics.SetProcess(comm, pid, usage)

	rss, err := pmi.StatusVmRSS()
	if err != nil {
		slog.Debug("No VmRSS", "pid", pid, "error", err)
		return nil
	}
	e.metrics.SetStatusRss(comm, pid, rss)
	return nil
}

// usable logs a failed system source and reports whether err is nil. A
// source the kernel does not provide is expected and only logged at debug.
func usable(source string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, meminfo.ErrUnsupportedOnPlatform):
		slog.Debug("Source not supported by kernel", "source", source)
	default:
		slog.Warn("Failed to read system source", "source", source, "error", err)
	}
	return false
}

func (e *Exporter) collectSystem() {
	sys := e.cfg.System
	m := e.metrics

	if sys.MemInfo {
		if err := e.sys.ReadMemInfo(); usable(e.src.memInfo, err) {
			m.SetMemInfo(meminfo.DefaultSysMemInfoTags, e.sys.Values())
		}
	}
	if sys.Vmalloc {
		if b, err := meminfo.ReadVmallocInfo(e.src.vmallocInfo); usable(e.src.vmallocInfo, err) {
			m.SystemVmalloc.Set(float64(b))
		}
	}
	if sys.Zram {
		if kb, err := e.sys.MemZramKb(""); usable(e.src.zramRoot, err) {
			m.SystemZram.Set(float64(kb * 1024))
		}
	}
	if sys.Dmabuf {
		if kb, err := meminfo.ReadIonHeapsSizeKb(e.src.ionHeaps); usable(e.src.ionHeaps, err) {
			m.SystemIonHeaps.Set(float64(kb * 1024))
		}
		if kb, err := meminfo.ReadIonPoolsSizeKb(e.src.ionPools); usable(e.src.ionPools, err) {
			m.SystemIonPools.Set(float64(kb * 1024))
		}
		if kb, err := meminfo.ReadDmabufHeapPoolsSizeKb(e.src.dmabufHeapPools); usable(e.src.dmabufHeapPools, err) {
			m.SystemDmabufHeapPools.Set(float64(kb * 1024))
		}
		if stats, err := meminfo.ReadDmabufExportedKb(e.src.dmabufHeapRoot, e.src.dmabufBuffers); usable(e.src.dmabufBuffers, err) {
			m.SetDmabufExported(stats)
		}
	}
	if sys.Gpu {
		if kb, err := meminfo.ReadGpuTotalUsageKb(e.src.gpuMap); usable(e.src.gpuMap, err) {
			m.SystemGpuTotal.Set(float64(kb * 1024))
		}
	}
}
