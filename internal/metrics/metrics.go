package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tsaarni/meminfo"
)

const kB = 1024

// Metrics holds the Prometheus gauges of the exporter. Mapping gauges are
// labeled by process command and mapped object, process gauges by command
// and pid.
type Metrics struct {
	MappingSize           *prometheus.GaugeVec
	MappingRss            *prometheus.GaugeVec
	MappingPss            *prometheus.GaugeVec
	MappingSharedClean    *prometheus.GaugeVec
	MappingSharedDirty    *prometheus.GaugeVec
	MappingPrivateClean   *prometheus.GaugeVec
	MappingPrivateDirty   *prometheus.GaugeVec
	MappingAnonHugePages  *prometheus.GaugeVec
	MappingShmemPmdMapped *prometheus.GaugeVec
	MappingFilePmdMapped  *prometheus.GaugeVec
	MappingSharedHugetlb  *prometheus.GaugeVec
	MappingPrivateHugetlb *prometheus.GaugeVec
	MappingSwap           *prometheus.GaugeVec
	MappingSwapPss        *prometheus.GaugeVec
	MappingCount          *prometheus.GaugeVec

	ProcessRss       *prometheus.GaugeVec
	ProcessPss       *prometheus.GaugeVec
	ProcessUss       *prometheus.GaugeVec
	ProcessSwap      *prometheus.GaugeVec
	ProcessSwapPss   *prometheus.GaugeVec
	ProcessStatusRss *prometheus.GaugeVec

	SystemMemInfo          *prometheus.GaugeVec
	SystemVmalloc          prometheus.Gauge
	SystemZram             prometheus.Gauge
	SystemIonHeaps         prometheus.Gauge
	SystemIonPools         prometheus.Gauge
	SystemDmabufHeapPools  prometheus.Gauge
	SystemDmabufExported   *prometheus.GaugeVec
	SystemDmabufHeapExport prometheus.Gauge
	SystemGpuTotal         prometheus.Gauge
}

func mappingGauge(f promauto.Factory, name, help string) *prometheus.GaugeVec {
	return f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "process_smaps_" + name,
			Help: help,
		},
		[]string{"comm", "path"},
	)
}

func processGauge(f promauto.Factory, name, help string) *prometheus.GaugeVec {
	return f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "process_memory_" + name,
			Help: help,
		},
		[]string{"comm", "pid"},
	)
}

func systemGauge(f promauto.Factory, name, help string) prometheus.Gauge {
	return f.NewGauge(prometheus.GaugeOpts{
		Name: "system_memory_" + name,
		Help: help,
	})
}

// New registers all gauges with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MappingSize:           mappingGauge(f, "size_bytes", "Total size of the memory mappings in bytes."),
		MappingRss:            mappingGauge(f, "rss_bytes", "Resident Set Size: amount of the mappings currently resident in RAM (bytes)."),
		MappingPss:            mappingGauge(f, "pss_bytes", "Proportional Set Size: mappings' share of RAM, divided by number of processes sharing each page (bytes)."),
		MappingSharedClean:    mappingGauge(f, "shared_clean_bytes", "Amount of clean shared pages in the mappings (bytes)."),
		MappingSharedDirty:    mappingGauge(f, "shared_dirty_bytes", "Amount of dirty shared pages in the mappings (bytes)."),
		MappingPrivateClean:   mappingGauge(f, "private_clean_bytes", "Amount of clean private pages in the mappings (bytes)."),
		MappingPrivateDirty:   mappingGauge(f, "private_dirty_bytes", "Amount of dirty private pages in the mappings (bytes)."),
		MappingAnonHugePages:  mappingGauge(f, "anon_hugepages_bytes", "Amount of memory in the mappings backed by transparent hugepages (bytes)."),
		MappingShmemPmdMapped: mappingGauge(f, "shmem_pmdmapped_bytes", "Amount of shared (shmem/tmpfs) memory in the mappings backed by huge pages (bytes)."),
		MappingFilePmdMapped:  mappingGauge(f, "file_pmdmapped_bytes", "Amount of file backed memory in the mappings mapped with huge pages (bytes)."),
		MappingSharedHugetlb:  mappingGauge(f, "shared_hugetlb_bytes", "Amount of memory in the mappings backed by hugetlbfs pages and shared (bytes)."),
		MappingPrivateHugetlb: mappingGauge(f, "private_hugetlb_bytes", "Amount of memory in the mappings backed by hugetlbfs pages and private (bytes)."),
		MappingSwap:           mappingGauge(f, "swap_bytes", "Amount of would-be-anonymous memory in the mappings that is swapped out (bytes)."),
		MappingSwapPss:        mappingGauge(f, "swap_pss_bytes", "Proportional share of swap space used by the mappings (bytes)."),
		MappingCount:          mappingGauge(f, "mappings", "Number of mappings of the object."),

		ProcessRss:       processGauge(f, "rss_bytes", "Resident Set Size of the process (bytes)."),
		ProcessPss:       processGauge(f, "pss_bytes", "Proportional Set Size of the process (bytes)."),
		ProcessUss:       processGauge(f, "uss_bytes", "Unique Set Size: private clean and private dirty pages of the process (bytes)."),
		ProcessSwap:      processGauge(f, "swap_bytes", "Swapped out anonymous memory of the process (bytes)."),
		ProcessSwapPss:   processGauge(f, "swap_pss_bytes", "Proportional share of swap space used by the process (bytes)."),
		ProcessStatusRss: processGauge(f, "status_vmrss_bytes", "VmRSS of the process as reported by status (bytes)."),

		SystemMemInfo: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "system_meminfo_bytes",
				Help: "System memory counters from meminfo (bytes).",
			},
			[]string{"field"},
		),
		SystemVmalloc:         systemGauge(f, "vmalloc_bytes", "Memory allocated through vmalloc (bytes)."),
		SystemZram:            systemGauge(f, "zram_bytes", "Memory used by all zram devices (bytes)."),
		SystemIonHeaps:        systemGauge(f, "ion_heaps_bytes", "Total size of the ION heaps (bytes)."),
		SystemIonPools:        systemGauge(f, "ion_pools_bytes", "Total size of the ION page pools (bytes)."),
		SystemDmabufHeapPools: systemGauge(f, "dmabuf_heap_pools_bytes", "Total size of the DMA-BUF heap page pools (bytes)."),
		SystemDmabufExported: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "system_memory_dmabuf_exported_bytes",
				Help: "DMA-BUF memory exported by each exporter (bytes).",
			},
			[]string{"exporter"},
		),
		SystemDmabufHeapExport: systemGauge(f, "dmabuf_heap_exported_bytes", "DMA-BUF memory exported by DMA-BUF heaps (bytes)."),
		SystemGpuTotal:         systemGauge(f, "gpu_total_bytes", "GPU memory in use as tracked by the kernel (bytes)."),
	}
}

// SetMapping records one object of a process, in kB.
func (m *Metrics) SetMapping(comm string, g meminfo.NamedUsage) {
	u := g.Usage
	m.MappingSize.WithLabelValues(comm, g.Name).Set(float64(u.Vss * kB))
	m.MappingRss.WithLabelValues(comm, g.Name).Set(float64(u.Rss * kB))
	m.MappingPss.WithLabelValues(comm, g.Name).Set(float64(u.Pss * kB))
	m.MappingSharedClean.WithLabelValues(comm, g.Name).Set(float64(u.SharedClean * kB))
	m.MappingSharedDirty.WithLabelValues(comm, g.Name).Set(float64(u.SharedDirty * kB))
	m.MappingPrivateClean.WithLabelValues(comm, g.Name).Set(float64(u.PrivateClean * kB))
	m.MappingPrivateDirty.WithLabelValues(comm, g.Name).Set(float64(u.PrivateDirty * kB))
	m.MappingAnonHugePages.WithLabelValues(comm, g.Name).Set(float64(u.AnonHugePages * kB))
	m.MappingShmemPmdMapped.WithLabelValues(comm, g.Name).Set(float64(u.ShmemPmdMapped * kB))
	m.MappingFilePmdMapped.WithLabelValues(comm, g.Name).Set(float64(u.FilePmdMapped * kB))
	m.MappingSharedHugetlb.WithLabelValues(comm, g.Name).Set(float64(u.SharedHugetlb * kB))
	m.MappingPrivateHugetlb.WithLabelValues(comm, g.Name).Set(float64(u.PrivateHugetlb * kB))
	m.MappingSwap.WithLabelValues(comm, g.Name).Set(float64(u.Swap * kB))
	m.MappingSwapPss.WithLabelValues(comm, g.Name).Set(float64(u.SwapPss * kB))
	m.MappingCount.WithLabelValues(comm, g.Name).Set(float64(g.Count))
}

// SetProcess records the totals of a process, in kB.
func (m *Metrics) SetProcess(comm string, pid int, u meminfo.MemUsage) {
	p := strconv.Itoa(pid)
	m.ProcessRss.WithLabelValues(comm, p).Set(float64(u.Rss * kB))
	m.ProcessPss.WithLabelValues(comm, p).Set(float64(u.Pss * kB))
	m.ProcessUss.WithLabelValues(comm, p).Set(float64(u.Uss * kB))
	m.ProcessSwap.WithLabelValues(comm, p).Set(float64(u.Swap * kB))
	m.ProcessSwapPss.WithLabelValues(comm, p).Set(float64(u.SwapPss * kB))
}

// SetStatusRss records VmRSS of a process, in kB.
func (m *Metrics) SetStatusRss(comm string, pid int, vmRSS uint64) {
	m.ProcessStatusRss.WithLabelValues(comm, strconv.Itoa(pid)).Set(float64(vmRSS * kB))
}

// SetMemInfo records meminfo values, in kB, under their tag names.
func (m *Metrics) SetMemInfo(tags []string, values []uint64) {
	for i, tag := range tags {
		if i >= len(values) {
			break
		}
		m.SystemMemInfo.WithLabelValues(fieldName(tag)).Set(float64(values[i] * kB))
	}
}

// SetDmabufExported records the per-exporter totals, in kB.
func (m *Metrics) SetDmabufExported(stats meminfo.DmabufExportStats) {
	m.SystemDmabufExported.Reset()
	for exporter, v := range stats.ExporterKb {
		m.SystemDmabufExported.WithLabelValues(exporter).Set(float64(v * kB))
	}
	m.SystemDmabufHeapExport.Set(float64(stats.HeapTotalKb * kB))
}

// ResetProcesses drops the series of every process so that exited
// processes and unmapped objects disappear on the next collection.
func (m *Metrics) ResetProcesses() {
	for _, g := range []*prometheus.GaugeVec{
		m.MappingSize, m.MappingRss, m.MappingPss, m.MappingSharedClean, m.MappingSharedDirty,
		m.MappingPrivateClean, m.MappingPrivateDirty, m.MappingAnonHugePages, m.MappingShmemPmdMapped,
		m.MappingFilePmdMapped, m.MappingSharedHugetlb, m.MappingPrivateHugetlb, m.MappingSwap,
		m.MappingSwapPss, m.MappingCount,
		m.ProcessRss, m.ProcessPss, m.ProcessUss, m.ProcessSwap, m.ProcessSwapPss, m.ProcessStatusRss,
	} {
		g.Reset()
	}
}

// fieldName turns a meminfo tag such as "Active(anon):" into "Active(anon)".
func fieldName(tag string) string {
	if n := len(tag); n > 0 && tag[n-1] == ':' {
		return tag[:n-1]
	}
	return tag
}
