package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsaarni/meminfo"
)

func TestSetMapping(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetMapping("java", meminfo.NamedUsage{
		Name:  "/system/lib64/libhwui.so",
		Count: 2,
		Usage: meminfo.MemUsage{Vss: 6060, Rss: 4132, Pss: 1274, SharedClean: 4132},
	})

	assert.Equal(t, float64(6060*1024), testutil.ToFloat64(m.MappingSize.WithLabelValues("java", "/system/lib64/libhwui.so")))
	assert.Equal(t, float64(1274*1024), testutil.ToFloat64(m.MappingPss.WithLabelValues("java", "/system/lib64/libhwui.so")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.MappingCount.WithLabelValues("java", "/system/lib64/libhwui.so")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.MappingRss))
}

func TestSetProcessAndReset(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetProcess("java", 42, meminfo.MemUsage{Rss: 32900, Pss: 19119, Uss: 17192})
	m.SetStatusRss("java", 42, 730764)

	expected := `
# HELP process_memory_pss_bytes Proportional Set Size of the process (bytes).
# TYPE process_memory_pss_bytes gauge
process_memory_pss_bytes{comm="java",pid="42"} 1.9577856e+07
`
	require.NoError(t, testutil.CollectAndCompare(m.ProcessPss, strings.NewReader(expected)))
	assert.Equal(t, float64(17192*1024), testutil.ToFloat64(m.ProcessUss.WithLabelValues("java", "42")))
	assert.Equal(t, float64(730764*1024), testutil.ToFloat64(m.ProcessStatusRss.WithLabelValues("java", "42")))

	m.ResetProcesses()
	assert.Equal(t, 0, testutil.CollectAndCount(m.ProcessPss))
	assert.Equal(t, 0, testutil.CollectAndCount(m.ProcessStatusRss))
}

func TestSetMemInfo(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetMemInfo([]string{"MemTotal:", "Active(anon):", "Zram:"}, []uint64{3019740, 78492, 30504})

	assert.Equal(t, float64(3019740*1024), testutil.ToFloat64(m.SystemMemInfo.WithLabelValues("MemTotal")))
	assert.Equal(t, float64(78492*1024), testutil.ToFloat64(m.SystemMemInfo.WithLabelValues("Active(anon)")))
	assert.Equal(t, float64(30504*1024), testutil.ToFloat64(m.SystemMemInfo.WithLabelValues("Zram")))
}

func TestSetDmabufExported(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetDmabufExported(meminfo.DmabufExportStats{
		ExporterKb:  map[string]uint64{"system": 20, "other": 20},
		HeapTotalKb: 20,
	})
	assert.Equal(t, 2, testutil.CollectAndCount(m.SystemDmabufExported))
	assert.Equal(t, float64(20*1024), testutil.ToFloat64(m.SystemDmabufHeapExport))

	m.SetDmabufExported(meminfo.DmabufExportStats{ExporterKb: map[string]uint64{"system": 4}})
	assert.Equal(t, 1, testutil.CollectAndCount(m.SystemDmabufExported))
	assert.Equal(t, float64(4*1024), testutil.ToFloat64(m.SystemDmabufExported.WithLabelValues("system")))
}
