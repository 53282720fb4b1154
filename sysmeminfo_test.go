package meminfo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMemInfo(t *testing.T) {
	s := NewSysMemInfo(WithMemInfoPath("testdata/meminfo"))
	require.NoError(t, s.ReadMemInfo())

	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"MemTotal", s.MemTotalKb(), 3019740},
		{"MemFree", s.MemFreeKb(), 1809728},
		{"Buffers", s.MemBuffersKb(), 54736},
		{"Cached", s.MemCachedKb(), 776052},
		{"Shmem", s.MemShmemKb(), 4020},
		{"Slab", s.MemSlabKb(), 86464},
		{"SReclaimable", s.MemSlabReclaimableKb(), 44432},
		{"SUnreclaim", s.MemSlabUnreclaimableKb(), 42032},
		{"SwapTotal", s.MemSwapKb(), 32768},
		{"SwapFree", s.MemSwapFreeKb(), 4096},
		{"Mapped", s.MemMappedKb(), 62624},
		{"VmallocUsed", s.MemVmallocUsedKb(), 65536},
		{"PageTables", s.MemPageTablesKb(), 2900},
		{"KernelStack", s.MemKernelStackKb(), 4880},
		{"KReclaimable", s.MemKReclaimableKb(), 87324},
		{"Active", s.MemActiveKb(), 445856},
		{"Inactive", s.MemInactiveKb(), 459092},
		{"Unevictable", s.MemUnevictableKb(), 3096},
		{"MemAvailable", s.MemAvailableKb(), 2546560},
		{"Active(anon)", s.MemActiveAnonKb(), 78492},
		{"Inactive(anon)", s.MemInactiveAnonKb(), 2240},
		{"Active(file)", s.MemActiveFileKb(), 367364},
		{"Inactive(file)", s.MemInactiveFileKb(), 456852},
		{"CmaTotal", s.MemCmaTotalKb(), 131072},
		{"CmaFree", s.MemCmaFreeKb(), 130380},
		{"SwapCached", s.MemSwapCachedKb(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got, tt.name)
	}

	vals := s.Values()
	require.Len(t, vals, MemInfoCount)
	assert.Equal(t, uint64(3019740), vals[MemInfoTotal])
	assert.Equal(t, uint64(130380), vals[MemInfoCmaFree])
}

func TestReadMemInfoEmptySource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	writeFile(t, path, "")

	s := NewSysMemInfo()
	require.NoError(t, s.ReadMemInfoFromFile(path))
	assert.Equal(t, make([]uint64, MemInfoCount), s.Values())
}

func TestReadMemInfoMissingSourceKeepsValues(t *testing.T) {
	s := NewSysMemInfo()
	require.NoError(t, s.ReadMemInfoFromFile("testdata/meminfo"))

	err := s.ReadMemInfoFromFile("testdata/does-not-exist")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, uint64(3019740), s.MemTotalKb())
}

func TestReadMemInfoTags(t *testing.T) {
	zramRoot := t.TempDir()
	copyFile(t, "testdata/zram_mmstat/mm_stat", filepath.Join(zramRoot, "zram0", "mm_stat"))

	tags := append([]string{}, DefaultSysMemInfoTags[:10]...)
	tags = append(tags, ZramTag)
	tags = append(tags, DefaultSysMemInfoTags[10:]...)

	s := NewSysMemInfo(WithZramRoot(zramRoot))
	vals, err := s.ReadMemInfoTags(tags, "testdata/meminfo")
	require.NoError(t, err)
	require.Len(t, vals, MemInfoCount+1)
	assert.Equal(t, uint64(3019740), vals[MemInfoTotal])
	assert.Equal(t, uint64(4096), vals[MemInfoSwapFree])
	assert.Equal(t, uint64(30504), vals[10])
	assert.Equal(t, uint64(62624), vals[11])
	assert.Equal(t, uint64(0), vals[MemInfoCount])
}

func TestReadMemInfoTagsCustomSet(t *testing.T) {
	s := NewSysMemInfo(WithZramRoot(t.TempDir()))
	vals, err := s.ReadMemInfoTags([]string{"Hugepagesize:", "NoSuchTag:", "MemFree:", "HugePages_Total:", "MemFree:", ZramTag}, "testdata/meminfo")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2048, 0, 1809728, 0, 1809728, 0}, vals)
}

func TestMemZramKb(t *testing.T) {
	zramRoot := t.TempDir()
	copyFile(t, "testdata/zram_mmstat/mm_stat", filepath.Join(zramRoot, "zram0", "mm_stat"))
	s := NewSysMemInfo(WithZramRoot(zramRoot))

	kb, err := s.MemZramKb("")
	require.NoError(t, err)
	assert.Equal(t, uint64(30504), kb)

	kb, err = s.MemZramKb("testdata/zram_memused")
	require.NoError(t, err)
	assert.Equal(t, uint64(30504), kb)

	_, err = s.MemZramKb("testdata/does-not-exist")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
