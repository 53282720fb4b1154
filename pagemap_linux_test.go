//go:build linux

package meminfo

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPagesPresentLive(t *testing.T) {
	pageSize := uintptr(unix.Getpagesize())
	const nrPages = 20

	// Map with a guard page on each side so the VMA is not merged with a
	// neighbour.
	mem, err := unix.MmapPtr(-1, 0, nil, (nrPages+2)*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	require.NoError(t, err)
	require.NoError(t, unix.MunmapPtr(mem, pageSize))
	require.NoError(t, unix.MunmapPtr(unsafe.Add(mem, (nrPages+1)*pageSize), pageSize))
	base := unsafe.Add(mem, pageSize)
	t.Cleanup(func() { _ = unix.MunmapPtr(base, nrPages*pageSize) })

	p := NewProcMemInfo(os.Getpid())
	vmas, err := p.MapsWithoutUsageStats()
	require.NoError(t, err)

	addr := uint64(uintptr(base))
	var vma Vma
	for _, v := range vmas {
		if v.Start == addr {
			vma = v
			break
		}
	}
	require.Equal(t, addr, vma.Start, "mapping not found")
	require.Equal(t, uint64(nrPages), vma.Pages(p.PageSize()))

	present, err := p.PagesPresent(vma)
	if err != nil {
		t.Skipf("pagemap not readable: %v", err)
	}
	require.Len(t, present, nrPages)
	for i, ok := range present {
		assert.False(t, ok, "page %d", i)
	}

	pages := unsafe.Slice((*byte)(base), nrPages*pageSize)
	touched := map[int]bool{0: true, 5: true, 11: true}
	for i := range touched {
		pages[uintptr(i)*pageSize] = 1
	}

	present, err = p.PagesPresent(vma)
	require.NoError(t, err)
	for i, ok := range present {
		assert.Equal(t, touched[i], ok, "page %d", i)
	}
}
