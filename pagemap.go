package meminfo

import (
	"encoding/binary"
	"fmt"
)

// Pagemap entry bits, see Documentation/admin-guide/mm/pagemap.rst.
const (
	pagemapPresent     = 1 << 63
	pagemapSwapped     = 1 << 62
	pagemapFileShared  = 1 << 61
	pagemapSwapOffMask = (1 << 50) - 1
	pagemapSwapOffBit  = 5
	pagemapEntrySize   = 8
)

// PagePresent reports whether a pagemap entry describes a page in RAM.
func PagePresent(entry uint64) bool {
	return entry&pagemapPresent != 0
}

// PageSwapped reports whether a pagemap entry describes a swapped out page.
func PageSwapped(entry uint64) bool {
	return entry&pagemapSwapped != 0
}

// PageFileOrSharedAnon reports whether the page is file backed or shared
// anonymous memory.
func PageFileOrSharedAnon(entry uint64) bool {
	return entry&pagemapFileShared != 0
}

// PageSwapOffset returns the swap offset of a swapped out page.
func PageSwapOffset(entry uint64) uint64 {
	return (entry >> pagemapSwapOffBit) & pagemapSwapOffMask
}

// PageMap returns one raw pagemap entry per page of vma, in address order.
func (p *ProcMemInfo) PageMap(vma Vma) ([]uint64, error) {
	nrPages := vma.Pages(p.pageSize)
	if nrPages == 0 {
		return nil, nil
	}

	f, err := openSource(p.path("pagemap"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, nrPages*pagemapEntrySize)
	off := int64(vma.Start / p.pageSize * pagemapEntrySize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading pagemap of %x-%x: %w", vma.Start, vma.End, err)
	}

	entries := make([]uint64, nrPages)
	for i := range entries {
		entries[i] = binary.NativeEndian.Uint64(buf[i*pagemapEntrySize:])
	}
	return entries, nil
}

// PagesPresent returns, for every page of vma in address order, whether the
// page is resident. Unmapped and swapped out pages are not present.
func (p *ProcMemInfo) PagesPresent(vma Vma) ([]bool, error) {
	entries, err := p.PageMap(vma)
	if err != nil {
		return nil, err
	}
	present := make([]bool, len(entries))
	for i, e := range entries {
		present[i] = PagePresent(e)
	}
	return present, nil
}

// SwapOffsets returns the swap offsets of every swapped out page of the
// process, in address order. VMAs are enumerated from smaps and only those
// reporting swap are scanned. The held sequence is left untouched. A working
// set snapshot has no swap offsets.
func (p *ProcMemInfo) SwapOffsets() ([]uint64, error) {
	if p.getWss {
		return nil, nil
	}
	vmas, err := p.collect(p.path("smaps"), true)
	if err != nil {
		return nil, err
	}
	var offsets []uint64
	for _, v := range vmas {
		if v.Usage.Swap == 0 {
			continue
		}
		entries, err := p.PageMap(v)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if PageSwapped(e) {
				offsets = append(offsets, PageSwapOffset(e))
			}
		}
	}
	return offsets, nil
}
