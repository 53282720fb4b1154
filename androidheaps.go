package meminfo

import (
	"path/filepath"
	"strconv"
	"strings"
)

// AndroidHeap is a bucket of the Android runtime memory breakdown.
type AndroidHeap int

const (
	HeapUnknown AndroidHeap = iota
	HeapDalvik
	HeapNative

	HeapDalvikOther
	HeapStack
	HeapCursor
	HeapAshmem
	HeapGLDev
	HeapUnknownDev
	HeapSo
	HeapJar
	HeapApk
	HeapTtf
	HeapDex
	HeapOat
	HeapArt
	HeapUnknownMap
	HeapGraphics
	HeapGL
	HeapOtherMemtrack

	// Dalvik heap sub-sections.
	HeapDalvikNormal
	HeapDalvikLarge
	HeapDalvikZygote
	HeapDalvikNonMoving

	// Dalvik other sub-sections.
	HeapDalvikOtherLinearAlloc
	HeapDalvikOtherAccounting
	HeapDalvikOtherZygoteCodeCache
	HeapDalvikOtherAppCodeCache
	HeapDalvikOtherCompilerMetadata
	HeapDalvikOtherIndirectReferenceTable

	// Dex sub-sections.
	HeapDexBootVdex
	HeapDexAppDex
	HeapDexAppVdex

	// Art sub-sections.
	HeapArtApp
	HeapArtBoot

	NumHeaps

	// NumExclusiveHeaps counts the heaps every VMA is assigned exactly one of.
	NumExclusiveHeaps = HeapOtherMemtrack + 1
	// NumCoreHeaps counts the heaps reported as the top level summary.
	NumCoreHeaps = HeapNative + 1
)

var heapNames = [NumHeaps]string{
	"Unknown", "Dalvik", "Native",
	"Dalvik Other", "Stack", "Cursor", "Ashmem", "Gfx dev", "Other dev", ".so mmap", ".jar mmap",
	".apk mmap", ".ttf mmap", ".dex mmap", ".oat mmap", ".art mmap", "Other mmap", "EGL mtrack",
	"GL mtrack", "Other mtrack",
	".Heap", ".LOS", ".Zygote", ".NonMoving",
	".LinearAlloc", ".GC", ".ZygoteJIT", ".AppJIT", ".CompilerMetadata", ".IndirectRef",
	".Boot vdex", ".App dex", ".App vdex",
	".App art", ".Boot art",
}

func (h AndroidHeap) String() string {
	if h < 0 || h >= NumHeaps {
		return "AndroidHeap(" + strconv.Itoa(int(h)) + ")"
	}
	return heapNames[h]
}

// AndroidHeapStats accumulates the usage of the VMAs assigned to one heap.
// Values are in kB.
type AndroidHeapStats struct {
	Pss           uint64
	SwappablePss  uint64
	Rss           uint64
	PrivateDirty  uint64
	SharedDirty   uint64
	PrivateClean  uint64
	SharedClean   uint64
	SwappedOut    uint64
	SwappedOutPss uint64
}

func (s *AndroidHeapStats) add(u MemUsage, swappablePss uint64) {
	s.Pss += u.Pss
	s.SwappablePss += swappablePss
	s.Rss += u.Rss
	s.PrivateDirty += u.PrivateDirty
	s.SharedDirty += u.SharedDirty
	s.PrivateClean += u.PrivateClean
	s.SharedClean += u.SharedClean
	s.SwappedOut += u.Swap
	s.SwappedOutPss += u.SwapPss
}

// AndroidHeapStatsSet is indexed by AndroidHeap.
type AndroidHeapStatsSet [NumHeaps]AndroidHeapStats

// Core sums the core heaps.
func (set *AndroidHeapStatsSet) Core() AndroidHeapStats {
	var total AndroidHeapStats
	for h := AndroidHeap(0); h < NumCoreHeaps; h++ {
		s := set[h]
		total.Pss += s.Pss
		total.SwappablePss += s.SwappablePss
		total.Rss += s.Rss
		total.PrivateDirty += s.PrivateDirty
		total.SharedDirty += s.SharedDirty
		total.PrivateClean += s.PrivateClean
		total.SharedClean += s.SharedClean
		total.SwappedOut += s.SwappedOut
		total.SwappedOutPss += s.SwappedOutPss
	}
	return total
}

// heapClass is the outcome of classifying one VMA name.
type heapClass struct {
	heap      AndroidHeap
	subHeap   AndroidHeap
	swappable bool
}

func isBootImage(name string) bool {
	return strings.Contains(name, "@boot") || strings.Contains(name, "/boot") ||
		strings.Contains(name, "/apex")
}

// classifyVmaName buckets a mapping by name. It does not handle the unnamed
// bss case, which depends on the previous VMA.
func classifyVmaName(name string) heapClass {
	name = strings.TrimSuffix(name, " (deleted)")
	c := heapClass{heap: HeapUnknown, subHeap: HeapUnknown}

	switch {
	case strings.HasPrefix(name, "[heap]"),
		strings.HasPrefix(name, "[anon:libc_malloc]"),
		strings.HasPrefix(name, "[anon:scudo:"),
		strings.HasPrefix(name, "[anon:GWP-ASan"):
		c.heap = HeapNative
	case strings.HasPrefix(name, "[stack"),
		strings.HasPrefix(name, "[anon:stack_and_tls:"):
		c.heap = HeapStack
	case strings.HasSuffix(name, ".so"):
		c.heap, c.swappable = HeapSo, true
	case strings.HasSuffix(name, ".jar"):
		c.heap, c.swappable = HeapJar, true
	case strings.HasSuffix(name, ".apk"):
		c.heap, c.swappable = HeapApk, true
	case strings.HasSuffix(name, ".ttf"):
		c.heap, c.swappable = HeapTtf, true
	case strings.HasSuffix(name, ".odex"),
		len(name) > 4 && strings.Contains(name, ".dex"):
		c.heap, c.subHeap, c.swappable = HeapDex, HeapDexAppDex, true
	case strings.HasSuffix(name, ".vdex"):
		c.heap, c.swappable = HeapDex, true
		c.subHeap = HeapDexAppVdex
		if isBootImage(name) {
			c.subHeap = HeapDexBootVdex
		}
	case strings.HasSuffix(name, ".oat"):
		c.heap, c.swappable = HeapOat, true
	case strings.HasSuffix(name, ".art"), strings.HasSuffix(name, ".art]"):
		c.heap, c.swappable = HeapArt, true
		c.subHeap = HeapArtApp
		if isBootImage(name) {
			c.subHeap = HeapArtBoot
		}
	case strings.HasPrefix(name, "/dev/"):
		c.heap = HeapUnknownDev
		switch {
		case strings.HasPrefix(name, "/dev/kgsl-3d0"):
			c.heap = HeapGLDev
		case strings.HasPrefix(name, "/dev/ashmem/CursorWindow"):
			c.heap = HeapCursor
		case strings.HasPrefix(name, "/dev/ashmem/jit-zygote-cache"):
			c.heap, c.subHeap = HeapDalvikOther, HeapDalvikOtherZygoteCodeCache
		case strings.HasPrefix(name, "/dev/ashmem"):
			c.heap = HeapAshmem
		}
	case strings.HasPrefix(name, "/memfd:jit-cache"):
		c.heap, c.subHeap = HeapDalvikOther, HeapDalvikOtherAppCodeCache
	case strings.HasPrefix(name, "/memfd:jit-zygote-cache"):
		c.heap, c.subHeap = HeapDalvikOther, HeapDalvikOtherZygoteCodeCache
	case strings.HasPrefix(name, "[anon:dalvik-"):
		c.heap, c.subHeap = classifyDalvik(name)
	case strings.HasPrefix(name, "[anon:"):
		c.heap = HeapUnknown
	case name != "":
		c.heap = HeapUnknownMap
	}
	return c
}

func classifyDalvik(name string) (AndroidHeap, AndroidHeap) {
	switch {
	case strings.HasPrefix(name, "[anon:dalvik-LinearAlloc"):
		return HeapDalvikOther, HeapDalvikOtherLinearAlloc
	case strings.HasPrefix(name, "[anon:dalvik-alloc space"),
		strings.HasPrefix(name, "[anon:dalvik-main space"):
		return HeapDalvik, HeapDalvikNormal
	case strings.HasPrefix(name, "[anon:dalvik-large object space"),
		strings.HasPrefix(name, "[anon:dalvik-free list large object space"):
		return HeapDalvik, HeapDalvikLarge
	case strings.HasPrefix(name, "[anon:dalvik-non moving space"):
		return HeapDalvik, HeapDalvikNonMoving
	case strings.HasPrefix(name, "[anon:dalvik-zygote space"):
		return HeapDalvik, HeapDalvikZygote
	case strings.HasPrefix(name, "[anon:dalvik-indirect ref"):
		return HeapDalvikOther, HeapDalvikOtherIndirectReferenceTable
	case strings.HasPrefix(name, "[anon:dalvik-jit-code-cache"),
		strings.HasPrefix(name, "[anon:dalvik-data-code-cache"):
		return HeapDalvikOther, HeapDalvikOtherAppCodeCache
	case strings.HasPrefix(name, "[anon:dalvik-CompilerMetadata"):
		return HeapDalvikOther, HeapDalvikOtherCompilerMetadata
	default:
		return HeapDalvikOther, HeapDalvikOtherAccounting
	}
}

// hasSubHeap reports whether usage of h is also broken down by sub-heap.
func hasSubHeap(h AndroidHeap) bool {
	return h == HeapDalvik || h == HeapDalvikOther || h == HeapDex || h == HeapArt
}

// swappablePss estimates the part of the PSS of a file backed mapping that
// could be reclaimed: its private clean pages plus its proportional share of
// the shared clean pages.
func swappablePss(u MemUsage) uint64 {
	if u.Pss == 0 {
		return 0
	}
	var proportion float64
	if shared := u.SharedClean + u.SharedDirty; shared > 0 {
		proportion = (float64(u.Pss) - float64(u.Uss)) / float64(shared)
	}
	// Pss below Uss leaves no shared share to reclaim.
	proportion = max(proportion, 0)
	return uint64(proportion*float64(u.SharedClean)) + u.PrivateClean
}

// AndroidHeapClassifier assigns VMAs to Android heaps in kernel order. The
// zero value is ready to use.
type AndroidHeapClassifier struct {
	stats        AndroidHeapStatsSet
	foundSwapPss bool
	prevEnd      uint64
	prevHeap     AndroidHeap
}

// Add classifies one VMA and accumulates its usage.
func (c *AndroidHeapClassifier) Add(v Vma) {
	class := classifyVmaName(v.Name)
	// An unnamed mapping right after a shared library is its bss.
	if v.Name == "" && v.Start == c.prevEnd && c.prevHeap == HeapSo {
		class.heap = HeapSo
	}
	c.prevEnd, c.prevHeap = v.End, class.heap

	if v.HasSwapPss {
		c.foundSwapPss = true
	}
	var swappable uint64
	if class.swappable {
		swappable = swappablePss(v.Usage)
	}
	c.stats[class.heap].add(v.Usage, swappable)
	if hasSubHeap(class.heap) && class.subHeap != HeapUnknown {
		c.stats[class.subHeap].add(v.Usage, swappable)
	}
}

// Stats returns the accumulated heap stats.
func (c *AndroidHeapClassifier) Stats() AndroidHeapStatsSet {
	return c.stats
}

// FoundSwapPss reports whether any VMA reported SwapPss, zero or not. Kernels
// that do not report SwapPss leave it false, which differs from a zero swap
// total.
func (c *AndroidHeapClassifier) FoundSwapPss() bool {
	return c.foundSwapPss
}

// ExtractAndroidHeapStatsFromFile classifies every VMA of an smaps file.
func ExtractAndroidHeapStatsFromFile(path string) (AndroidHeapStatsSet, bool, error) {
	var c AndroidHeapClassifier
	err := ForEachVmaFromFile(path, func(v Vma) bool {
		c.Add(v)
		return true
	}, true)
	if err != nil {
		return AndroidHeapStatsSet{}, false, err
	}
	return c.Stats(), c.FoundSwapPss(), nil
}

// ExtractAndroidHeapStats classifies every VMA of a live process.
func ExtractAndroidHeapStats(pid int) (AndroidHeapStatsSet, bool, error) {
	return ExtractAndroidHeapStatsFromFile(filepath.Join(DefaultProcRoot, strconv.Itoa(pid), "smaps"))
}
