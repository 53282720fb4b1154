package meminfo

// MemUsage holds memory counters in kilobytes. All fields default to zero;
// whether zero means "not measured" or "measured as zero" depends on which
// call populated the value.
type MemUsage struct {
	Vss          uint64
	Rss          uint64
	Pss          uint64
	Uss          uint64
	Swap         uint64
	SwapPss      uint64
	PrivateClean uint64
	PrivateDirty uint64
	SharedClean  uint64
	SharedDirty  uint64

	AnonHugePages  uint64
	ShmemPmdMapped uint64
	FilePmdMapped  uint64
	SharedHugetlb  uint64
	PrivateHugetlb uint64
}

// Add returns the pairwise sum of u and o.
func (u MemUsage) Add(o MemUsage) MemUsage {
	return MemUsage{
		Vss:            u.Vss + o.Vss,
		Rss:            u.Rss + o.Rss,
		Pss:            u.Pss + o.Pss,
		Uss:            u.Uss + o.Uss,
		Swap:           u.Swap + o.Swap,
		SwapPss:        u.SwapPss + o.SwapPss,
		PrivateClean:   u.PrivateClean + o.PrivateClean,
		PrivateDirty:   u.PrivateDirty + o.PrivateDirty,
		SharedClean:    u.SharedClean + o.SharedClean,
		SharedDirty:    u.SharedDirty + o.SharedDirty,
		AnonHugePages:  u.AnonHugePages + o.AnonHugePages,
		ShmemPmdMapped: u.ShmemPmdMapped + o.ShmemPmdMapped,
		FilePmdMapped:  u.FilePmdMapped + o.FilePmdMapped,
		SharedHugetlb:  u.SharedHugetlb + o.SharedHugetlb,
		PrivateHugetlb: u.PrivateHugetlb + o.PrivateHugetlb,
	}
}

// IsZero reports whether every counter is zero.
func (u MemUsage) IsZero() bool {
	return u == MemUsage{}
}

// finish establishes Uss once a block has been read completely.
func (u *MemUsage) finish() {
	u.Uss = u.PrivateClean + u.PrivateDirty
}

// Prot is the protection bit set of a mapping. Values match PROT_READ,
// PROT_WRITE and PROT_EXEC.
type Prot uint32

const (
	ProtRead  Prot = 0x1
	ProtWrite Prot = 0x2
	ProtExec  Prot = 0x4
)

// String renders the bit set the way maps prints the first three perms.
func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Vma is one virtual memory area of a process.
type Vma struct {
	Start    uint64
	End      uint64
	Offset   uint64
	Flags    Prot
	IsShared bool
	Name     string
	Inode    uint64

	Usage MemUsage

	// HasSwapPss is set when the smaps block reported SwapPss, even as zero.
	HasSwapPss bool
}

// Pages returns the number of pages of size pageSize spanned by the VMA.
func (v Vma) Pages(pageSize uint64) uint64 {
	if pageSize == 0 || v.End <= v.Start {
		return 0
	}
	return (v.End - v.Start) / pageSize
}

type addrRange struct {
	start, end uint64
}

func (v Vma) addrRange() addrRange {
	return addrRange{start: v.Start, end: v.End}
}

// MergeUsage returns a copy of bare in which every VMA whose address range
// matches a VMA in detailed carries that VMA's usage. VMAs without a match
// keep zero usage. Neither input is modified.
func MergeUsage(bare, detailed []Vma) []Vma {
	byRange := make(map[addrRange]Vma, len(detailed))
	for _, d := range detailed {
		byRange[d.addrRange()] = d
	}
	merged := make([]Vma, len(bare))
	for i, v := range bare {
		d := byRange[v.addrRange()]
		v.Usage, v.HasSwapPss = d.Usage, d.HasSwapPss
		merged[i] = v
	}
	return merged
}

// TotalUsage returns the pairwise sum of all VMA usages.
func TotalUsage(vmas []Vma) MemUsage {
	var total MemUsage
	for _, v := range vmas {
		total = total.Add(v.Usage)
	}
	return total
}
