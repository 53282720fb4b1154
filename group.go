package meminfo

import (
	"sort"
	"strings"
)

// NamedUsage is the usage of all VMAs sharing one object name.
type NamedUsage struct {
	Name  string
	Usage MemUsage
	Count int
	IsBss bool
}

func isLibrary(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "/") && strings.HasSuffix(name, ".so")
}

// InferNames returns a copy of vmas in which anonymous mappings are named.
// An unnamed mapping that starts where a library mapping ends is that
// library's bss; any other unnamed mapping becomes [anon]. The second result
// flags the bss mappings by index.
func InferNames(vmas []Vma) ([]Vma, []bool) {
	named := make([]Vma, len(vmas))
	bss := make([]bool, len(vmas))
	var prev *Vma
	for i, v := range vmas {
		if v.Name == "" {
			if prev != nil && isLibrary(prev.Name) && prev.End == v.Start {
				v.Name = prev.Name
				bss[i] = true
			} else {
				v.Name = "[anon]"
			}
		}
		named[i] = v
		prev = &vmas[i]
	}
	return named, bss
}

// GroupByName coalesces VMAs by object name after InferNames, summing their
// usage. A group is bss only if all of its mappings are. Results are sorted
// by name.
func GroupByName(vmas []Vma) []NamedUsage {
	named, bss := InferNames(vmas)
	byName := make(map[string]*NamedUsage)
	for i, v := range named {
		g, ok := byName[v.Name]
		if !ok {
			byName[v.Name] = &NamedUsage{Name: v.Name, Usage: v.Usage, Count: 1, IsBss: bss[i]}
			continue
		}
		g.Usage = g.Usage.Add(v.Usage)
		g.Count++
		g.IsBss = g.IsBss && bss[i]
	}

	groups := make([]NamedUsage, 0, len(byName))
	for _, g := range byName {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Name < groups[j].Name
	})
	return groups
}
