// Command showmap prints the memory usage of every mapping of a process,
// read from its smaps file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/tsaarni/meminfo"
)

type options struct {
	showAddr bool
	quiet    bool
	terse    bool
	verbose  bool
}

// merge reports whether mappings with the same name are coalesced.
func (o options) merge() bool {
	return !o.verbose && !o.showAddr
}

type row struct {
	start, end uint64
	flags      meminfo.Prot
	name       string
	usage      meminfo.MemUsage
	count      int
	bss        bool
}

func collect(vmas []meminfo.Vma, opts options) []row {
	if opts.merge() {
		groups := meminfo.GroupByName(vmas)
		rows := make([]row, len(groups))
		for i, g := range groups {
			rows[i] = row{name: g.Name, usage: g.Usage, count: g.Count, bss: g.IsBss}
		}
		return rows
	}

	named, bss := meminfo.InferNames(vmas)
	rows := make([]row, len(named))
	for i, v := range named {
		rows[i] = row{start: v.Start, end: v.End, flags: v.Flags, name: v.Name, usage: v.Usage, count: 1, bss: bss[i]}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if opts.showAddr {
			if rows[i].start != rows[j].start {
				return rows[i].start < rows[j].start
			}
			return rows[i].end < rows[j].end
		}
		return rows[i].name < rows[j].name
	})
	return rows
}

func usageCells(u meminfo.MemUsage) []string {
	vals := []uint64{
		u.Vss, u.Rss, u.Pss, u.SharedClean, u.SharedDirty, u.PrivateClean, u.PrivateDirty,
		u.Swap, u.SwapPss, u.AnonHugePages, u.ShmemPmdMapped, u.FilePmdMapped,
		u.SharedHugetlb, u.PrivateHugetlb,
	}
	cells := make([]string, len(vals))
	for i, v := range vals {
		cells[i] = strconv.FormatUint(v, 10)
	}
	return cells
}

func render(w io.Writer, rows []row, opts options) {
	var header []string
	if opts.showAddr {
		header = append(header, "start addr", "end addr")
	}
	header = append(header,
		"virtual size", "RSS", "PSS", "shared clean", "shared dirty", "private clean", "private dirty",
		"swap", "swapPSS", "Anon HugePages", "Shmem PmdMapped", "File PmdMapped", "Shared Hugetlb", "Private Hugetlb")
	if opts.merge() {
		header = append(header, "#")
	}
	if opts.verbose {
		header = append(header, "flags")
	}
	header = append(header, "object")

	align := make([]int, len(header))
	for i := range align {
		align[i] = tablewriter.ALIGN_RIGHT
	}
	align[len(align)-1] = tablewriter.ALIGN_LEFT

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnAlignment(align)

	var (
		total meminfo.MemUsage
		count int
	)
	for _, r := range rows {
		total = total.Add(r.usage)
		count += r.count
		if opts.terse && r.usage.PrivateClean == 0 && r.usage.PrivateDirty == 0 {
			continue
		}

		var cells []string
		if opts.showAddr {
			cells = append(cells, fmt.Sprintf("%x", r.start), fmt.Sprintf("%x", r.end))
		}
		cells = append(cells, usageCells(r.usage)...)
		if opts.merge() {
			cells = append(cells, strconv.Itoa(r.count))
		}
		if opts.verbose {
			cells = append(cells, r.flags.String())
		}
		name := r.name
		if r.bss {
			name += " [bss]"
		}
		table.Append(append(cells, name))
	}

	var footer []string
	if opts.showAddr {
		footer = append(footer, "", "")
	}
	footer = append(footer, usageCells(total)...)
	if opts.merge() {
		footer = append(footer, strconv.Itoa(count))
	}
	if opts.verbose {
		footer = append(footer, "")
	}
	table.SetFooter(append(footer, "TOTAL"))
	table.Render()
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("showmap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.BoolVar(&opts.showAddr, "a", false, "addresses (show virtual memory map)")
	fs.BoolVar(&opts.quiet, "q", false, "quiet (don't show error if map could not be read)")
	fs.BoolVar(&opts.terse, "t", false, "terse (show only items with private pages)")
	fs.BoolVar(&opts.verbose, "v", false, "verbose (don't coalesce maps with the same name)")
	file := fs.String("f", "", "read input from `FILE` instead of PID")
	procPath := fs.String("proc-path", meminfo.DefaultProcRoot, "Path where proc is mounted")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: showmap [-aqtv] [-f FILE] PID\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *file
	if path == "" {
		if fs.NArg() != 1 {
			fs.Usage()
			return 1
		}
		pid, err := strconv.Atoi(fs.Arg(0))
		if err != nil || pid <= 0 {
			fmt.Fprintf(stderr, "Invalid PID %q\n", fs.Arg(0))
			return 1
		}
		path = filepath.Join(*procPath, strconv.Itoa(pid), "smaps")
	}

	var vmas []meminfo.Vma
	err := meminfo.ForEachVmaFromFile(path, func(v meminfo.Vma) bool {
		vmas = append(vmas, v)
		return true
	}, true)
	if err != nil {
		if !opts.quiet {
			fmt.Fprintf(stderr, "Failed to parse file %s: %v\n", path, err)
		}
		return 1
	}

	render(stdout, collect(vmas, opts), opts)
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
