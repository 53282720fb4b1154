// Command procrank lists the processes of the system ranked by memory usage,
// followed by a summary of system memory.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/procfs"

	"github.com/tsaarni/meminfo"
)

type entry struct {
	pid   int
	name  string
	usage meminfo.MemUsage
}

var sortKeys = map[string]func(meminfo.MemUsage) uint64{
	"pss":  func(u meminfo.MemUsage) uint64 { return u.Pss },
	"uss":  func(u meminfo.MemUsage) uint64 { return u.Uss },
	"rss":  func(u meminfo.MemUsage) uint64 { return u.Rss },
	"swap": func(u meminfo.MemUsage) uint64 { return u.Swap },
}

func processName(p procfs.Proc) string {
	if args, err := p.CmdLine(); err == nil && len(args) > 0 && args[0] != "" {
		return strings.Join(args, " ")
	}
	comm, err := p.Comm()
	if err != nil {
		return "?"
	}
	return comm
}

// measure returns the usage of every process that has user memory. A process
// that exits or cannot be read is left out.
func measure(fs procfs.FS, procPath string, wss bool) ([]entry, error) {
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var entries []entry
	for _, p := range procs {
		var (
			usage meminfo.MemUsage
			err   error
		)
		if wss {
			usage, err = meminfo.NewProcMemInfo(p.PID, meminfo.WithProcRoot(procPath), meminfo.WithWorkingSet()).Wss()
		} else {
			usage, err = meminfo.NewProcMemInfo(p.PID, meminfo.WithProcRoot(procPath)).SmapsOrRollup()
		}
		if err != nil {
			slog.Debug("Skipping process", "pid", p.PID, "error", err)
			continue
		}
		// Kernel threads have no mappings.
		if usage.Rss == 0 && usage.Pss == 0 {
			continue
		}
		entries = append(entries, entry{pid: p.PID, name: processName(p), usage: usage})
	}
	return entries, nil
}

func resetWorkingSets(fs procfs.FS, procPath string) error {
	procs, err := fs.AllProcs()
	if err != nil {
		return fmt.Errorf("listing processes: %w", err)
	}
	for _, p := range procs {
		if err := meminfo.NewProcMemInfo(p.PID, meminfo.WithProcRoot(procPath)).ResetWorkingSet(); err != nil {
			slog.Warn("Failed to reset working set", "pid", p.PID, "error", err)
		}
	}
	return nil
}

func render(w io.Writer, entries []entry, wss bool) {
	cols := []string{"PID", "Rss", "Pss", "Uss", "Swap", "SwapPss", "cmdline"}
	if wss {
		cols = []string{"PID", "WRss", "WPss", "WUss", "Swap", "SwapPss", "cmdline"}
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(cols)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT,
	})

	kb := func(v uint64) string { return strconv.FormatUint(v, 10) + "K" }
	var total meminfo.MemUsage
	for _, e := range entries {
		total = total.Add(e.usage)
		u := e.usage
		table.Append([]string{strconv.Itoa(e.pid), kb(u.Rss), kb(u.Pss), kb(u.Uss), kb(u.Swap), kb(u.SwapPss), e.name})
	}
	table.SetFooter([]string{"", "", kb(total.Pss), kb(total.Uss), kb(total.Swap), kb(total.SwapPss), "TOTAL"})
	table.Render()
}

func summary(w io.Writer, sys *meminfo.SysMemInfo) {
	if err := sys.ReadMemInfo(); err != nil {
		slog.Warn("Failed to read meminfo", "error", err)
		return
	}
	fmt.Fprintf(w, "\nRAM: %dK total, %dK free, %dK buffers, %dK cached, %dK shmem, %dK slab\n",
		sys.MemTotalKb(), sys.MemFreeKb(), sys.MemBuffersKb(), sys.MemCachedKb(),
		sys.MemShmemKb(), sys.MemSlabKb())
	if sys.MemSwapKb() == 0 {
		return
	}
	zram, err := sys.MemZramKb("")
	if err != nil {
		slog.Debug("No zram", "error", err)
	}
	fmt.Fprintf(w, "ZRAM: %dK physical used for %dK in swap (%dK total swap)\n",
		zram, sys.MemSwapKb()-sys.MemSwapFreeKb(), sys.MemSwapKb())
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("procrank", flag.ContinueOnError)
	fs.SetOutput(stderr)
	procPath := fs.String("proc-path", meminfo.DefaultProcRoot, "Path where proc is mounted")
	sysPath := fs.String("sys-path", "/sys", "Path where sysfs is mounted")
	wss := fs.Bool("w", false, "Display the working set instead of full usage")
	reset := fs.Bool("R", false, "Reset the working set of every process and exit")
	sortBy := fs.String("sort", "pss", "Sort key: pss, uss, rss or swap")
	reverse := fs.Bool("r", false, "Reverse the sort order")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	key, ok := sortKeys[*sortBy]
	if !ok {
		fmt.Fprintf(stderr, "Unknown sort key %q\n", *sortBy)
		return 1
	}

	pfs, err := procfs.NewFS(*procPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open %s: %v\n", *procPath, err)
		return 1
	}

	if *reset {
		if err := resetWorkingSets(pfs, *procPath); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	entries, err := measure(pfs, *procPath, *wss)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := key(entries[i].usage), key(entries[j].usage)
		if *reverse {
			return a < b
		}
		return a > b
	})

	render(stdout, entries, *wss)
	summary(stdout, meminfo.NewSysMemInfo(
		meminfo.WithMemInfoPath(filepath.Join(*procPath, "meminfo")),
		meminfo.WithZramRoot(filepath.Join(*sysPath, "block")),
	))
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
