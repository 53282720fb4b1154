package finder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/procfs"
)

// ProcFinder selects processes of the local host by command name. The
// Kubernetes fields of the filter are ignored.
type ProcFinder struct {
	fs procfs.FS
}

func NewProcFinder(procPath string) (*ProcFinder, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procPath, err)
	}
	return &ProcFinder{fs: fs}, nil
}

func (p *ProcFinder) FindPIDs(ctx context.Context, filter Filter) ([]int, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	var pids []int
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comm, err := proc.Comm()
		if err != nil {
			// Exited since the listing.
			continue
		}
		if filter.MatchCommand(comm) {
			pids = append(pids, proc.PID)
		}
	}
	slog.Debug("Matching local processes", "num", len(pids), "command", filter.Command)
	if len(pids) == 0 {
		return nil, fmt.Errorf("no processes found matching command %s", filter.Command)
	}
	return pids, nil
}

// Comm returns the command name of pid.
func Comm(fs procfs.FS, pid int) (string, error) {
	proc, err := fs.Proc(pid)
	if err != nil {
		return "", err
	}
	return proc.Comm()
}
