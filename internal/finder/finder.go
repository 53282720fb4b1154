package finder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Wildcard matches any value in a Filter field.
const Wildcard = "*"

// Filter selects processes by Kubernetes namespace, pod, container and the
// process command name. Command accepts shell patterns.
type Filter struct {
	Namespace string
	Pod       string
	Container string
	Command   string
}

// ParseFilter parses namespace/pod/container/command.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, "/", 4)
	if len(parts) != 4 {
		return Filter{}, fmt.Errorf("invalid process filter %q, expected format: namespace/pod/container/command", s)
	}
	for _, p := range parts {
		if p == "" {
			return Filter{}, fmt.Errorf("invalid process filter %q, empty field", s)
		}
	}
	if _, err := filepath.Match(parts[3], ""); err != nil {
		return Filter{}, fmt.Errorf("invalid command pattern %q: %w", parts[3], err)
	}
	return Filter{Namespace: parts[0], Pod: parts[1], Container: parts[2], Command: parts[3]}, nil
}

func (f Filter) String() string {
	return f.Namespace + "/" + f.Pod + "/" + f.Container + "/" + f.Command
}

// MatchCommand reports whether comm satisfies the command pattern.
func (f Filter) MatchCommand(comm string) bool {
	if f.Command == Wildcard {
		return true
	}
	ok, err := filepath.Match(f.Command, comm)
	return err == nil && ok
}

// Finder resolves a filter to host PIDs.
type Finder interface {
	FindPIDs(ctx context.Context, filter Filter) ([]int, error)
}
