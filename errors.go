package meminfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error kinds. Callers match them with errors.Is; the wrapped cause is kept.
var (
	// ErrSourceUnavailable means a pseudo-file could not be opened or read:
	// the process exited, permission was denied or the file is absent.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedRecord means a mandatory field failed to parse where the
	// whole operation depends on it.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrMissingTag means a required tag was not found in a per-process source.
	// System-wide tags that are absent resolve to zero instead.
	ErrMissingTag = errors.New("missing tag")

	// ErrUnsupportedOnPlatform means the running kernel does not provide the
	// feature at all.
	ErrUnsupportedOnPlatform = errors.New("unsupported on this platform")

	// ErrVmaNotFound means no block in the detailed source matched the VMA's
	// address range.
	ErrVmaNotFound = errors.New("vma not found")

	// ErrStopped is returned when an iteration callback asked to stop.
	ErrStopped = errors.New("iteration stopped")

	// ErrEmptySnapshot is returned by operations that need a populated snapshot.
	ErrEmptySnapshot = errors.New("snapshot has no vmas")
)

func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return f, nil
}

func readSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return data, nil
}

// featureError classifies a failure to reach a kernel feature root: a path
// that does not exist means the kernel lacks the feature.
func featureError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrUnsupportedOnPlatform, path)
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}
