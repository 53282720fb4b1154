package meminfo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestReadVmallocInfo(t *testing.T) {
	data, err := os.ReadFile("testdata/vmallocinfo")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)

	const pageSize = 4096
	tests := []struct {
		name  string
		lines []string
		pages uint64
	}{
		{name: "empty"},
		{name: "ioremap only", lines: lines[:4]},
		{name: "one page", lines: lines[4:5], pages: 1},
		{name: "module annotated", lines: lines[5:6], pages: 6},
		{name: "all", lines: lines, pages: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vmallocinfo")
			writeFile(t, path, strings.Join(tt.lines, "\n"))
			got, err := ReadVmallocInfoPageSize(path, pageSize)
			require.NoError(t, err)
			assert.Equal(t, tt.pages*pageSize, got)
		})
	}

	got, err := ReadVmallocInfo("testdata/vmallocinfo")
	require.NoError(t, err)
	assert.Equal(t, 7*uint64(unix.Getpagesize()), got)
}

func TestVmallocLineBytes(t *testing.T) {
	// Without pages= the size column is used.
	assert.Equal(t, uint64(8192), vmallocLineBytes("0x0-0x0    8192 foo+0x1/0x2 vmalloc", 4096))
	assert.Equal(t, uint64(0), vmallocLineBytes("0x0-0x0    8192 foo+0x1/0x2 vmap", 4096))
	assert.Equal(t, uint64(0), vmallocLineBytes("garbage", 4096))
}

func TestReadVmallocInfoMissing(t *testing.T) {
	_, err := ReadVmallocInfo("testdata/does-not-exist")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
