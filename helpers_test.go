package meminfo

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPid = 1337

// smapsShort is the content of testdata/smaps_short.
var smapsShort = []Vma{
	{
		Start: 0x54c00000, End: 0x56c00000, Flags: ProtRead | ProtExec, HasSwapPss: true,
		Name:  "[anon:dalvik-zygote-jit-code-cache]",
		Usage: MemUsage{Vss: 32768, Rss: 2048, Pss: 113, SharedDirty: 2048},
	},
	{
		Start: 0x701ea000, End: 0x70cdb000, Flags: ProtRead | ProtWrite, Inode: 3165, HasSwapPss: true,
		Name:  "/system/framework/x86_64/boot-framework.art",
		Usage: MemUsage{Vss: 11204, Rss: 11188, Pss: 2200, Uss: 1660, SharedClean: 80, SharedDirty: 9448, PrivateDirty: 1660},
	},
	{
		Start: 0x70074dd8d000, End: 0x70074ee0d000, Flags: ProtRead | ProtWrite, HasSwapPss: true,
		Name:  "[anon:libc_malloc]",
		Usage: MemUsage{Vss: 16896, Rss: 15272, Pss: 15272, Uss: 15272, PrivateDirty: 15272},
	},
	{
		Start: 0x700755a2d000, End: 0x700755a6e000, Offset: 0x16000, Flags: ProtRead | ProtExec, Inode: 1947, HasSwapPss: true,
		Name:  "/system/priv-app/SettingsProvider/oat/x86_64/SettingsProvider.odex",
		Usage: MemUsage{Vss: 260, Rss: 260, Pss: 260, Uss: 260, PrivateClean: 260},
	},
	{
		Start: 0x7007f85b0000, End: 0x7007f8b9b000, Offset: 0x1ee000, Flags: ProtRead | ProtExec, Inode: 1537, HasSwapPss: true,
		Name:  "/system/lib64/libhwui.so",
		Usage: MemUsage{Vss: 6060, Rss: 4132, Pss: 1274, SharedClean: 4132},
	},
	{
		Start: 0xffffffffff600000, End: 0xffffffffff601000, Flags: ProtRead | ProtExec, HasSwapPss: true,
		Name:  "[vsyscall]",
		Usage: MemUsage{Vss: 4},
	},
}

// snapshotVmas is smapsShort as a snapshot surfaces it on this platform.
func snapshotVmas() []Vma {
	if runtime.GOARCH == "amd64" {
		return smapsShort[:5]
	}
	return smapsShort
}

func withoutUsage(vmas []Vma) []Vma {
	bare := make([]Vma, len(vmas))
	for i, v := range vmas {
		v.Usage, v.HasSwapPss = MemUsage{}, false
		bare[i] = v
	}
	return bare
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newProcRoot builds a proc tree holding testPid, with each file copied from
// the named fixture under testdata.
func newProcRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, fixture := range files {
		copyFile(t, filepath.Join("testdata", fixture), filepath.Join(root, strconv.Itoa(testPid), name))
	}
	return root
}
