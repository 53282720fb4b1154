package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9100"
proc_path: /host/proc
scrape_interval: 15s
mode: local
filter: "*/*/*/java"
per_mapping: false
system:
  gpu: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "/host/proc", cfg.ProcPath)
	assert.Equal(t, 15*time.Second, cfg.ScrapeInterval)
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, "*/*/*/java", cfg.Filter)
	assert.False(t, cfg.PerMapping)
	assert.False(t, cfg.System.Gpu)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "/sys", cfg.SysPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.System.MemInfo)
	assert.True(t, cfg.System.Zram)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "mode: [local"},
		{"bad mode", "mode: docker"},
		{"bad interval", "scrape_interval: 0s"},
		{"empty proc", "proc_path: \"\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9100"
mode: local
log_level: warn
`)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-config", path, "-log-level", "debug", "-scrape-interval", "5s"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ScrapeInterval)
}

func TestParseDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
