package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Finder modes.
const (
	ModeKubernetes = "kubernetes"
	ModeLocal      = "local"
)

type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	ProcPath         string        `yaml:"proc_path"`
	SysPath          string        `yaml:"sys_path"`
	DevPath          string        `yaml:"dev_path"`
	ScrapeInterval   time.Duration `yaml:"scrape_interval"`
	LogLevel         string        `yaml:"log_level"`
	Mode             string        `yaml:"mode"`
	ContainerdSocket string        `yaml:"containerd_socket"`
	Filter           string        `yaml:"filter"`
	PerMapping       bool          `yaml:"per_mapping"`
	System           SystemConfig  `yaml:"system"`
}

// SystemConfig selects the system-wide sources exported next to the
// per-process metrics.
type SystemConfig struct {
	MemInfo bool `yaml:"meminfo"`
	Vmalloc bool `yaml:"vmalloc"`
	Zram    bool `yaml:"zram"`
	Dmabuf  bool `yaml:"dmabuf"`
	Gpu     bool `yaml:"gpu"`
}

func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		ProcPath:         "/proc",
		SysPath:          "/sys",
		DevPath:          "/dev",
		ScrapeInterval:   1 * time.Second,
		LogLevel:         "info",
		Mode:             ModeKubernetes,
		ContainerdSocket: "/run/containerd/containerd.sock",
		Filter:           "default/*/*/*",
		PerMapping:       true,
		System: SystemConfig{
			MemInfo: true,
			Vmalloc: true,
			Zram:    true,
			Dmabuf:  true,
			Gpu:     true,
		},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Mode != ModeKubernetes && c.Mode != ModeLocal {
		return fmt.Errorf("invalid mode %q, expected %s or %s", c.Mode, ModeKubernetes, ModeLocal)
	}
	if c.ScrapeInterval <= 0 {
		return fmt.Errorf("scrape interval must be positive, got %s", c.ScrapeInterval)
	}
	if c.ProcPath == "" {
		return fmt.Errorf("proc path must not be empty")
	}
	return nil
}

// Parse builds the configuration from command line arguments. Values come
// from the defaults, then the file named by -config, then any flag given
// explicitly on the command line.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()
	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "Address to listen on for HTTP requests")
	fs.StringVar(&cfg.ProcPath, "proc-path", cfg.ProcPath, "Path where proc is mounted")
	fs.StringVar(&cfg.SysPath, "sys-path", cfg.SysPath, "Path where sysfs is mounted")
	fs.StringVar(&cfg.DevPath, "dev-path", cfg.DevPath, "Path where devfs is mounted")
	fs.DurationVar(&cfg.ScrapeInterval, "scrape-interval", cfg.ScrapeInterval, "Scrape interval for metrics")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error, none")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Process discovery: kubernetes or local")
	fs.StringVar(&cfg.ContainerdSocket, "containerd-sock", cfg.ContainerdSocket, "Path to containerd socket")
	fs.StringVar(&cfg.Filter, "filter", cfg.Filter, "Process to monitor in the format namespace/pod/container/command. Use * as a wildcard.")
	fs.BoolVar(&cfg.PerMapping, "per-mapping", cfg.PerMapping, "Export per-mapping metrics in addition to process totals")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if configPath != "" {
		explicit := make(map[string]string)
		fs.Visit(func(f *flag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return nil, err
			}
		}
	}
	return cfg, cfg.Validate()
}
