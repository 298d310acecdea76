// Package config loads swapbytes settings from a YAML file. Command line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Nickname is prompted for at startup when empty.
	Nickname string `yaml:"nickname"`

	Network  NetworkConfig  `yaml:"network"`
	Paths    PathsConfig    `yaml:"paths"`
	Transfer TransferConfig `yaml:"transfer"`
	Log      LogConfig      `yaml:"log"`
}

type NetworkConfig struct {
	// ListenAddr is the TCP address peers dial.
	ListenAddr string `yaml:"listen_addr"`

	// GroupAddr is the multicast group and port for presence announcements.
	GroupAddr string `yaml:"group_addr"`

	AnnounceInterval time.Duration `yaml:"announce_interval"`

	// PeerTimeout is how long a silent peer stays listed.
	PeerTimeout time.Duration `yaml:"peer_timeout"`

	TTL int `yaml:"ttl"`

	// OutboundQueue is the per-peer frame queue; a full queue drops frames.
	OutboundQueue int `yaml:"outbound_queue"`
}

type PathsConfig struct {
	// Shared is the only directory files are served from.
	Shared string `yaml:"shared"`

	// Downloads receives completed files.
	Downloads string `yaml:"downloads"`
}

type TransferConfig struct {
	ChunkSize     int  `yaml:"chunk_size"`
	ReorderWindow int  `yaml:"reorder_window"`
	Compress      bool `yaml:"compress"`
}

type LogConfig struct {
	// Path of the rotating log file. Empty means ~/swapbytes/logs.
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
	// Console tees the log to stderr.
	Console bool `yaml:"console"`
}

func Default() *Config {
	root := "swapbytes"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, "swapbytes")
	}

	return &Config{
		Network: NetworkConfig{
			ListenAddr:       ":4270",
			GroupAddr:        "239.255.42.99:42069",
			AnnounceInterval: 2 * time.Second,
			PeerTimeout:      6 * time.Second,
			TTL:              1,
			OutboundQueue:    256,
		},
		Paths: PathsConfig{
			Shared:    filepath.Join(root, "shared"),
			Downloads: filepath.Join(root, "received"),
		},
		Transfer: TransferConfig{
			ChunkSize:     32 * 1024,
			ReorderWindow: 64,
			Compress:      true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	cfg.Paths.Shared = expandHome(cfg.Paths.Shared)
	cfg.Paths.Downloads = expandHome(cfg.Paths.Downloads)
	cfg.Log.Path = expandHome(cfg.Log.Path)

	return cfg, nil
}

// Write saves cfg as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Network.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("network.listen_addr: %w", err))
	}

	group, err := net.ResolveUDPAddr("udp4", c.Network.GroupAddr)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("network.group_addr: %w", err))
	case !group.IP.IsMulticast():
		errs = append(errs, fmt.Errorf("network.group_addr: %s is not multicast", group.IP))
	}

	if c.Network.AnnounceInterval <= 0 {
		errs = append(errs, errors.New("network.announce_interval must be positive"))
	}
	if c.Network.PeerTimeout <= c.Network.AnnounceInterval {
		errs = append(errs, errors.New("network.peer_timeout must exceed the announce interval"))
	}
	if c.Network.OutboundQueue <= 0 {
		errs = append(errs, errors.New("network.outbound_queue must be positive"))
	}

	if c.Paths.Shared == "" {
		errs = append(errs, errors.New("paths.shared is required"))
	}
	if c.Paths.Downloads == "" {
		errs = append(errs, errors.New("paths.downloads is required"))
	}

	if c.Transfer.ChunkSize <= 0 || c.Transfer.ChunkSize > 1024*1024 {
		errs = append(errs, fmt.Errorf("transfer.chunk_size %d out of range", c.Transfer.ChunkSize))
	}
	if c.Transfer.ReorderWindow <= 0 {
		errs = append(errs, errors.New("transfer.reorder_window must be positive"))
	}

	if strings.ContainsAny(c.Nickname, " \t\n") {
		errs = append(errs, errors.New("nickname must be one word"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
