// Package config loads gotftpd's YAML configuration file.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of gotftpd's configuration file.
type Config struct {
	ListenAddr         string        `yaml:"listen_addr"`
	Root               string        `yaml:"root"`
	RetransmitInterval time.Duration `yaml:"retransmit_interval"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	Dally              time.Duration `yaml:"dally"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	AllowWrite         bool          `yaml:"allow_write"`
}

// Default returns the configuration spec §6 prescribes when nothing is
// overridden: a 2s retransmit timer and a 15s shutdown grace period.
func Default() Config {
	return Config{
		ListenAddr:         ":69",
		Root:               ".",
		RetransmitInterval: 2 * time.Second,
		ShutdownGrace:      15 * time.Second,
		Dally:              2 * time.Second,
	}
}

// Load reads and parses the YAML file at path, filling in any field the
// file leaves zero from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: parse %q", path)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":69"
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.RetransmitInterval <= 0 {
		cfg.RetransmitInterval = 2 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 15 * time.Second
	}
	if cfg.Dally <= 0 {
		cfg.Dally = 2 * time.Second
	}
	return cfg, nil
}
