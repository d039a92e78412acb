// Package config loads daemon configuration through viper, layering
// environment-variable overrides onto XDG-aware defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the daemon. The daemon takes no CLI
// arguments, so every field here is either computed from the
// environment (XDG paths, euid) or a fixed operational constant a
// deployment can still override via environment variables.
type Config struct {
	SocketPath string `mapstructure:"socket_path"`
	DBPath     string `mapstructure:"db_path"`

	HandlerPoolSize int `mapstructure:"handler_pool_size"`

	ReadDeadline        time.Duration `mapstructure:"read_deadline"`
	HandlerDeadline     time.Duration `mapstructure:"handler_deadline"`
	LongHandlerDeadline time.Duration `mapstructure:"long_handler_deadline"`

	IntegrityInterval     time.Duration `mapstructure:"integrity_interval"`
	IntegrityBatch        int           `mapstructure:"integrity_batch"`
	NetworkRescanInterval time.Duration `mapstructure:"network_rescan_interval"`
}

// Load reads defaults, then NIXNAV_-prefixed environment overrides,
// into a Config. There is no on-disk config file; the daemon never
// reads shell or desktop-environment configuration.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("socket_path", defaultSocketPath())
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("handler_pool_size", 64)
	v.SetDefault("read_deadline", 5*time.Second)
	v.SetDefault("handler_deadline", 10*time.Second)
	v.SetDefault("long_handler_deadline", 60*time.Second)
	v.SetDefault("integrity_interval", 60*time.Second)
	v.SetDefault("integrity_batch", 5000)
	v.SetDefault("network_rescan_interval", 300*time.Second)

	v.SetEnvPrefix("nixnav")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultSocketPath is $XDG_RUNTIME_DIR/nixnav-daemon.sock, falling
// back to /run/user/<euid>/nixnav-daemon.sock.
func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "nixnav-daemon.sock")
	}
	return filepath.Join("/run/user", strconv.Itoa(os.Geteuid()), "nixnav-daemon.sock")
}

// defaultDBPath is $XDG_DATA_HOME/nixnav/index.db, falling back to
// ~/.local/share/nixnav/index.db.
func defaultDBPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "nixnav", "index.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".local", "share", "nixnav", "index.db")
}
