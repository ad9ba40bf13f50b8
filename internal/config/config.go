package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default locations, relative to the install root
const (
	DefaultDBFile   = "var/lib/hpkg/packages.db"
	DefaultCacheDir = "var/cache/hpkg"
	DefaultReposDir = "etc/hpkg/repos.d"
	DefaultLogFile  = "var/log/hpkg.log"
)

// Config represents the application configuration
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Install InstallConfig `mapstructure:"install"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PathsConfig contains path-related configuration. Empty paths are derived
// from RootDir.
type PathsConfig struct {
	RootDir  string `mapstructure:"root_dir"`
	DBFile   string `mapstructure:"db_file"`
	CacheDir string `mapstructure:"cache_dir"`
	ReposDir string `mapstructure:"repos_dir"`
	LogFile  string `mapstructure:"log_file"`
}

// InstallConfig contains package operation settings
type InstallConfig struct {
	ParallelDownloads int    `mapstructure:"parallel_downloads"`
	VerifySignatures  bool   `mapstructure:"verify_signatures"`
	AutoRemoveOrphans bool   `mapstructure:"auto_remove_orphans"`
	KeepCache         int    `mapstructure:"keep_cache"`
	MaxCacheSize      int64  `mapstructure:"max_cache_size"`
	PublicKey         string `mapstructure:"public_key"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"`
}

// Load loads configuration from the default search paths and environment
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from path, or from the default search paths
// when path is empty. HPKG_* environment variables override both.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/etc/hpkg")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "hpkg"))
		}
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Environment variable overrides
	v.SetEnvPrefix("HPKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found - use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Paths.RootDir = expandPath(cfg.Paths.RootDir)
	cfg.Paths.DBFile = expandPath(cfg.Paths.DBFile)
	cfg.Paths.CacheDir = expandPath(cfg.Paths.CacheDir)
	cfg.Paths.ReposDir = expandPath(cfg.Paths.ReposDir)
	cfg.Paths.LogFile = expandPath(cfg.Paths.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured
func Default() *Config {
	return &Config{
		Paths: PathsConfig{RootDir: "/"},
		Install: InstallConfig{
			ParallelDownloads: 4,
			VerifySignatures:  true,
			KeepCache:         3,
		},
		Logging: LoggingConfig{Level: "info", Color: "auto"},
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("paths.root_dir", d.Paths.RootDir)
	v.SetDefault("paths.db_file", "")
	v.SetDefault("paths.cache_dir", "")
	v.SetDefault("paths.repos_dir", "")
	v.SetDefault("paths.log_file", "")

	v.SetDefault("install.parallel_downloads", d.Install.ParallelDownloads)
	v.SetDefault("install.verify_signatures", d.Install.VerifySignatures)
	v.SetDefault("install.auto_remove_orphans", d.Install.AutoRemoveOrphans)
	v.SetDefault("install.keep_cache", d.Install.KeepCache)
	v.SetDefault("install.max_cache_size", d.Install.MaxCacheSize)
	v.SetDefault("install.public_key", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.color", d.Logging.Color)
}

// Validate rejects settings the package manager cannot run with
func (c *Config) Validate() error {
	if c.Paths.RootDir == "" {
		return fmt.Errorf("paths.root_dir must not be empty")
	}
	if !filepath.IsAbs(c.Paths.RootDir) {
		return fmt.Errorf("paths.root_dir must be absolute, got %q", c.Paths.RootDir)
	}
	if c.Install.ParallelDownloads < 1 {
		return fmt.Errorf("install.parallel_downloads must be at least 1, got %d", c.Install.ParallelDownloads)
	}
	if c.Install.KeepCache < 0 {
		return fmt.Errorf("install.keep_cache must not be negative")
	}
	return nil
}

// RootDir returns the install root
func (c *Config) RootDir() string {
	return c.Paths.RootDir
}

// DBFile returns the ledger path
func (c *Config) DBFile() string {
	return c.underRoot(c.Paths.DBFile, DefaultDBFile)
}

// CacheDir returns the artifact cache directory
func (c *Config) CacheDir() string {
	return c.underRoot(c.Paths.CacheDir, DefaultCacheDir)
}

// ReposDir returns the repository definitions directory
func (c *Config) ReposDir() string {
	return c.underRoot(c.Paths.ReposDir, DefaultReposDir)
}

// LogFile returns the log file path
func (c *Config) LogFile() string {
	return c.underRoot(c.Paths.LogFile, DefaultLogFile)
}

func (c *Config) underRoot(configured, def string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(c.Paths.RootDir, def)
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}
