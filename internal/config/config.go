// Package config loads settings from defaults, an optional config file,
// ACCT_* environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/acctsync/internal/bitbrowser"
	"github.com/mschirtzinger/acctsync/internal/reconcile/filesync"
	"github.com/mschirtzinger/acctsync/internal/reconcile/inventory"
)

// EnvPrefix prefixes every environment variable, e.g. ACCT_DATA_DIR.
const EnvPrefix = "ACCT"

// Config holds all settings.
type Config struct {
	// DataDir holds the database and, unless overridden, the text files.
	DataDir string `mapstructure:"data_dir"`
	// DBPath defaults to DataDir/accounts.db.
	DBPath string `mapstructure:"db_path"`

	Files     FilesConfig     `mapstructure:"files"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Log       LogConfig       `mapstructure:"log"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
}

// FilesConfig names the import/export files. Dir defaults to DataDir.
type FilesConfig struct {
	Dir        string `mapstructure:"dir"`
	Primary    string `mapstructure:"primary"`
	LinkReady  string `mapstructure:"link_ready"`
	Verified   string `mapstructure:"verified"`
	Subscribed string `mapstructure:"subscribed"`
	Ineligible string `mapstructure:"ineligible"`
	Error      string `mapstructure:"error"`
	Backup     string `mapstructure:"backup"`
}

// InventoryConfig configures the automation API and reconciliation pacing.
type InventoryConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	PageSize int           `mapstructure:"page_size"`
	Pause    time.Duration `mapstructure:"pause"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LogConfig configures the logger. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MonitorConfig configures the monitor server. An empty Addr disables it.
type MonitorConfig struct {
	Addr          string        `mapstructure:"addr"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// DaemonConfig configures the status file watcher.
type DaemonConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".")
	v.SetDefault("db_path", "")

	v.SetDefault("files.dir", "")
	v.SetDefault("files.primary", filesync.DefaultPrimary)
	v.SetDefault("files.link_ready", filesync.DefaultLinkReady)
	v.SetDefault("files.verified", filesync.DefaultVerified)
	v.SetDefault("files.subscribed", filesync.DefaultSubscribed)
	v.SetDefault("files.ineligible", filesync.DefaultIneligible)
	v.SetDefault("files.error", filesync.DefaultError)
	v.SetDefault("files.backup", filesync.DefaultBackup)

	v.SetDefault("inventory.base_url", bitbrowser.DefaultBaseURL)
	v.SetDefault("inventory.page_size", inventory.DefaultPageSize)
	v.SetDefault("inventory.pause", inventory.DefaultPause)
	v.SetDefault("inventory.timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("monitor.addr", "")
	v.SetDefault("monitor.stats_interval", 5*time.Second)

	v.SetDefault("daemon.debounce", 500*time.Millisecond)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile when set, or an optional acct.{yaml,toml,json} from
// the working directory, and decodes v into a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("acct")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerived() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "accounts.db")
	}
	if c.Files.Dir == "" {
		c.Files.Dir = c.DataDir
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Inventory.PageSize <= 0 {
		return fmt.Errorf("inventory.page_size must be positive, got %d", c.Inventory.PageSize)
	}
	if c.Inventory.Pause < 0 {
		return fmt.Errorf("inventory.pause must not be negative, got %s", c.Inventory.Pause)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// Layout returns the file layout.
func (c *Config) Layout() filesync.Layout {
	return filesync.Layout{
		Dir:        c.Files.Dir,
		Primary:    c.Files.Primary,
		LinkReady:  c.Files.LinkReady,
		Verified:   c.Files.Verified,
		Subscribed: c.Files.Subscribed,
		Ineligible: c.Files.Ineligible,
		Error:      c.Files.Error,
		Backup:     c.Files.Backup,
	}
}
