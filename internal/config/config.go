package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Backup      BackupConfig      `yaml:"backup" mapstructure:"backup"`
	Replication ReplicationConfig `yaml:"replication" mapstructure:"replication"`

	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	LogFile  string `yaml:"log_file" mapstructure:"log_file"`
}

// DatabaseConfig describes the tenant database the engine dumps, restores and scans.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	Path     string `yaml:"path" mapstructure:"path"` // file path for sqlite
}

// BackupConfig describes artifact locations and the important-files set.
type BackupConfig struct {
	// AppRoot is the directory configured file paths are relative to.
	AppRoot string `yaml:"app_root" mapstructure:"app_root"`
	// BackupDir is where artifacts are stored, one subdirectory per tenant.
	BackupDir string `yaml:"backup_dir" mapstructure:"backup_dir"`
	// Files lists the important paths (files or directories) relative to AppRoot.
	Files []string `yaml:"files" mapstructure:"files"`
	// RetentionDays is the default retention applied when a job does not set one.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
	// Compression selects dump compression for database-only backups:
	// none, gzip, zstd or lz4.
	Compression string `yaml:"compression" mapstructure:"compression"`
	// CommandTimeout bounds every external dump/restore/archive process.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
}

// ReplicationConfig describes optional offsite artifact replication.
type ReplicationConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Region  string `yaml:"region" mapstructure:"region"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
}

// Load reads a Config from a YAML file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults fills unset fields with sensible defaults.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "normal"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Backup.AppRoot == "" {
		c.Backup.AppRoot = "."
	}
	if c.Backup.BackupDir == "" {
		c.Backup.BackupDir = filepath.Join(c.Backup.AppRoot, "backups")
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 30
	}
	if c.Backup.Compression == "" {
		c.Backup.Compression = "none"
	}
	if c.Backup.CommandTimeout == 0 {
		c.Backup.CommandTimeout = 30 * time.Minute
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "mariadb", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "sqlite" {
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	} else {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for the %s driver", c.Database.Driver)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for the %s driver", c.Database.Driver)
		}
	}

	switch c.Backup.Compression {
	case "none", "gzip", "zstd", "lz4":
	default:
		return fmt.Errorf("unsupported compression %q (none, gzip, zstd, lz4)", c.Backup.Compression)
	}

	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days cannot be negative")
	}

	if c.Replication.Enabled && c.Replication.Bucket == "" {
		return fmt.Errorf("replication.bucket is required when replication is enabled")
	}

	return nil
}
