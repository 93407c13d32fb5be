package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	BackendGCS = "gcs"
	BackendDir = "dir"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

// RemoteConfig replaces credentials baked into app resources. Acquiring the
// credentials file itself is left to the deployment.
type RemoteConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	DirRoot         string `mapstructure:"dir_root" yaml:"dir_root"`
	Dev             bool   `mapstructure:"dev" yaml:"dev"`
}

type DownloadConfig struct {
	SoundsDir     string `mapstructure:"sounds_dir" yaml:"sounds_dir"`
	MaxWorkers    int    `mapstructure:"max_workers" yaml:"max_workers"`
	DebugChunks   bool   `mapstructure:"debug_chunks" yaml:"debug_chunks"`
	ChunkMaxBytes int64  `mapstructure:"chunk_max_bytes" yaml:"chunk_max_bytes"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("remote.backend", BackendGCS)
	v.SetDefault("remote.bucket", "serenity-sounds")
	v.SetDefault("remote.dev", false)
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("remote.project_id", "")
	v.SetDefault("remote.credentials_file", "")
	v.SetDefault("remote.dir_root", "")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("download.sounds_dir", "./sounds")
	v.SetDefault("download.max_workers", 4)
	v.SetDefault("download.debug_chunks", false)
	v.SetDefault("download.chunk_max_bytes", 1024*1024)
	v.SetDefault("retry.base_delay", "10s")
	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("log.path", "serenity.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/serenity.db")
}

// Load reads the YAML config at path, applies defaults and SERENITY_* env overrides.
// A missing default config.yaml is not an error; defaults plus env are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Support Environment Variables
	v.SetEnvPrefix("SERENITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	_ = cfg.validate()
	return &cfg
}

// WriteExample writes the default configuration as YAML to path.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing %s", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) validate() error {
	switch c.Remote.Backend {
	case BackendGCS:
		if c.Remote.Bucket == "" {
			return errors.New("remote.bucket is required for the gcs backend")
		}
	case BackendDir:
		if c.Remote.DirRoot == "" {
			return errors.New("remote.dir_root is required for the dir backend")
		}
		if c.Remote.Bucket == "" {
			c.Remote.Bucket = "serenity-sounds"
		}
	default:
		return fmt.Errorf("unknown remote.backend %q", c.Remote.Backend)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Download.SoundsDir == "" {
		c.Download.SoundsDir = "./sounds"
	}

	if c.Download.MaxWorkers <= 0 {
		// Default to a sane value
		c.Download.MaxWorkers = 4
	}

	if c.Download.ChunkMaxBytes <= 0 {
		c.Download.ChunkMaxBytes = 1024 * 1024
	}

	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 10 * time.Second
	}

	if c.Retry.MaxAttempts < 0 {
		c.Retry.MaxAttempts = 0
	}

	return nil
}
