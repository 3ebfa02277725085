package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Publish  PublishConfig  `mapstructure:"publish" yaml:"publish"`

	Port string `mapstructure:"port" yaml:"port"`
}

type DownloadConfig struct {
	OutDir          string        `mapstructure:"out_dir" yaml:"out_dir"`
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	StreamBatchSize int           `mapstructure:"stream_batch_size" yaml:"stream_batch_size"`
	AssetBatchSize  int           `mapstructure:"asset_batch_size" yaml:"asset_batch_size"`
	AutoResume      bool          `mapstructure:"auto_resume" yaml:"auto_resume"`
	BatchPauseMin   time.Duration `mapstructure:"batch_pause_min" yaml:"batch_pause_min"`
	BatchPauseMax   time.Duration `mapstructure:"batch_pause_max" yaml:"batch_pause_max"`
	SegmentDelayMin time.Duration `mapstructure:"segment_delay_min" yaml:"segment_delay_min"`
	SegmentDelayMax time.Duration `mapstructure:"segment_delay_max" yaml:"segment_delay_max"`
	AssetDelayMin   time.Duration `mapstructure:"asset_delay_min" yaml:"asset_delay_min"`
	AssetDelayMax   time.Duration `mapstructure:"asset_delay_max" yaml:"asset_delay_max"`
	MinFreeBytes    uint64        `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`
}

type NetworkConfig struct {
	Timeout                time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinInterval            time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	IntervalJitter         time.Duration `mapstructure:"interval_jitter" yaml:"interval_jitter"`
	MaxInterval            time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	IntervalMultiplier     float64       `mapstructure:"interval_multiplier" yaml:"interval_multiplier"`
	MaxRetries             int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxSoftRetries         int           `mapstructure:"max_soft_retries" yaml:"max_soft_retries"`
	BackoffBase            time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	RotateProbability      float64       `mapstructure:"rotate_probability" yaml:"rotate_probability"`
	RateLimitCooldownMin   time.Duration `mapstructure:"rate_limit_cooldown_min" yaml:"rate_limit_cooldown_min"`
	RateLimitCooldownMax   time.Duration `mapstructure:"rate_limit_cooldown_max" yaml:"rate_limit_cooldown_max"`
	ForbiddenCooldownMin   time.Duration `mapstructure:"forbidden_cooldown_min" yaml:"forbidden_cooldown_min"`
	ForbiddenCooldownMax   time.Duration `mapstructure:"forbidden_cooldown_max" yaml:"forbidden_cooldown_max"`
	ServerErrorCooldownMin time.Duration `mapstructure:"server_error_cooldown_min" yaml:"server_error_cooldown_min"`
	ServerErrorCooldownMax time.Duration `mapstructure:"server_error_cooldown_max" yaml:"server_error_cooldown_max"`
}

type AuthConfig struct {
	Authorization string `mapstructure:"authorization" yaml:"authorization"`
	Cookie        string `mapstructure:"cookie" yaml:"cookie"`
	UserAgent     string `mapstructure:"user_agent" yaml:"user_agent"`
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

type PublishConfig struct {
	BucketURL string `mapstructure:"bucket_url" yaml:"bucket_url"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")

	v.SetDefault("download.out_dir", "./media")
	v.SetDefault("download.workers", 1)
	v.SetDefault("download.stream_batch_size", 100)
	v.SetDefault("download.asset_batch_size", 50)
	v.SetDefault("download.auto_resume", false)
	v.SetDefault("download.batch_pause_min", "1s")
	v.SetDefault("download.batch_pause_max", "3s")
	v.SetDefault("download.segment_delay_min", "100ms")
	v.SetDefault("download.segment_delay_max", "300ms")
	v.SetDefault("download.asset_delay_min", "200ms")
	v.SetDefault("download.asset_delay_max", "500ms")
	v.SetDefault("download.min_free_bytes", uint64(1<<30))

	v.SetDefault("network.timeout", "20s")
	v.SetDefault("network.min_interval", "500ms")
	v.SetDefault("network.interval_jitter", "500ms")
	v.SetDefault("network.max_interval", "4s")
	v.SetDefault("network.interval_multiplier", 1.5)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.max_soft_retries", 100)
	v.SetDefault("network.backoff_base", "1500ms")
	v.SetDefault("network.rotate_probability", 0.1)
	v.SetDefault("network.rate_limit_cooldown_min", "30s")
	v.SetDefault("network.rate_limit_cooldown_max", "60s")
	v.SetDefault("network.forbidden_cooldown_min", "15s")
	v.SetDefault("network.forbidden_cooldown_max", "30s")
	v.SetDefault("network.server_error_cooldown_min", "5s")
	v.SetDefault("network.server_error_cooldown_max", "15s")

	v.SetDefault("log.path", "mediagrab.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/mediagrab.db")
}

// Load reads the config file at path. An empty path falls back to
// config.yaml, and a missing default file leaves defaults plus env in effect.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// Docker images mount their config under /config
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				path = ""
			}
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("MEDIAGRAB")
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

func (c *Config) validate() error {
	if c.Download.OutDir == "" {
		c.Download.OutDir = "./media"
	}

	if c.Download.Workers <= 0 {
		c.Download.Workers = 1
	}

	if c.Download.StreamBatchSize <= 0 {
		c.Download.StreamBatchSize = 100
	}

	if c.Download.AssetBatchSize <= 0 {
		c.Download.AssetBatchSize = 50
	}

	if c.Download.BatchPauseMax < c.Download.BatchPauseMin {
		return errors.New("download.batch_pause_max must not be lower than download.batch_pause_min")
	}

	if c.Download.SegmentDelayMax < c.Download.SegmentDelayMin {
		return errors.New("download.segment_delay_max must not be lower than download.segment_delay_min")
	}

	if c.Download.AssetDelayMax < c.Download.AssetDelayMin {
		return errors.New("download.asset_delay_max must not be lower than download.asset_delay_min")
	}

	n := &c.Network
	if n.Timeout <= 0 {
		n.Timeout = 20 * time.Second
	}

	if n.MaxRetries <= 0 {
		return fmt.Errorf("network.max_retries must be positive, got %d", n.MaxRetries)
	}

	if n.MaxSoftRetries < 0 {
		return fmt.Errorf("network.max_soft_retries must not be negative, got %d", n.MaxSoftRetries)
	}

	if n.MinInterval <= 0 {
		// A zero interval cannot be multiplied up after a 429
		return fmt.Errorf("network.min_interval must be positive, got %s", n.MinInterval)
	}

	if n.IntervalMultiplier < 1 {
		return fmt.Errorf("network.interval_multiplier must be >= 1, got %v", n.IntervalMultiplier)
	}

	if n.MaxInterval < n.MinInterval {
		// Ceiling below the floor would freeze the throttle, lift it
		n.MaxInterval = n.MinInterval
	}

	if n.RotateProbability < 0 || n.RotateProbability > 1 {
		return fmt.Errorf("network.rotate_probability must be within [0,1], got %v", n.RotateProbability)
	}

	switch c.Store.Driver {
	case "", "sqlite":
		c.Store.Driver = "sqlite"
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "./data/mediagrab.db"
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want sqlite or postgres)", c.Store.Driver)
	}

	return nil
}
