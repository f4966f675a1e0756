package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"rsynco/internal/retry"
	"time"

	"github.com/spf13/viper"
)

type Retry struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type Config struct {
	DaemonPort   int           `mapstructure:"daemon_port"`
	DBPath       string        `mapstructure:"db_path"`
	LockDir      string        `mapstructure:"lock_dir"`
	LogDir       string        `mapstructure:"log_dir"`
	RsyncPath    string        `mapstructure:"rsync_path"`
	TarPath      string        `mapstructure:"tar_path"`
	LockWait     time.Duration `mapstructure:"lock_wait"`
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Retry        Retry         `mapstructure:"retry"`

	// Dir is the directory holding config.yaml; relative paths above resolve against it.
	Dir string `mapstructure:"-"`
}

var Default = Config{
	DaemonPort:   9101,
	DBPath:       "rsynco.db",
	LockDir:      "locks",
	LogDir:       "logs",
	RsyncPath:    "rsync",
	TarPath:      "tar",
	LockWait:     100 * time.Millisecond,
	StallTimeout: 10 * time.Minute,
	TickInterval: time.Minute,
	Retry: Retry{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	},
}

// Dir returns the configuration directory, $RSYNCO_HOME or ~/.rsynco.
func Dir() (string, error) {
	if dir := os.Getenv("RSYNCO_HOME"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	return filepath.Join(home, ".rsynco"), nil
}

func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetDefault("daemon_port", Default.DaemonPort)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("lock_dir", Default.LockDir)
	v.SetDefault("log_dir", Default.LogDir)
	v.SetDefault("rsync_path", Default.RsyncPath)
	v.SetDefault("tar_path", Default.TarPath)
	v.SetDefault("lock_wait", Default.LockWait)
	v.SetDefault("stall_timeout", Default.StallTimeout)
	v.SetDefault("tick_interval", Default.TickInterval)
	v.SetDefault("retry.max_attempts", Default.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", Default.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", Default.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", Default.Retry.Multiplier)

	v.SetEnvPrefix("RSYNCO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Dir = configDir
	cfg.DBPath = cfg.resolve(cfg.DBPath)
	cfg.LockDir = cfg.resolve(cfg.LockDir)
	cfg.LogDir = cfg.resolve(cfg.LogDir)

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry.max_attempts must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}

	return &cfg, nil
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(c.Dir, path)
}

// Policy converts the retry settings into the policy the runner applies.
func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
	}
}
