package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Setting struct {
	Key   string
	Value string
}

type parseFunc func(string) (any, error)

var settable = map[string]parseFunc{
	"daemon_port":         parsePort,
	"db_path":             parseString,
	"lock_dir":            parseString,
	"log_dir":             parseString,
	"rsync_path":          parseString,
	"tar_path":            parseString,
	"lock_wait":           parseDuration,
	"stall_timeout":       parseDuration,
	"tick_interval":       parsePositiveDuration,
	"retry.max_attempts":  parseAttempts,
	"retry.initial_delay": parseDuration,
	"retry.max_delay":     parseDuration,
	"retry.multiplier":    parseMultiplier,
}

// Keys lists the settings Set accepts.
func Keys() []string {
	keys := make([]string, 0, len(settable))
	for key := range settable {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

// Settings returns the effective configuration, environment overrides
// included.
func (c *Config) Settings() []Setting {
	return []Setting{
		{"config_dir", c.Dir},
		{"daemon_port", strconv.Itoa(c.DaemonPort)},
		{"db_path", c.DBPath},
		{"lock_dir", c.LockDir},
		{"log_dir", c.LogDir},
		{"rsync_path", c.RsyncPath},
		{"tar_path", c.TarPath},
		{"lock_wait", c.LockWait.String()},
		{"stall_timeout", c.StallTimeout.String()},
		{"tick_interval", c.TickInterval.String()},
		{"retry.max_attempts", strconv.Itoa(c.Retry.MaxAttempts)},
		{"retry.initial_delay", c.Retry.InitialDelay.String()},
		{"retry.max_delay", c.Retry.MaxDelay.String()},
		{"retry.multiplier", strconv.FormatFloat(c.Retry.Multiplier, 'g', -1, 64)},
	}
}

// Set validates value for key and writes it to config.yaml, keeping the
// other settings in the file as they are. A running daemon picks up retry
// and tick changes through its watcher.
func Set(key, value string) error {
	parse, ok := settable[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}

	parsed, err := parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	file, err := File()
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if _, err := os.Stat(file); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.Set(key, parsed)
	if err := v.WriteConfigAs(file); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseString(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	return s, nil
}

func parsePort(s string) (any, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

func parseAttempts(s string) (any, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("must be at least 1")
	}
	return n, nil
}

func parseMultiplier(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if f < 1 {
		return nil, fmt.Errorf("must be at least 1")
	}
	return f, nil
}

// Durations are stored as strings so the file stays readable.
func parseDuration(s string) (any, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, fmt.Errorf("must not be negative")
	}
	return d.String(), nil
}

func parsePositiveDuration(s string) (any, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, fmt.Errorf("must be positive")
	}
	return d.String(), nil
}
