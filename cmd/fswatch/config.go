package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents a configuration file for the fswatch CLI.
type Config struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
	CWD      string   `yaml:"cwd"`

	// Poll selects the polling engine; the intervals are duration strings
	// such as "500ms".
	Poll             bool   `yaml:"poll"`
	PollingInterval  string `yaml:"polling-interval"`
	DebounceInterval string `yaml:"debounce-interval"`

	// Exec is a command started alongside the watcher; the program shuts
	// down when it exits.
	Exec string `yaml:"exec"`

	// Addr is the bind address for serving Prometheus metrics.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a new instance of Config with defaults set.
func DefaultConfig() Config {
	return Config{}
}

// ReadConfigFile unmarshals config from filename. Expands path if needed.
func ReadConfigFile(filename string) (Config, error) {
	config := DefaultConfig()

	// Expand filename, if necessary.
	if prefix := "~" + string(os.PathSeparator); strings.HasPrefix(filename, prefix) {
		u, err := user.Current()
		if err != nil {
			return config, err
		} else if u.HomeDir == "" {
			return config, fmt.Errorf("home directory unset")
		}
		filename = filepath.Join(u.HomeDir, strings.TrimPrefix(filename, prefix))
	}

	// Read & deserialize configuration.
	if buf, err := os.ReadFile(filename); os.IsNotExist(err) {
		return config, fmt.Errorf("config file not found: %s", filename)
	} else if err != nil {
		return config, err
	} else if err := yaml.Unmarshal(buf, &config); err != nil {
		return config, err
	}
	return config, nil
}

// pollingInterval parses the configured polling interval, returning zero
// when unset so the library default applies.
func (c *Config) pollingInterval() (time.Duration, error) {
	return parseInterval("polling-interval", c.PollingInterval)
}

// debounceInterval parses the configured debounce interval.
func (c *Config) debounceInterval() (time.Duration, error) {
	return parseInterval("debounce-interval", c.DebounceInterval)
}

func parseInterval(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", field)
	}
	return d, nil
}
