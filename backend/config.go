package backend

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-loadable connection configuration used by programs
// that prefer a config file over a hand-assembled URL.
type Config struct {
	URL  string     `json:"url" yaml:"url"`
	Pool PoolConfig `json:"pool" yaml:"pool"`
}

// PoolConfig defines connection pool sizing. Zero values fall back to the
// adapter defaults.
type PoolConfig struct {
	MaxOpen     int           `json:"max_open" yaml:"max_open"`
	MaxIdle     int           `json:"max_idle" yaml:"max_idle"`
	MaxLifetime time.Duration `json:"max_lifetime" yaml:"max_lifetime"`
	MaxIdleTime time.Duration `json:"max_idle_time" yaml:"max_idle_time"`
}

func (pc *PoolConfig) applyDefaults() {
	if pc.MaxOpen <= 0 {
		pc.MaxOpen = 10
	}
	if pc.MaxIdle < 0 {
		pc.MaxIdle = 0
	}
	if pc.MaxLifetime == 0 {
		pc.MaxLifetime = time.Hour
	}
	if pc.MaxIdleTime == 0 {
		pc.MaxIdleTime = 30 * time.Minute
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: "reading config file", Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Msg: "parsing config file", Err: err}
	}
	if cfg.URL == "" {
		return nil, &ConfigError{Msg: "config file missing url"}
	}
	cfg.Pool.applyDefaults()
	return &cfg, nil
}

// PoolConfigFromURL extracts pool sizing arguments from a connection URL's
// query string and returns the remaining, adapter-specific query values.
// Recognized arguments: pool_max_open, pool_max_idle, pool_max_lifetime,
// pool_max_idle_time.
func PoolConfigFromURL(u *url.URL) (PoolConfig, url.Values, error) {
	var pc PoolConfig
	rest := url.Values{}
	for key, vals := range u.Query() {
		if len(vals) != 1 {
			return pc, nil, &ConfigError{Msg: fmt.Sprintf("argument %q: only a single value may be specified", key)}
		}
		val := vals[0]
		var err error
		switch key {
		case "pool_max_open":
			pc.MaxOpen, err = strconv.Atoi(val)
		case "pool_max_idle":
			pc.MaxIdle, err = strconv.Atoi(val)
		case "pool_max_lifetime":
			pc.MaxLifetime, err = time.ParseDuration(val)
		case "pool_max_idle_time":
			pc.MaxIdleTime, err = time.ParseDuration(val)
		default:
			rest[key] = vals
		}
		if err != nil {
			return pc, nil, &ConfigError{Msg: fmt.Sprintf("invalid argument %q", key), Err: err}
		}
	}
	pc.applyDefaults()
	return pc, rest, nil
}
