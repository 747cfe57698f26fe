package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/k6frames/lib/types"
	"github.com/liuxd6825/k6frames/log"
)

// Config is the configuration of a frame manager and of the waits and
// navigations it runs.
type Config struct {
	Timeout           types.NullDuration `json:"timeout,omitempty" envconfig:"K6_BROWSER_TIMEOUT"`
	NavigationTimeout types.NullDuration `json:"navigationTimeout,omitempty" envconfig:"K6_BROWSER_NAVIGATION_TIMEOUT"`
	Polling           null.String        `json:"polling,omitempty" envconfig:"K6_BROWSER_POLLING"`
	LogCategoryFilter null.String        `json:"logCategoryFilter,omitempty" envconfig:"K6_BROWSER_LOG_CATEGORY_FILTER"`
	Debug             null.Bool          `json:"debug,omitempty" envconfig:"K6_BROWSER_DEBUG"`
}

// NewConfig creates a new config with the default values.
func NewConfig() Config {
	return Config{
		Timeout:           types.NewNullDuration(DefaultTimeout, false),
		NavigationTimeout: types.NewNullDuration(DefaultTimeout, false),
		Polling:           null.NewString("raf", false),
		LogCategoryFilter: null.NewString(".*", false),
		Debug:             null.NewBool(false, false),
	}
}

// Apply saves config non-zero config values from the passed config in the receiver.
func (c Config) Apply(cfg Config) Config {
	if cfg.Timeout.Valid {
		c.Timeout = cfg.Timeout
	}
	if cfg.NavigationTimeout.Valid {
		c.NavigationTimeout = cfg.NavigationTimeout
	}
	if cfg.Polling.Valid {
		c.Polling = cfg.Polling
	}
	if cfg.LogCategoryFilter.Valid {
		c.LogCategoryFilter = cfg.LogCategoryFilter
	}
	if cfg.Debug.Valid {
		c.Debug = cfg.Debug
	}
	return c
}

// TimeoutSettings returns the timeout settings the config describes.
// The navigation timeout follows the timeout unless it is set.
func (c Config) TimeoutSettings() *TimeoutSettings {
	ts := NewTimeoutSettings(nil)
	ts.SetDefaultTimeout(durationOr(c.Timeout, DefaultTimeout))
	if c.NavigationTimeout.Valid {
		ts.SetDefaultNavigationTimeout(time.Duration(c.NavigationTimeout.Duration))
	}
	return ts
}

// WaitTimeout returns the timeout of waits and of calls that are not
// navigations.
func (c Config) WaitTimeout() time.Duration {
	return c.TimeoutSettings().timeout()
}

// NavigationWaitTimeout returns the timeout of navigations.
func (c Config) NavigationWaitTimeout() time.Duration {
	return c.TimeoutSettings().navigationTimeout()
}

// DefaultPolling parses the configured polling.
func (c Config) DefaultPolling() (Polling, error) {
	return ParsePolling(c.Polling.String)
}

// NewLogger returns a category logger writing to logger, filtered and
// leveled as configured.
func (c Config) NewLogger(logger *logrus.Logger) (*log.Logger, error) {
	return log.NewFromFilter(logger, c.Debug.Bool, c.LogCategoryFilter.String)
}

func durationOr(d types.NullDuration, def time.Duration) time.Duration {
	if !d.Valid {
		return def
	}
	return time.Duration(d.Duration)
}

// GetConsolidatedConfig combines the default config values with the JSON
// config values and the environment variables, in that order of precedence.
func GetConsolidatedConfig(jsonRawConf json.RawMessage, env map[string]string) (Config, error) {
	result := NewConfig()
	if jsonRawConf != nil {
		jsonConf := Config{}
		if err := json.Unmarshal(jsonRawConf, &jsonConf); err != nil {
			return result, fmt.Errorf("parsing JSON config: %w", err)
		}
		result = result.Apply(jsonConf)
	}

	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, fmt.Errorf("parsing environment config: %w", err)
	}
	result = result.Apply(envConfig)

	if _, err := result.DefaultPolling(); err != nil {
		return result, err
	}

	return result, nil
}
