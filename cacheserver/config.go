/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cacheserver

import (
	"fmt"
	"time"

	"github.com/acronis/go-lrucache/config"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyAddress                 = "address"
	cfgKeyTimeoutsReadHeader      = "timeouts.readHeader"
	cfgKeyTimeoutsShutdown        = "timeouts.shutdown"
	cfgKeyLimitsMaxValueSize      = "limits.maxValueSize"
	cfgKeyLogRequestStart         = "log.requestStart"
	cfgKeyLogExcludedEndpoints    = "log.excludedEndpoints"
	cfgKeyLogSlowRequestThreshold = "log.slowRequestThreshold"
)

const (
	defaultAddress                 = ":8080"
	defaultTimeoutsReadHeader      = 10 * time.Second
	defaultTimeoutsShutdown        = 5 * time.Second
	defaultLimitsMaxValueSize      = 1024 * 1024
	defaultLogSlowRequestThreshold = time.Second
)

var defaultLogExcludedEndpoints = []string{"/metrics"}

// Config represents a set of configuration parameters for the cache HTTP server.
type Config struct {
	Address  string         `mapstructure:"address" yaml:"address" json:"address"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits" json:"limits"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// TimeoutsConfig represents a set of configuration parameters for server timeouts.
type TimeoutsConfig struct {
	ReadHeader config.TimeDuration `mapstructure:"readHeader" yaml:"readHeader" json:"readHeader"`
	Shutdown   config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// LimitsConfig represents a set of configuration parameters for request limits.
type LimitsConfig struct {
	// MaxValueSize is the maximum size of a value stored with PUT /cache/{key}.
	MaxValueSize config.ByteSize `mapstructure:"maxValueSize" yaml:"maxValueSize" json:"maxValueSize"`
}

// LogConfig represents a set of configuration parameters for request logging.
type LogConfig struct {
	RequestStart bool `mapstructure:"requestStart" yaml:"requestStart" json:"requestStart"`
	// ExcludedEndpoints are glob patterns of URL paths whose successful requests are not logged.
	ExcludedEndpoints []string `mapstructure:"excludedEndpoints" yaml:"excludedEndpoints" json:"excludedEndpoints"`
	// SlowRequestThreshold is the duration after which a request is logged with its time slots.
	SlowRequestThreshold config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Address:   defaultAddress,
		Timeouts: TimeoutsConfig{
			ReadHeader: config.TimeDuration(defaultTimeoutsReadHeader),
			Shutdown:   config.TimeDuration(defaultTimeoutsShutdown),
		},
		Limits: LimitsConfig{MaxValueSize: defaultLimitsMaxValueSize},
		Log: LogConfig{
			ExcludedEndpoints:    append([]string(nil), defaultLogExcludedEndpoints...),
			SlowRequestThreshold: config.TimeDuration(defaultLogSlowRequestThreshold),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the server in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyAddress, defaultAddress)
	dp.SetDefault(cfgKeyTimeoutsReadHeader, defaultTimeoutsReadHeader.String())
	dp.SetDefault(cfgKeyTimeoutsShutdown, defaultTimeoutsShutdown.String())
	dp.SetDefault(cfgKeyLimitsMaxValueSize, defaultLimitsMaxValueSize)
	dp.SetDefault(cfgKeyLogRequestStart, false)
	dp.SetDefault(cfgKeyLogExcludedEndpoints, defaultLogExcludedEndpoints)
	dp.SetDefault(cfgKeyLogSlowRequestThreshold, defaultLogSlowRequestThreshold.String())
}

// Set sets server configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}

	for _, t := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyTimeoutsReadHeader, &c.Timeouts.ReadHeader},
		{cfgKeyTimeoutsShutdown, &c.Timeouts.Shutdown},
		{cfgKeyLogSlowRequestThreshold, &c.Log.SlowRequestThreshold},
	} {
		var d time.Duration
		if d, err = dp.GetDuration(t.key); err != nil {
			return err
		}
		if d < 0 {
			return dp.WrapKeyErr(t.key, fmt.Errorf("should be >= 0"))
		}
		*t.dst = config.TimeDuration(d)
	}

	if c.Limits.MaxValueSize, err = dp.GetSizeInBytes(cfgKeyLimitsMaxValueSize); err != nil {
		return err
	}
	if c.Limits.MaxValueSize == 0 {
		return dp.WrapKeyErr(cfgKeyLimitsMaxValueSize, fmt.Errorf("should be > 0"))
	}

	if c.Log.RequestStart, err = dp.GetBool(cfgKeyLogRequestStart); err != nil {
		return err
	}
	if c.Log.ExcludedEndpoints, err = dp.GetStringSlice(cfgKeyLogExcludedEndpoints); err != nil {
		return err
	}

	return nil
}
