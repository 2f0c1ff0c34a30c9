/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"fmt"
	"time"

	"github.com/acronis/go-lrucache/config"
	"github.com/acronis/go-lrucache/log"
)

const cfgDefaultKeyPrefix = "cache"

const (
	cfgKeyMaxElements     = "maxElements"
	cfgKeyMaxAge          = "maxAge"
	cfgKeySize            = "size"
	cfgKeyMaxLoadFactor   = "maxLoadFactor"
	cfgKeySweepEvery      = "sweepEvery"
	cfgKeyCleanupInterval = "cleanupInterval"
)

// Config represents a set of configuration parameters for the cache.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader.
//
// Example of YAML configuration:
//
//	cache:
//	  maxElements: 10000
//	  maxAge: 30s
//	  size: 1024
//	  maxLoadFactor: 0.75
//	  cleanupInterval: 1m
type Config struct {
	MaxElements   int                 `mapstructure:"maxElements" yaml:"maxElements" json:"maxElements"`
	MaxAge        config.TimeDuration `mapstructure:"maxAge" yaml:"maxAge" json:"maxAge"`
	Size          int                 `mapstructure:"size" yaml:"size" json:"size"`
	MaxLoadFactor float64             `mapstructure:"maxLoadFactor" yaml:"maxLoadFactor" json:"maxLoadFactor"`
	SweepEvery    int                 `mapstructure:"sweepEvery" yaml:"sweepEvery" json:"sweepEvery"`

	// CleanupInterval is the period of SyncLRUCache.RunPeriodicCleanup. 0 disables periodic cleanup.
	CleanupInterval config.TimeDuration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config with the default key prefix ("cache").
func NewConfig() *Config {
	return NewConfigWithKeyPrefix(cfgDefaultKeyPrefix)
}

// NewConfigWithKeyPrefix creates a new instance of the Config with a key prefix.
// This prefix will be used by config.Loader.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix, MaxLoadFactor: DefaultMaxLoadFactor}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the cache in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxElements, 0)
	dp.SetDefault(cfgKeyMaxAge, 0)
	dp.SetDefault(cfgKeySize, 0)
	dp.SetDefault(cfgKeyMaxLoadFactor, DefaultMaxLoadFactor)
	dp.SetDefault(cfgKeySweepEvery, 0)
	dp.SetDefault(cfgKeyCleanupInterval, 0)
}

// Set sets cache configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxElements, err = dp.GetInt(cfgKeyMaxElements); err != nil {
		return err
	}
	if c.MaxElements < 0 {
		return dp.WrapKeyErr(cfgKeyMaxElements, fmt.Errorf("should be >= 0"))
	}

	var maxAge time.Duration
	if maxAge, err = dp.GetDuration(cfgKeyMaxAge); err != nil {
		return err
	}
	if maxAge < 0 {
		return dp.WrapKeyErr(cfgKeyMaxAge, fmt.Errorf("should be >= 0"))
	}
	c.MaxAge = config.TimeDuration(maxAge)

	if c.Size, err = dp.GetInt(cfgKeySize); err != nil {
		return err
	}
	if c.Size < 0 || c.Size > MaxSize {
		return dp.WrapKeyErr(cfgKeySize, fmt.Errorf("should be in range [0, %d]", MaxSize))
	}

	if c.MaxLoadFactor, err = dp.GetFloat64(cfgKeyMaxLoadFactor); err != nil {
		return err
	}
	if c.MaxLoadFactor < MinMaxLoadFactor {
		return dp.WrapKeyErr(cfgKeyMaxLoadFactor, fmt.Errorf("should be >= %v", MinMaxLoadFactor))
	}

	if c.SweepEvery, err = dp.GetInt(cfgKeySweepEvery); err != nil {
		return err
	}
	if c.SweepEvery < 0 {
		return dp.WrapKeyErr(cfgKeySweepEvery, fmt.Errorf("should be >= 0"))
	}

	var cleanupInterval time.Duration
	if cleanupInterval, err = dp.GetDuration(cfgKeyCleanupInterval); err != nil {
		return err
	}
	if cleanupInterval < 0 {
		return dp.WrapKeyErr(cfgKeyCleanupInterval, fmt.Errorf("should be >= 0"))
	}
	c.CleanupInterval = config.TimeDuration(cleanupInterval)

	return nil
}

// Options converts the configuration into cache options.
func (c *Config) Options(metricsCollector MetricsCollector, logger log.FieldLogger) Options {
	return Options{
		MaxElements:      c.MaxElements,
		MaxAge:           time.Duration(c.MaxAge),
		Size:             c.Size,
		MaxLoadFactor:    c.MaxLoadFactor,
		SweepEvery:       c.SweepEvery,
		MetricsCollector: metricsCollector,
		Logger:           logger,
	}
}

// NewWithConfig creates a new LRUCache from the configuration.
func NewWithConfig[V any](cfg *Config, metricsCollector MetricsCollector, logger log.FieldLogger) (*LRUCache[V], error) {
	return New[V](cfg.Options(metricsCollector, logger))
}

// NewSyncWithConfig creates a new SyncLRUCache from the configuration.
func NewSyncWithConfig[V any](cfg *Config, metricsCollector MetricsCollector, logger log.FieldLogger) (*SyncLRUCache[V], error) {
	return NewSync[V](cfg.Options(metricsCollector, logger))
}
