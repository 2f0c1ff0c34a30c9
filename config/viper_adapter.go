/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ViperAdapter is DataProvider implementation that uses viper library under the hood.
type ViperAdapter struct {
	viper *viper.Viper
}

var _ DataProvider = (*ViperAdapter)(nil)

// NewViperAdapter creates a new ViperAdapter.
func NewViperAdapter() *ViperAdapter {
	return &ViperAdapter{viper.New()}
}

// UseEnvVars enables the ability to use environment variables for configuration parameters.
// Prefix defines what environment variables will be looked.
// E.g., if your prefix is "lru", the value of "cache.maxAge" is read from LRU_CACHE_MAXAGE.
func (va *ViperAdapter) UseEnvVars(prefix string) {
	va.viper.AutomaticEnv()
	va.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	va.viper.SetEnvPrefix(prefix)
}

// SetDefault sets the default value for this key.
// Default only used when no value is provided by the user via config or ENV.
func (va *ViperAdapter) SetDefault(key string, value interface{}) {
	va.viper.SetDefault(key, value)
}

// SetFromFile loads configuration data from file.
func (va *ViperAdapter) SetFromFile(path string, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	va.viper.SetConfigFile(path)
	return va.viper.ReadInConfig()
}

// SetFromReader loads configuration data from reader.
func (va *ViperAdapter) SetFromReader(reader io.Reader, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadConfig(reader)
}

// GetInt tries to retrieve the value associated with the key as an integer.
func (va *ViperAdapter) GetInt(key string) (res int, err error) {
	res, err = cast.ToIntE(va.viper.Get(key))
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// GetFloat64 tries to retrieve the value associated with the key as an float64.
func (va *ViperAdapter) GetFloat64(key string) (res float64, err error) {
	res, err = cast.ToFloat64E(va.viper.Get(key))
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// GetString tries to retrieve the value associated with the key as a string.
func (va *ViperAdapter) GetString(key string) (res string, err error) {
	res, err = cast.ToStringE(va.viper.Get(key))
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// GetBool tries to retrieve the value associated with the key as a bool.
func (va *ViperAdapter) GetBool(key string) (res bool, err error) {
	res, err = cast.ToBoolE(va.viper.Get(key))
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// GetStringFromSet tries to retrieve the value associated with the key as a string from the specified set.
func (va *ViperAdapter) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	str, err := va.GetString(key)
	if err != nil {
		return "", err
	}
	for _, s := range set {
		if (ignoreCase && strings.EqualFold(str, s)) || str == s {
			return str, nil
		}
	}
	return "", WrapKeyErr(key, fmt.Errorf("unknown value %q, should be one of %v", str, set))
}

// GetStringSlice tries to retrieve the value associated with the key as a slice of strings.
// A string value is split by whitespaces.
func (va *ViperAdapter) GetStringSlice(key string) (res []string, err error) {
	val := va.viper.Get(key)
	if val == nil {
		return
	}
	res, err = cast.ToStringSliceE(val)
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// GetDuration tries to retrieve the value associated with the key as a duration.
// Integers are treated as milliseconds, strings are parsed with time.ParseDuration.
func (va *ViperAdapter) GetDuration(key string) (res time.Duration, err error) {
	val := va.viper.Get(key)
	if val == nil {
		return
	}
	switch v := val.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		var ms int64
		if ms, err = cast.ToInt64E(v); err != nil {
			return 0, WrapKeyErr(key, err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	case string:
		// Env vars always come as strings.
		if ms, parseErr := strconv.ParseInt(v, 10, 64); parseErr == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
	}
	res, err = cast.ToDurationE(val)
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// GetSizeInBytes tries to retrieve the value associated with the key as a size in bytes.
// Both integers and human-readable strings (e.g. "64KB", "1Mi") are accepted.
func (va *ViperAdapter) GetSizeInBytes(key string) (ByteSize, error) {
	val := va.viper.Get(key)
	if val == nil {
		return 0, nil
	}
	switch v := val.(type) {
	case string:
		if v == "" {
			return 0, nil
		}
		bs, err := parseByteSizeFromString(v)
		return bs, WrapKeyErrIfNeeded(key, err)
	case float32, float64:
		f := cast.ToFloat64(v)
		if f < 0 {
			return 0, WrapKeyErr(key, fmt.Errorf("negative value is not allowed: %v", f))
		}
		return ByteSize(f), nil
	}
	num, err := cast.ToInt64E(val)
	if err != nil {
		return 0, WrapKeyErr(key, err)
	}
	if num < 0 {
		return 0, WrapKeyErr(key, fmt.Errorf("negative value is not allowed: %d", num))
	}
	return ByteSize(num), nil
}

// UnmarshalKey takes a single key and unmarshals it into a Struct.
func (va *ViperAdapter) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) (err error) {
	options := make([]viper.DecoderConfigOption, len(opts))
	for i, opt := range opts {
		options[i] = viper.DecoderConfigOption(opt)
	}
	err = va.viper.UnmarshalKey(key, rawVal, options...)
	err = WrapKeyErrIfNeeded(key, err)
	return
}

// WrapKeyErr wraps error adding information about a key where this error occurs.
func (va *ViperAdapter) WrapKeyErr(key string, err error) error {
	return WrapKeyErr(key, err)
}
