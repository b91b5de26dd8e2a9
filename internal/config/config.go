// Package config defines the settings of a session store deployment and how
// they are loaded.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/swfrench/aerospike-session/store/aerospike"
)

// Supported values of Config.Backend.
const (
	BackendAerospike = "aerospike"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

const (
	maxBinNameLen = 15
	maxSetNameLen = 63
	// Sessions are stored with whole-second TTLs.
	minGlobalTimeoutMillis = 1000
)

// ErrInvalidConfig indicates that one or more settings are unknown or hold
// unusable values.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every recognized setting. Field tags name the keys used in
// YAML files and in the environment mapping table.
type Config struct {
	// Backend selects the session store implementation.
	Backend string `mapstructure:"backend"`
	// Namespace, SetName and BinName address session records in Aerospike.
	Namespace string `mapstructure:"namespace"`
	SetName   string `mapstructure:"set_name"`
	BinName   string `mapstructure:"bin_name"`
	Hostname  string `mapstructure:"hostname"`
	Port      int    `mapstructure:"port"`
	// GlobalTimeout is the session timeout in milliseconds. Records live for
	// GlobalTimeout/1000 whole seconds after their last read or write.
	GlobalTimeout int    `mapstructure:"global_timeout"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	// ConnectTimeout bounds the initial cluster connection, in milliseconds.
	// Zero leaves the client default in place.
	ConnectTimeout int `mapstructure:"connect_timeout"`
	// ScanRecordsPerSecond throttles enumeration scans. Negative disables the
	// throttle.
	ScanRecordsPerSecond int    `mapstructure:"scan_records_per_second"`
	RedisAddr            string `mapstructure:"redis_addr"`
	RedisPrefix          string `mapstructure:"redis_prefix"`
}

func defaults() map[string]any {
	return map[string]any{
		"backend":                 BackendAerospike,
		"namespace":               aerospike.DefaultNamespace,
		"set_name":                aerospike.DefaultSet,
		"bin_name":                aerospike.DefaultBin,
		"hostname":                "localhost",
		"port":                    3000,
		"global_timeout":          int(aerospike.DefaultTTL / time.Millisecond),
		"user":                    "",
		"password":                "",
		"connect_timeout":         0,
		"scan_records_per_second": aerospike.DefaultScanRecordsPerSecond,
		"redis_addr":              "localhost:6379",
		"redis_prefix":            "session",
	}
}

func (c *Config) validate() []error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalidConfig)...))
	}
	switch c.Backend {
	case BackendAerospike, BackendRedis, BackendMemory:
	default:
		invalid("unknown backend %q", c.Backend)
	}
	if c.Namespace == "" {
		invalid("namespace is empty")
	}
	if c.SetName == "" || len(c.SetName) > maxSetNameLen {
		invalid("set name %q must be 1-%d bytes", c.SetName, maxSetNameLen)
	}
	if c.BinName == "" || len(c.BinName) > maxBinNameLen {
		invalid("bin name %q must be 1-%d bytes", c.BinName, maxBinNameLen)
	}
	if c.Hostname == "" {
		invalid("hostname is empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		invalid("port %d out of range", c.Port)
	}
	if c.GlobalTimeout < minGlobalTimeoutMillis {
		invalid("global timeout %dms is less than %dms", c.GlobalTimeout, minGlobalTimeoutMillis)
	}
	if maxSecs := int(aerospike.MaxTTL / time.Second); c.GlobalTimeout/1000 > maxSecs {
		invalid("global timeout %dms exceeds %ds", c.GlobalTimeout, maxSecs)
	}
	if c.ConnectTimeout < 0 {
		invalid("connect timeout %dms is negative", c.ConnectTimeout)
	}
	if c.Backend == BackendRedis && c.RedisAddr == "" {
		invalid("redis address is empty")
	}
	return errs
}

// TTL returns the record TTL derived from GlobalTimeout, truncated to whole
// seconds.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.GlobalTimeout/1000) * time.Second
}

// StoreOptions returns the Aerospike store options described by c.
func (c *Config) StoreOptions() aerospike.Options {
	return aerospike.Options{
		Namespace:            c.Namespace,
		Set:                  c.SetName,
		Bin:                  c.BinName,
		TTL:                  c.TTL(),
		ScanRecordsPerSecond: c.ScanRecordsPerSecond,
	}
}

// ConnOptions returns the Aerospike connection options described by c.
func (c *Config) ConnOptions() aerospike.ConnOptions {
	return aerospike.ConnOptions{
		Hostname: c.Hostname,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Timeout:  time.Duration(c.ConnectTimeout) * time.Millisecond,
	}
}
