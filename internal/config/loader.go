package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is shared by every environment override. Variables carrying the
// prefix that are absent from the mapping table are rejected.
const EnvPrefix = "AEROSPIKE_SESSION_"

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	EnvPrefix + "BACKEND":                 "backend",
	EnvPrefix + "NAMESPACE":               "namespace",
	EnvPrefix + "SETNAME":                 "set_name",
	EnvPrefix + "BINNAME":                 "bin_name",
	EnvPrefix + "HOSTNAME":                "hostname",
	EnvPrefix + "PORT":                    "port",
	EnvPrefix + "GLOBAL_TIMEOUT":          "global_timeout",
	EnvPrefix + "USER":                    "user",
	EnvPrefix + "PASSWORD":                "password",
	EnvPrefix + "CONNECT_TIMEOUT":         "connect_timeout",
	EnvPrefix + "SCAN_RECORDS_PER_SECOND": "scan_records_per_second",
	EnvPrefix + "REDIS_ADDR":              "redis_addr",
	EnvPrefix + "REDIS_PREFIX":            "redis_prefix",
}

// Load builds a Config from the defaults, then the YAML file at path (if
// path is non-empty), then environ, which holds "KEY=value" entries as
// returned by os.Environ. All problems found are reported together.
func Load(path string, environ []string) (*Config, error) {
	var errs []error

	settings := defaults()
	if path != "" {
		if err := mergeFile(settings, path); err != nil {
			return nil, err
		}
	}
	errs = append(errs, mergeEnv(settings, environ)...)

	cfg := new(Config)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		errs = append(errs, fmt.Errorf("%v: %w", err, ErrInvalidConfig))
	} else {
		errs = append(errs, cfg.validate()...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func mergeFile(settings map[string]any, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var file map[string]any
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s (error: %v): %w", path, err, ErrInvalidConfig)
	}
	for k, v := range file {
		settings[k] = v
	}
	return nil
}

func mergeEnv(settings map[string]any, environ []string) []error {
	var unknown []string
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key, ok := envKeys[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		settings[key] = value
	}
	sort.Strings(unknown)
	var errs []error
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("unknown environment variable %s: %w", name, ErrInvalidConfig))
	}
	return errs
}
