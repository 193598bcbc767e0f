// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatekeeper/internal/xdg"
)

// EnvPrefix namespaces environment overrides. Nested keys use a double
// underscore: GATEKEEPER_AUTH__SESSION_NAME sets auth.session_name.
const EnvPrefix = "GATEKEEPER_"

// legacyEnv maps unprefixed variable names still honoured for compatibility.
var legacyEnv = map[string]string{
	"AUTH_TYPE":        "auth.mode",
	"SESSION_NAME":     "auth.session_name",
	"SESSION_DURATION": "auth.session_duration",
	"DATABASE_URL":     "storage.database_url",
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an explicit config path. Empty falls back to the XDG default if present.
	File string
	// Flags are applied last. Only flags the user changed take effect.
	Flags *pflag.FlagSet
}

// Loaded is a configuration and where it came from.
type Loaded struct {
	Config Config
	// File is the config file read, or empty.
	File string
}

// Load builds the effective configuration and validates it.
func Load(opts LoadOptions) (*Loaded, error) {
	k := koanf.New(".")

	path := opts.File
	if path == "" {
		if p, ok := xdg.DefaultConfigFile(); ok {
			path = p
		}
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	legacy := env.Provider("", ".", func(s string) string { return legacyEnv[s] })
	if err := k.Load(legacy, nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := unmarshal(k, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, File: path}, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func unmarshal(k *koanf.Koanf, cfg *Config) error {
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationHook(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			// Lists from a later source replace the defaults instead of merging index by index.
			ZeroFields: true,
		},
	})
	if err != nil {
		return oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return nil
}

// ToMap renders the configuration with its koanf key names.
func (c Config) ToMap() (map[string]any, error) {
	out := map[string]any{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "koanf", Result: &out})
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	if err := dec.Decode(c); err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Storage.DatabaseURL != "" {
		if u, err := url.Parse(c.Storage.DatabaseURL); err == nil {
			c.Storage.DatabaseURL = u.Redacted()
		} else {
			c.Storage.DatabaseURL = "***"
		}
	}
	if c.Storage.Redis.Password != "" {
		c.Storage.Redis.Password = "***"
	}
	return c
}
