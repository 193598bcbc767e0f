// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
)

// Duration is a time.Duration that also accepts a bare number of seconds.
type Duration time.Duration

// ParseDuration accepts Go duration syntax ("90m") or integer seconds ("3600").
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(n) * time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, oops.Code("CONFIG_INVALID_DURATION").With("value", s).Wrap(err)
	}
	return Duration(d), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// JSONSchema describes the accepted forms.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^-?(\d+|(\d+(\.\d+)?(ns|us|µs|ms|s|m|h))+)$`},
			{Type: "integer"},
		},
		Description: "Go duration (e.g. 30m) or seconds",
	}
}

var durationType = reflect.TypeFor[Duration]()

// durationHook decodes strings and numbers into Duration. Numbers are seconds.
func durationHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseDuration(v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case uint64:
			return Duration(time.Duration(v) * time.Second), nil //nolint:gosec // config values are small
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case Duration:
			return v, nil
		default:
			return data, nil
		}
	}
}
