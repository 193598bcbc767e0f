// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import "github.com/spf13/pflag"

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"addr":             "server.addr",
	"auth-mode":        "auth.mode",
	"session-duration": "auth.session_duration",
	"database-url":     "storage.database_url",
	"users-store":      "storage.users",
	"sessions-store":   "storage.sessions",
	"redis-addr":       "storage.redis.addr",
	"auto-migrate":     "storage.auto_migrate",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"metrics-addr":     "metrics.addr",
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "HTTP listen address")
	fs.String("auth-mode", "", "gate strategy (auth, basic_auth, session_auth, session_exp_auth, session_db_auth)")
	fs.String("session-duration", "", "session lifetime for expiring modes (e.g. 30m or seconds)")
	fs.String("database-url", "", "PostgreSQL connection string")
	fs.String("users-store", "", "user repository (memory, postgres)")
	fs.String("sessions-store", "", "session repository (none, memory, postgres, redis)")
	fs.String("redis-addr", "", "redis address for the redis session store")
	fs.Bool("auto-migrate", false, "apply database migrations on startup")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (json, text)")
	fs.String("metrics-addr", "", "observability listen address, empty to disable")
}
