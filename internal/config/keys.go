package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	required bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "subject", typ: kString, env: "PAINLOG_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Subject = v.(string) },
		extract: func(cfg Config) any { return cfg.Subject },
	},
	{
		key: "server.host", typ: kString, env: "PAINLOG_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PAINLOG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "influxdb.host", typ: kString, env: "PAINLOG_INFLUXDB_HOST", required: true,
		apply:   func(cfg *Config, v any) { cfg.Influx.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Influx.Host },
	},
	{
		key: "influxdb.port", typ: kInt, env: "PAINLOG_INFLUXDB_PORT",
		apply:   func(cfg *Config, v any) { cfg.Influx.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Influx.Port },
	},
	{
		key: "influxdb.username", typ: kString, env: "PAINLOG_INFLUXDB_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Influx.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.Influx.Username },
	},
	{
		key: "influxdb.password", typ: kString, env: "PAINLOG_INFLUXDB_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Influx.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Influx.Password },
	},
	{
		key: "influxdb.database", typ: kString, env: "PAINLOG_INFLUXDB_DATABASE", required: true,
		apply:   func(cfg *Config, v any) { cfg.Influx.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Influx.Database },
	},
	{
		key: "influxdb.measurement", typ: kString, env: "PAINLOG_INFLUXDB_MEASUREMENT",
		apply:   func(cfg *Config, v any) { cfg.Influx.Measurement = v.(string) },
		extract: func(cfg Config) any { return cfg.Influx.Measurement },
	},
	{
		key: "influxdb.timeout", typ: kDuration, env: "PAINLOG_INFLUXDB_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Influx.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Influx.Timeout },
	},
	{
		key: "grafana.url", typ: kString, env: "PAINLOG_GRAFANA_URL", required: true,
		apply:   func(cfg *Config, v any) { cfg.Grafana.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Grafana.URL },
	},
	{
		key: "grafana.api_key", typ: kString, env: "PAINLOG_GRAFANA_API_KEY", required: true,
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Grafana.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Grafana.APIKey },
	},
	{
		key: "grafana.dashboard_uid", typ: kString, env: "PAINLOG_GRAFANA_DASHBOARD_UID",
		apply:   func(cfg *Config, v any) { cfg.Grafana.DashboardUID = v.(string) },
		extract: func(cfg Config) any { return cfg.Grafana.DashboardUID },
	},
	{
		key: "grafana.panel_id", typ: kInt, env: "PAINLOG_GRAFANA_PANEL_ID",
		apply:   func(cfg *Config, v any) { cfg.Grafana.PanelID = v.(int) },
		extract: func(cfg Config) any { return cfg.Grafana.PanelID },
	},
	{
		key: "grafana.pub_url", typ: kString, env: "PAINLOG_GRAFANA_PUB_URL",
		apply:   func(cfg *Config, v any) { cfg.Grafana.PubURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Grafana.PubURL },
	},
	{
		key: "grafana.embed_url", typ: kString, env: "PAINLOG_GRAFANA_EMBED_URL",
		apply:   func(cfg *Config, v any) { cfg.Grafana.EmbedURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Grafana.EmbedURL },
	},
	{
		key: "grafana.timeout", typ: kDuration, env: "PAINLOG_GRAFANA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Grafana.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Grafana.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAINLOG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PAINLOG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, keeping file value", "env", s.env, "value", raw, "error", err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				slog.Warn("could not parse duration from env var, keeping file value", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
