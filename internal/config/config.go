package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Subject string
	Server  ServerConfig
	Influx  InfluxConfig
	Grafana GrafanaConfig
	Storage StorageConfig
	Log     LogConfig

	// Path is the config file the values were read from.
	Path string
}

type ServerConfig struct {
	Host string
	Port int
}

type InfluxConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	Measurement string
	Timeout     time.Duration
}

// Addr returns the base URL of the InfluxDB HTTP API. A port already present
// in Host takes precedence over Port.
func (c InfluxConfig) Addr() string {
	host := c.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	host = strings.TrimRight(host, "/")
	if u, err := url.Parse(host); err == nil && u.Port() != "" {
		return host
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

type GrafanaConfig struct {
	URL          string
	APIKey       string
	DashboardUID string
	PanelID      int
	PubURL       string
	EmbedURL     string
	Timeout      time.Duration
}

type StorageConfig struct {
	// DataDir holds the write journal. Empty disables it.
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Subject: "DefaultSubject",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Influx: InfluxConfig{
			Port:        8086,
			Measurement: "cluster_headache",
			Timeout:     5 * time.Second,
		},
		Grafana: GrafanaConfig{
			PubURL:  "#",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at path, then applies
// PAINLOG_* environment overrides.
//
// When path is empty, ./config.json is used if present, otherwise
// $XDG_CONFIG_HOME/painlog/config.json. A missing or malformed file is an
// error, as is any missing connection setting.
func Load(path string) (Config, error) {
	path = ResolvePath(path)
	b, err := newFileBackend(path, true)
	if err != nil {
		return Config{}, err
	}
	cfg, err := loadWith(b)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = path
	return cfg, nil
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if missing := missingRequired(cfg); len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func missingRequired(cfg Config) []string {
	var missing []string
	for _, s := range specs {
		if !s.required {
			continue
		}
		if v := s.extract(cfg); v == "" || v == 0 {
			missing = append(missing, s.key)
		}
	}
	return missing
}

// ResolvePath returns the config file path that Load would read.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return defaultConfigPath()
}

func defaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "painlog", "config.json")
}
