package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	FormatTfWM   = "tfwm"
	FormatGTFSRT = "gtfsrt"
)

type Config struct {
	APIBaseURL string `yaml:"apiBaseURL" validate:"required,url"`
	AppID      string `yaml:"appId"`
	AppKey     string `yaml:"appKey"`
	FeedFormat string `yaml:"feedFormat" validate:"oneof=tfwm gtfsrt"`
	GTFSRTPath string `yaml:"gtfsrtTripUpdatesPath" validate:"required_if=FeedFormat gtfsrt"`

	PollIntervalSec  int    `yaml:"pollIntervalSec" validate:"gt=0"`
	FetchTimeoutSec  int    `yaml:"fetchTimeoutSec" validate:"gt=0"`
	ProbeIntervalSec int    `yaml:"probeIntervalSec" validate:"gte=0"`
	ProbeAddr        string `yaml:"probeAddr"`

	ListenAddr  string   `yaml:"listenAddr" validate:"required"`
	CORSOrigins []string `yaml:"corsOrigins" validate:"min=1"`
	MetricsAddr string   `yaml:"metricsAddr"`

	NATSURL           string `yaml:"natsURL" validate:"omitempty,url"`
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix" validate:"required"`
	LogNATSSubjects   bool   `yaml:"logNATSSubjects"`

	DatabaseURL   string `yaml:"databaseURL"`
	CatalogDBName string `yaml:"catalogDBName"`
	CatalogSeed   string `yaml:"catalogSeed" validate:"excluded_without=DatabaseURL"`

	TZ       string         `yaml:"tz"`
	Location *time.Location `yaml:"-"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

func defaults() *Config {
	return &Config{
		APIBaseURL:        "http://api.tfwm.org.uk/",
		FeedFormat:        FormatTfWM,
		GTFSRTPath:        "gtfs/trip_updates",
		PollIntervalSec:   120,
		FetchTimeoutSec:   15,
		ProbeIntervalSec:  10,
		ListenAddr:        ":8080",
		CORSOrigins:       []string{"*"},
		NATSSubjectPrefix: "livetrack",
	}
}

// Load reads .env (if present), then the YAML file named by LIVETRACK_CONFIG
// (if set), then environment variables, which take precedence.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("LIVETRACK_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.ProbeAddr == "" {
		addr, err := hostPort(cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API_BASE_URL: %w", err)
		}
		cfg.ProbeAddr = addr
	}

	if cfg.TZ == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.TZ)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.APIBaseURL, "API_BASE_URL")
	setString(&cfg.AppID, "TFWM_APP_ID")
	setString(&cfg.AppKey, "TFWM_APP_KEY")
	if v := os.Getenv("FEED_FORMAT"); v != "" {
		cfg.FeedFormat = strings.ToLower(strings.TrimSpace(v))
	}
	setString(&cfg.GTFSRTPath, "GTFSRT_TRIP_UPDATES_PATH")

	for _, f := range []struct {
		key string
		dst *int
		min int
	}{
		{"POLL_INTERVAL_SEC", &cfg.PollIntervalSec, 1},
		{"FETCH_TIMEOUT_SEC", &cfg.FetchTimeoutSec, 1},
		{"PROBE_INTERVAL_SEC", &cfg.ProbeIntervalSec, 0},
	} {
		if v := os.Getenv(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < f.min {
				return fmt.Errorf("invalid %s: %q", f.key, v)
			}
			*f.dst = n
		}
	}

	setString(&cfg.ProbeAddr, "PROBE_ADDR")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.NATSSubjectPrefix, "NATS_SUBJECT_PREFIX")
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.CatalogDBName, "CATALOG_DB_NAME")
	// YAML file of lines and stops written into the catalog at startup.
	setString(&cfg.CatalogSeed, "CATALOG_SEED")
	setString(&cfg.TZ, "TZ")
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hostPort derives the TCP address to probe from the API base URL.
func hostPort(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
