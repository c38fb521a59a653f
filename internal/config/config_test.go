package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"LIVETRACK_CONFIG", "API_BASE_URL", "TFWM_APP_ID", "TFWM_APP_KEY", "FEED_FORMAT",
	"GTFSRT_TRIP_UPDATES_PATH", "POLL_INTERVAL_SEC", "FETCH_TIMEOUT_SEC", "PROBE_INTERVAL_SEC",
	"PROBE_ADDR", "LISTEN_ADDR", "CORS_ORIGINS", "METRICS_ADDR", "NATS_URL",
	"NATS_SUBJECT_PREFIX", "LOG_NATS_SUBJECTS", "DATABASE_URL", "CATALOG_DB_NAME", "CATALOG_SEED", "TZ",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://api.tfwm.org.uk/", cfg.APIBaseURL)
	assert.Equal(t, FormatTfWM, cfg.FeedFormat)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval())
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval())
	assert.Equal(t, "api.tfwm.org.uk:80", cfg.ProbeAddr)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "livetrack", cfg.NATSSubjectPrefix)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, time.Local, cfg.Location)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "https://feeds.example.org/rt")
	t.Setenv("FEED_FORMAT", "GTFSRT")
	t.Setenv("POLL_INTERVAL_SEC", "30")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_NATS_SUBJECTS", "yes")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("TZ", "Europe/London")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, FormatGTFSRT, cfg.FeedFormat)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, "feeds.example.org:443", cfg.ProbeAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.LogNATSSubjects)
	assert.Equal(t, "Europe/London", cfg.Location.String())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "livetrack.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
appId: from-file
pollIntervalSec: 60
listenAddr: ":9000"
databaseURL: sqlite://gtfs.db
catalogSeed: catalog.yaml
`), 0o600))
	t.Setenv("LIVETRACK_CONFIG", path)
	t.Setenv("LISTEN_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.AppID)
	assert.Equal(t, time.Minute, cfg.PollInterval())
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "sqlite://gtfs.db", cfg.DatabaseURL)
	assert.Equal(t, "catalog.yaml", cfg.CatalogSeed)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad interval", map[string]string{"POLL_INTERVAL_SEC": "soon"}},
		{"zero interval", map[string]string{"POLL_INTERVAL_SEC": "0"}},
		{"negative probe", map[string]string{"PROBE_INTERVAL_SEC": "-1"}},
		{"unknown format", map[string]string{"FEED_FORMAT": "siri"}},
		{"bad tz", map[string]string{"TZ": "Mars/Olympus"}},
		{"bad nats url", map[string]string{"NATS_URL": "not a url"}},
		{"missing file", map[string]string{"LIVETRACK_CONFIG": "/nonexistent/livetrack.yml"}},
		{"seed without database", map[string]string{"CATALOG_SEED": "catalog.yaml"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestHostPort(t *testing.T) {
	got, err := hostPort("http://localhost:8081/api")
	require.NoError(t, err)
	assert.Equal(t, "localhost:8081", got)

	_, err = hostPort("/relative")
	assert.Error(t, err)
}
