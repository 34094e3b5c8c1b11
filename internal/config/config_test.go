package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCityYAML = `
cities:
  - name: New York
    state: NY
    noaa_station_id: "GHCND:USW00094728"
    eia_region_id: NYIS
  - name: Houston
    state: TX
    noaa_station_id: "GHCND:USW00012960"
    eia_region_id: ERCO
general:
  fetch_days: 14
`

func writeCityFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("valid file with defaults", func(t *testing.T) {
		cfg, err := Load(writeCityFile(t, validCityYAML))

		require.NoError(t, err)
		require.Len(t, cfg.Cities, 2)

		assert.Equal(t, "New York", cfg.Cities[0].Name)
		assert.Equal(t, "NY", cfg.Cities[0].State)
		assert.Equal(t, "GHCND:USW00094728", cfg.Cities[0].NOAAStationID)
		assert.Equal(t, "NYIS", cfg.Cities[0].EIARegionID)
		assert.Equal(t, "ERCO", cfg.Cities[1].EIARegionID)

		assert.Equal(t, 14, cfg.FetchDays)
		assert.Equal(t, "data", cfg.DataDir)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, 4, cfg.FetchConcurrency)
		assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
		assert.Equal(t, 64, cfg.FetchCacheSize)
	})

	t.Run("city order preserved from file", func(t *testing.T) {
		cfg, err := Load(writeCityFile(t, validCityYAML))

		require.NoError(t, err)
		assert.Equal(t, "New York", cfg.Cities[0].Name)
		assert.Equal(t, "Houston", cfg.Cities[1].Name)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DATA_DIR", "/var/lib/pipeline")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "text")
		t.Setenv("HTTP_ADDR", ":9090")
		t.Setenv("FETCH_CONCURRENCY", "8")
		t.Setenv("FETCH_TIMEOUT", "30s")
		t.Setenv("FETCH_CACHE_SIZE", "128")
		t.Setenv("NOAA_API_KEY", "noaa-secret")
		t.Setenv("EIA_API_KEY", "eia-secret")

		cfg, err := Load(writeCityFile(t, validCityYAML))

		require.NoError(t, err)
		assert.Equal(t, "/var/lib/pipeline", cfg.DataDir)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, ":9090", cfg.HTTPAddr)
		assert.Equal(t, 8, cfg.FetchConcurrency)
		assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
		assert.Equal(t, 128, cfg.FetchCacheSize)
		assert.Equal(t, "noaa-secret", cfg.NOAAAPIKey)
		assert.Equal(t, "eia-secret", cfg.EIAAPIKey)
	})

	t.Run("missing fetch_days falls back to 30", func(t *testing.T) {
		cfg, err := Load(writeCityFile(t, `
cities:
  - name: Austin
    state: TX
    noaa_station_id: "GHCND:USW00013904"
    eia_region_id: ERCO
`))

		require.NoError(t, err)
		assert.Equal(t, 30, cfg.FetchDays)
	})

	t.Run("file missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read city config")
	})

	t.Run("malformed YAML", func(t *testing.T) {
		_, err := Load(writeCityFile(t, "cities: [not: closed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse city config")
	})

	t.Run("no cities", func(t *testing.T) {
		_, err := Load(writeCityFile(t, "general:\n  fetch_days: 7\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no cities")
	})

	t.Run("city missing station id", func(t *testing.T) {
		_, err := Load(writeCityFile(t, `
cities:
  - name: Austin
    state: TX
    eia_region_id: ERCO
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "noaa_station_id")
	})

	t.Run("city missing region id", func(t *testing.T) {
		_, err := Load(writeCityFile(t, `
cities:
  - name: Austin
    state: TX
    noaa_station_id: "GHCND:USW00013904"
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "eia_region_id")
	})

	t.Run("invalid fetch timeout", func(t *testing.T) {
		t.Setenv("FETCH_TIMEOUT", "fast")
		_, err := Load(writeCityFile(t, validCityYAML))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FETCH_TIMEOUT")
	})

	t.Run("invalid concurrency", func(t *testing.T) {
		t.Setenv("FETCH_CONCURRENCY", "0")
		_, err := Load(writeCityFile(t, validCityYAML))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FETCH_CONCURRENCY")
	})
}

func TestRequireCredentials(t *testing.T) {
	t.Run("both present", func(t *testing.T) {
		cfg := &Config{NOAAAPIKey: "a", EIAAPIKey: "b"}
		assert.NoError(t, cfg.RequireCredentials())
	})

	t.Run("missing NOAA key", func(t *testing.T) {
		cfg := &Config{EIAAPIKey: "b"}
		err := cfg.RequireCredentials()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NOAA_API_KEY")
	})

	t.Run("missing EIA key", func(t *testing.T) {
		cfg := &Config{NOAAAPIKey: "a"}
		err := cfg.RequireCredentials()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "EIA_API_KEY")
	})
}
