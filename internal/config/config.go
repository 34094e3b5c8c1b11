// Package config supplies the typed pipeline configuration: the ordered city
// list and run parameters from a YAML file, credentials and operational
// settings from the environment (with .env support for local runs).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
)

// Config holds all pipeline settings.
type Config struct {
	// Cities is the ordered list of tracked cities. Order is preserved
	// through fetch and persistence so runs are deterministic.
	Cities    []domain.CityDescriptor
	FetchDays int

	DataDir   string
	LogLevel  string
	LogFormat string

	// HTTPAddr enables the admin endpoints (/healthz, /readyz, /metrics)
	// while a run executes. Empty disables the listener.
	HTTPAddr string

	FetchConcurrency int
	FetchTimeout     time.Duration
	FetchCacheSize   int

	// Credentials for the two remote sources. Validated by
	// RequireCredentials on fetch-bearing commands only, so merge-only or
	// report-only invocations work without keys.
	NOAAAPIKey string
	EIAAPIKey  string
}

// cityFile is the on-disk YAML shape.
type cityFile struct {
	Cities []struct {
		Name          string `yaml:"name"`
		State         string `yaml:"state"`
		NOAAStationID string `yaml:"noaa_station_id"`
		EIARegionID   string `yaml:"eia_region_id"`
	} `yaml:"cities"`
	General struct {
		FetchDays int `yaml:"fetch_days"`
	} `yaml:"general"`
}

// Load reads the city file and environment settings, applying defaults where
// unset. A .env file in the working directory is loaded first when present.
func Load(citiesPath string) (*Config, error) {
	// Absent .env is normal outside local development.
	_ = godotenv.Load()

	raw, err := os.ReadFile(citiesPath)
	if err != nil {
		return nil, fmt.Errorf("read city config: %w", err)
	}
	var file cityFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse city config: %w", err)
	}

	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		FetchDays: file.General.FetchDays,

		DataDir:   envOrDefault("DATA_DIR", "data"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:  os.Getenv("HTTP_ADDR"),

		FetchConcurrency: envInt("FETCH_CONCURRENCY", 4),
		FetchTimeout:     fetchTimeout,
		FetchCacheSize:   envInt("FETCH_CACHE_SIZE", 64),

		NOAAAPIKey: os.Getenv("NOAA_API_KEY"),
		EIAAPIKey:  os.Getenv("EIA_API_KEY"),
	}

	if cfg.FetchDays <= 0 {
		cfg.FetchDays = 30
	}
	if cfg.FetchConcurrency < 1 {
		return nil, errors.New("FETCH_CONCURRENCY must be at least 1")
	}
	if cfg.FetchCacheSize < 1 {
		return nil, errors.New("FETCH_CACHE_SIZE must be at least 1")
	}

	for i, c := range file.Cities {
		if c.Name == "" {
			return nil, fmt.Errorf("city %d: name is required", i)
		}
		if c.NOAAStationID == "" {
			return nil, fmt.Errorf("city %q: noaa_station_id is required", c.Name)
		}
		if c.EIARegionID == "" {
			return nil, fmt.Errorf("city %q: eia_region_id is required", c.Name)
		}
		cfg.Cities = append(cfg.Cities, domain.CityDescriptor{
			Name:          c.Name,
			State:         c.State,
			NOAAStationID: c.NOAAStationID,
			EIARegionID:   c.EIARegionID,
		})
	}
	if len(cfg.Cities) == 0 {
		return nil, errors.New("city config lists no cities")
	}

	return cfg, nil
}

// RequireCredentials verifies both API keys are present. Absence is a
// configuration error reported at startup, never retried.
func (c *Config) RequireCredentials() error {
	if c.NOAAAPIKey == "" {
		return errors.New("NOAA_API_KEY is required")
	}
	if c.EIAAPIKey == "" {
		return errors.New("EIA_API_KEY is required")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}
