// Package noaa fetches daily GHCND temperature observations from the NOAA
// Climate Data Online (CDO) v2 API.
package noaa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chrisedeson/weather-energy-pipeline/internal/adapter/fetchcache"
	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
	"github.com/chrisedeson/weather-energy-pipeline/internal/retry"
)

// DefaultBaseURL is the production CDO v2 data endpoint.
const DefaultBaseURL = "https://www.ncei.noaa.gov/cdo-web/api/v2/data"

// Source is the weather fetch contract, satisfied by Client and CachedClient.
type Source interface {
	FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.WeatherObservation, error)
}

// APIError is a non-2xx response from the CDO API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("noaa API error: status %d: %s", e.StatusCode, e.Body)
}

// Client fetches station-day TMAX/TMIN readings with retry and a circuit
// breaker, pivoting the point list into one observation per date.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	policy     retry.Policy
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a CDO client. The retry policy governs transient-failure
// behavior; pass retry.DefaultPolicy() in production.
func NewClient(token string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: DefaultBaseURL,
		policy:  policy,
		breaker: retry.NewBreaker("noaa"),
		logger:  logger,
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// FetchDaily retrieves TMAX/TMIN for the city's station over [start, end]
// inclusive. A 2xx response with an empty result set is success with zero
// rows, not a retryable failure. Temperatures are converted from tenths of
// °C to °F on the way out.
func (c *Client) FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.WeatherObservation, error) {
	policy := c.policy
	prior := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		if prior != nil {
			prior(attempt, err)
		}
		c.logger.Warn("weather fetch attempt failed",
			"city", city.Name, "station", city.NOAAStationID, "attempt", attempt, "error", err)
	}

	points, err := retry.Do(ctx, policy, c.breaker, func(ctx context.Context) ([]dataPoint, error) {
		return c.requestData(ctx, city.NOAAStationID, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch weather for %s: %w", city.Name, err)
	}

	return pivot(city.Name, points), nil
}

func (c *Client) requestData(ctx context.Context, stationID string, start, end time.Time) ([]dataPoint, error) {
	params := url.Values{
		"datasetid":  {"GHCND"},
		"stationid":  {stationID},
		"datatypeid": {"TMAX,TMIN"},
		"startdate":  {start.Format(domain.DateLayout)},
		"enddate":    {end.Format(domain.DateLayout)},
		"limit":      {"1000"},
		"units":      {"standard"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return payload.Results, nil
}

// pivot reshapes the flat point list into one row per date with both TMAX and
// TMIN columns, NaN where a reading type is absent. The first reading per
// (date, type) wins. Output is sorted by date ascending.
func pivot(cityName string, points []dataPoint) []domain.WeatherObservation {
	byDate := make(map[string]*domain.WeatherObservation)
	for _, p := range points {
		date, ok := p.date()
		if !ok {
			continue
		}
		key := date.Format(domain.DateLayout)

		obs, exists := byDate[key]
		if !exists {
			obs = &domain.WeatherObservation{
				Date:  date,
				City:  cityName,
				TMaxF: math.NaN(),
				TMinF: math.NaN(),
			}
			byDate[key] = obs
		}

		switch p.DataType {
		case "TMAX":
			if math.IsNaN(obs.TMaxF) {
				obs.TMaxF = tenthsCelsiusToFahrenheit(p.Value)
			}
		case "TMIN":
			if math.IsNaN(obs.TMinF) {
				obs.TMinF = tenthsCelsiusToFahrenheit(p.Value)
			}
		}
	}

	rows := make([]domain.WeatherObservation, 0, len(byDate))
	for _, obs := range byDate {
		rows = append(rows, *obs)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

func tenthsCelsiusToFahrenheit(v float64) float64 {
	return v*0.18 + 32
}

// CDO API response types.

type response struct {
	Results []dataPoint `json:"results"`
}

type dataPoint struct {
	Date     string  `json:"date"` // "2024-05-01T00:00:00"
	DataType string  `json:"datatype"`
	Station  string  `json:"station"`
	Value    float64 `json:"value"`
}

// date parses the CDO timestamp, tolerating a bare calendar date.
func (p dataPoint) date() (time.Time, bool) {
	if len(p.Date) >= len(domain.DateLayout) {
		if t, err := time.ParseInLocation(domain.DateLayout, p.Date[:len(domain.DateLayout)], time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CachedClient memoizes fetch results keyed by the station + date-range
// fingerprint. Empty results are not cached so a later stage re-run can pick
// up late-arriving data.
type CachedClient struct {
	inner Source
	cache *fetchcache.Cache[[]domain.WeatherObservation]
}

// NewCachedClient wraps a Source with fingerprint-keyed memoization.
func NewCachedClient(inner Source, maxEntries int) *CachedClient {
	return &CachedClient{
		inner: inner,
		cache: fetchcache.New[[]domain.WeatherObservation](maxEntries),
	}
}

func (c *CachedClient) FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.WeatherObservation, error) {
	key := fetchcache.Fingerprint("noaa", city.NOAAStationID, start, end)
	if rows, ok := c.cache.Get(key); ok {
		return rows, nil
	}
	rows, err := c.inner.FetchDaily(ctx, city, start, end)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		c.cache.Put(key, rows)
	}
	return rows, nil
}
