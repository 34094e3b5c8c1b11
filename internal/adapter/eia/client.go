// Package eia fetches daily regional electricity demand from the EIA v2 API.
package eia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chrisedeson/weather-energy-pipeline/internal/adapter/fetchcache"
	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
	"github.com/chrisedeson/weather-energy-pipeline/internal/retry"
)

// DefaultBaseURL is the production EIA v2 daily region data route.
const DefaultBaseURL = "https://api.eia.gov/v2/electricity/rto/daily-region-data/data/"

// demandType is the reading-type code for end-user consumption. The same
// route also serves "NG" (net generation) and "TI" (total interchange),
// which can legitimately be negative and must not be mistaken for demand.
const demandType = "D"

// Source is the energy fetch contract, satisfied by Client and CachedClient.
type Source interface {
	FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.EnergyObservation, error)
}

// APIError is a non-2xx response from the EIA API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eia API error: status %d: %s", e.StatusCode, e.Body)
}

// Client fetches region-day demand readings with retry and a circuit breaker.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	policy     retry.Policy
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates an EIA client. The retry policy governs transient-failure
// behavior; pass retry.DefaultPolicy() in production.
func NewClient(apiKey string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: DefaultBaseURL,
		policy:  policy,
		breaker: retry.NewBreaker("eia"),
		logger:  logger,
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// FetchDaily retrieves demand readings for the city's grid region over
// [start, end] inclusive. Rows are filtered to the Demand reading type; when
// the response contains rows but none are demand-typed, all rows are kept and
// a warning is logged rather than failing the city outright, which can
// surface interchange values (negative under normal conditions) as
// consumption. The quality stage flags those as negative readings.
func (c *Client) FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.EnergyObservation, error) {
	policy := c.policy
	prior := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		if prior != nil {
			prior(attempt, err)
		}
		c.logger.Warn("energy fetch attempt failed",
			"city", city.Name, "region", city.EIARegionID, "attempt", attempt, "error", err)
	}

	rows, err := retry.Do(ctx, policy, c.breaker, func(ctx context.Context) ([]seriesRow, error) {
		return c.requestData(ctx, city.EIARegionID, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch energy for %s: %w", city.Name, err)
	}

	demand := filterDemand(rows)
	if len(demand) == 0 && len(rows) > 0 {
		c.logger.Warn("no demand-typed rows in energy response, using all reading types",
			"city", city.Name, "region", city.EIARegionID, "types", readingTypes(rows))
		demand = rows
	}

	return toObservations(city.Name, demand), nil
}

func (c *Client) requestData(ctx context.Context, regionID string, start, end time.Time) ([]seriesRow, error) {
	params := url.Values{
		"api_key":              {c.apiKey},
		"frequency":            {"daily"},
		"data[0]":              {"value"},
		"facets[respondent][]": {regionID},
		"start":                {start.Format(domain.DateLayout)},
		"end":                  {end.Format(domain.DateLayout)},
		"sort[0][column]":      {"period"},
		"sort[0][direction]":   {"asc"},
		"length":               {"5000"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("energy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload envelope
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return payload.Response.Data, nil
}

func filterDemand(rows []seriesRow) []seriesRow {
	demand := make([]seriesRow, 0, len(rows))
	for _, r := range rows {
		if r.Type == demandType {
			demand = append(demand, r)
		}
	}
	return demand
}

func readingTypes(rows []seriesRow) []string {
	seen := make(map[string]struct{})
	types := make([]string, 0, 4)
	for _, r := range rows {
		if _, ok := seen[r.Type]; ok {
			continue
		}
		seen[r.Type] = struct{}{}
		types = append(types, r.Type)
	}
	sort.Strings(types)
	return types
}

// toObservations maps rows to one observation per date, first reading wins.
func toObservations(cityName string, rows []seriesRow) []domain.EnergyObservation {
	seen := make(map[string]struct{}, len(rows))
	obs := make([]domain.EnergyObservation, 0, len(rows))
	for _, r := range rows {
		date, err := time.ParseInLocation(domain.DateLayout, r.Period, time.UTC)
		if err != nil {
			continue
		}
		if _, dup := seen[r.Period]; dup {
			continue
		}
		seen[r.Period] = struct{}{}
		obs = append(obs, domain.EnergyObservation{
			Date:      date,
			City:      cityName,
			EnergyMWh: float64(r.Value),
		})
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
	return obs
}

// EIA API response types.

type envelope struct {
	Response struct {
		Data []seriesRow `json:"data"`
	} `json:"response"`
}

type seriesRow struct {
	Period     string    `json:"period"` // YYYY-MM-DD
	Respondent string    `json:"respondent"`
	Type       string    `json:"type"` // "D", "NG", "TI"
	TypeName   string    `json:"type-name"`
	Value      jsonFloat `json:"value"`
	ValueUnits string    `json:"value-units"`
}

// jsonFloat tolerates the API's habit of quoting numeric values.
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// Quoted number: strip quotes and re-parse.
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return err
		}
		n = json.Number(s)
	}
	v, err := n.Float64()
	if err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

// CachedClient memoizes fetch results keyed by the region + date-range
// fingerprint. Empty results are not cached.
type CachedClient struct {
	inner Source
	cache *fetchcache.Cache[[]domain.EnergyObservation]
}

// NewCachedClient wraps a Source with fingerprint-keyed memoization.
func NewCachedClient(inner Source, maxEntries int) *CachedClient {
	return &CachedClient{
		inner: inner,
		cache: fetchcache.New[[]domain.EnergyObservation](maxEntries),
	}
}

func (c *CachedClient) FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.EnergyObservation, error) {
	key := fetchcache.Fingerprint("eia", city.EIARegionID, start, end)
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
