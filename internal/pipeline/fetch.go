package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
)

// cityResult carries one city's fetch outcome for both sources.
type cityResult struct {
	weather    []domain.WeatherObservation
	weatherErr error
	energy     []domain.EnergyObservation
	energyErr  error
}

// RunFetch executes the fetch stage: per-city weather and energy retrieval
// over the run window, persisted as per-city raw artifacts plus all-cities
// concatenations. Cities run concurrently up to the configured bound, but
// results are regrouped in config city order before persistence so output is
// deterministic. Per-city failures are absorbed here and never fail the stage.
func (p *Pipeline) RunFetch(ctx context.Context) error {
	defer p.observeStage("fetch")()

	start, end := p.Window()
	p.logger.Info("fetch stage started",
		"cities", len(p.cities),
		"start", start.Format(domain.DateLayout),
		"end", end.Format(domain.DateLayout),
		"concurrency", p.concurrency,
	)

	results := p.fetchAll(ctx, start, end)
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		weatherAll    []domain.WeatherObservation
		energyAll     []domain.EnergyObservation
		weatherFailed []string
		energyFailed  []string
	)

	for i, city := range p.cities {
		res := results[i]

		if res.weatherErr != nil {
			p.logger.Warn("no weather data for city", "city", city.Name, "error", res.weatherErr)
			p.metrics.FetchRequests.WithLabelValues("noaa", outcomeLabel(res.weatherErr)).Inc()
			p.metrics.CitiesFailed.WithLabelValues("noaa").Inc()
			weatherFailed = append(weatherFailed, city.Name)
		} else {
			p.metrics.FetchRequests.WithLabelValues("noaa", "success").Inc()
			p.metrics.FetchRows.WithLabelValues("noaa").Add(float64(len(res.weather)))
			if err := p.store.WriteCityWeather(city.Name, res.weather); err != nil {
				return err
			}
			weatherAll = append(weatherAll, res.weather...)
		}

		if res.energyErr != nil {
			p.logger.Warn("no energy data for city", "city", city.Name, "error", res.energyErr)
			p.metrics.FetchRequests.WithLabelValues("eia", outcomeLabel(res.energyErr)).Inc()
			p.metrics.CitiesFailed.WithLabelValues("eia").Inc()
			energyFailed = append(energyFailed, city.Name)
		} else {
			p.metrics.FetchRequests.WithLabelValues("eia", "success").Inc()
			p.metrics.FetchRows.WithLabelValues("eia").Add(float64(len(res.energy)))
			if err := p.store.WriteCityEnergy(city.Name, res.energy); err != nil {
				return err
			}
			energyAll = append(energyAll, res.energy...)
		}
	}

	if len(weatherAll) > 0 {
		if err := p.store.WriteAllWeather(weatherAll); err != nil {
			return err
		}
	}
	if len(energyAll) > 0 {
		if err := p.store.WriteAllEnergy(energyAll); err != nil {
			return err
		}
	}

	p.logger.Info("fetch stage complete",
		"weather_rows", len(weatherAll),
		"weather_cities_ok", len(p.cities)-len(weatherFailed),
		"weather_cities_failed", weatherFailed,
		"energy_rows", len(energyAll),
		"energy_cities_ok", len(p.cities)-len(energyFailed),
		"energy_cities_failed", energyFailed,
	)
	return nil
}

// fetchAll fans the per-city fetches out over a bounded worker pool. Each
// city's fetch shares no mutable state with any other; results land in a
// per-city slot, so the pool introduces no ordering effects.
func (p *Pipeline) fetchAll(ctx context.Context, start, end time.Time) []cityResult {
	results := make([]cityResult, len(p.cities))
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, city := range p.cities {
		wg.Add(1)
		go func(i int, city domain.CityDescriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = p.fetchCity(ctx, city, start, end)
		}(i, city)
	}
	wg.Wait()

	return results
}

// fetchCity retrieves both sources for one city. A successful request with
// zero rows is normalized to ErrNoData so downstream reporting treats it
// like exhausted retries.
func (p *Pipeline) fetchCity(ctx context.Context, city domain.CityDescriptor, start, end time.Time) cityResult {
	var res cityResult

	res.weather, res.weatherErr = p.weather.FetchDaily(ctx, city, start, end)
	if res.weatherErr == nil && len(res.weather) == 0 {
		res.weatherErr = ErrNoData
	}

	res.energy, res.energyErr = p.energy.FetchDaily(ctx, city, start, end)
	if res.energyErr == nil && len(res.energy) == 0 {
		res.energyErr = ErrNoData
	}

	return res
}

func outcomeLabel(err error) string {
	if errors.Is(err, ErrNoData) {
		return "empty"
	}
	return "error"
}
