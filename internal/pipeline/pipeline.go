// Package pipeline sequences the batch stages: per-city fetch, merge,
// quality check, and anomaly detection. Each stage is independently
// invokable and idempotent; later runs overwrite prior artifacts.
//
// Failure policy: a city that yields no data is logged and skipped — it
// never fails the run. A missing upstream artifact (e.g. merged dataset
// absent when the quality stage runs) is a hard stage failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
	"github.com/chrisedeson/weather-energy-pipeline/internal/observability"
)

// ErrNoData marks a city fetch that succeeded but returned zero rows.
// Treated the same as exhausted retries: the city is skipped for that source.
var ErrNoData = errors.New("no data returned")

// WeatherSource fetches one city's daily weather observations.
type WeatherSource interface {
	FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.WeatherObservation, error)
}

// EnergySource fetches one city's daily demand observations.
type EnergySource interface {
	FetchDaily(ctx context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.EnergyObservation, error)
}

// Store persists and loads pipeline artifacts.
type Store interface {
	WriteCityWeather(city string, rows []domain.WeatherObservation) error
	WriteAllWeather(rows []domain.WeatherObservation) error
	WriteCityEnergy(city string, rows []domain.EnergyObservation) error
	WriteAllEnergy(rows []domain.EnergyObservation) error
	ReadAllWeather() ([]domain.WeatherObservation, error)
	ReadAllEnergy() ([]domain.EnergyObservation, error)
	WriteMerged(records []domain.MergedRecord) error
	ReadMerged() ([]domain.MergedRecord, error)
	WriteQualityReport(report domain.QualityReport) error
	WriteAnomalies(records []domain.AnomalyRecord) error
}

// Detector flags anomalous merged records.
type Detector interface {
	Detect(records []domain.MergedRecord) []domain.AnomalyRecord
}

// Options wires a Pipeline's collaborators and run parameters.
type Options struct {
	Weather  WeatherSource
	Energy   EnergySource
	Store    Store
	Detector Detector
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Clock    clockwork.Clock // nil for real time

	Cities           []domain.CityDescriptor
	FetchDays        int
	FetchConcurrency int
}

// Pipeline orchestrates the batch stages.
type Pipeline struct {
	weather  WeatherSource
	energy   EnergySource
	store    Store
	detector Detector
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock

	cities      []domain.CityDescriptor
	fetchDays   int
	concurrency int

	ready atomic.Bool
}

// New creates a Pipeline from Options.
func New(opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	concurrency := opts.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		weather:     opts.Weather,
		energy:      opts.Energy,
		store:       opts.Store,
		detector:    opts.Detector,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		clock:       clock,
		cities:      opts.Cities,
		fetchDays:   opts.FetchDays,
		concurrency: concurrency,
	}
}

// CheckReadiness returns nil once at least one full run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run executes all stages in order: fetch, merge, quality, anomaly.
func (p *Pipeline) Run(ctx context.Context) error {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for _, stage := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"fetch", p.RunFetch},
		{"merge", p.RunMerge},
		{"quality", p.RunQuality},
		{"anomaly", p.RunAnomaly},
	} {
		if err := stage.fn(ctx); err != nil {
			return fmt.Errorf("%s stage: %w", stage.name, err)
		}
	}

	p.ready.Store(true)
	return nil
}

// Window returns the fetch date range: the fetchDays-long window ending
// yesterday (UTC). Yesterday rather than today because both sources publish
// complete days with a lag.
func (p *Pipeline) Window() (start, end time.Time) {
	now := p.clock.Now().UTC()
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	start = end.AddDate(0, 0, -p.fetchDays)
	return start, end
}

func (p *Pipeline) observeStage(stage string) func() {
	start := p.clock.Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(p.clock.Since(start).Seconds())
	}
}
