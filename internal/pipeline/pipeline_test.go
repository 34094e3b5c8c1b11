package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
	"github.com/chrisedeson/weather-energy-pipeline/internal/observability"
	"github.com/chrisedeson/weather-energy-pipeline/internal/store"
)

var errUpstream = errors.New("upstream failure")

var testCities = []domain.CityDescriptor{
	{Name: "New York", State: "NY", NOAAStationID: "GHCND:USW00094728", EIARegionID: "NYIS"},
	{Name: "Chicago", State: "IL", NOAAStationID: "GHCND:USW00094846", EIARegionID: "PJM"},
	{Name: "Houston", State: "TX", NOAAStationID: "GHCND:USW00012960", EIARegionID: "ERCO"},
}

// fakeWeather serves canned rows per city, failing the cities in failCities.
type fakeWeather struct {
	mu         sync.Mutex
	calls      int
	failCities map[string]bool
}

func (f *fakeWeather) FetchDaily(_ context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.WeatherObservation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failCities[city.Name] {
		return nil, errUpstream
	}
	var rows []domain.WeatherObservation
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, domain.WeatherObservation{Date: d, City: city.Name, TMaxF: 80, TMinF: 60})
	}
	return rows, nil
}

type fakeEnergy struct {
	mu         sync.Mutex
	calls      int
	failCities map[string]bool
	empty      bool
}

func (f *fakeEnergy) FetchDaily(_ context.Context, city domain.CityDescriptor, start, end time.Time) ([]domain.EnergyObservation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failCities[city.Name] {
		return nil, errUpstream
	}
	if f.empty {
		return nil, nil
	}
	var rows []domain.EnergyObservation
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, domain.EnergyObservation{Date: d, City: city.Name, EnergyMWh: 1000})
	}
	return rows, nil
}

// stubDetector flags every row whose energy is negative.
type stubDetector struct{}

func (stubDetector) Detect(records []domain.MergedRecord) []domain.AnomalyRecord {
	var flagged []domain.AnomalyRecord
	for _, r := range records {
		if r.EnergyConsumption < 0 {
			flagged = append(flagged, r)
		}
	}
	return flagged
}

func newTestPipeline(t *testing.T, weather WeatherSource, energy EnergySource) (*Pipeline, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	p := New(Options{
		Weather:          weather,
		Energy:           energy,
		Store:            st,
		Detector:         stubDetector{},
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:          observability.NewMetricsForTesting(),
		Clock:            clockwork.NewFakeClockAt(time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)),
		Cities:           testCities,
		FetchDays:        3,
		FetchConcurrency: 2,
	})
	return p, st
}

func TestWindow(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

	start, end := p.Window()

	assert.Equal(t, time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), end, "window ends yesterday")
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), start)
}

func TestRunFetch(t *testing.T) {
	t.Run("persists per-city artifacts and concatenations", func(t *testing.T) {
		weather := &fakeWeather{}
		energy := &fakeEnergy{}
		p, st := newTestPipeline(t, weather, energy)

		require.NoError(t, p.RunFetch(context.Background()))

		assert.Equal(t, 3, weather.calls)
		assert.Equal(t, 3, energy.calls)

		allWeather, err := st.ReadAllWeather()
		require.NoError(t, err)
		assert.Len(t, allWeather, 3*4, "3 cities x 4 days inclusive window")

		allEnergy, err := st.ReadAllEnergy()
		require.NoError(t, err)
		assert.Len(t, allEnergy, 3*4)
	})

	t.Run("concatenation follows config city order", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

		require.NoError(t, p.RunFetch(context.Background()))

		allWeather, err := st.ReadAllWeather()
		require.NoError(t, err)

		var cityOrder []string
		for _, r := range allWeather {
			if len(cityOrder) == 0 || cityOrder[len(cityOrder)-1] != r.City {
				cityOrder = append(cityOrder, r.City)
			}
		}
		assert.Equal(t, []string{"New York", "Chicago", "Houston"}, cityOrder)
	})

	t.Run("failed city is skipped without failing the stage", func(t *testing.T) {
		weather := &fakeWeather{failCities: map[string]bool{"Chicago": true}}
		p, st := newTestPipeline(t, weather, &fakeEnergy{})

		require.NoError(t, p.RunFetch(context.Background()))

		allWeather, err := st.ReadAllWeather()
		require.NoError(t, err)
		assert.Len(t, allWeather, 2*4, "only the two healthy cities contribute")
		for _, r := range allWeather {
			assert.NotEqual(t, "Chicago", r.City)
		}

		allEnergy, err := st.ReadAllEnergy()
		require.NoError(t, err)
		assert.Len(t, allEnergy, 3*4, "energy for the failed weather city still lands")
	})

	t.Run("zero-row source counts as a city failure", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{empty: true})

		require.NoError(t, p.RunFetch(context.Background()))

		_, err := st.ReadAllEnergy()
		assert.ErrorIs(t, err, store.ErrNotFound, "no energy concatenation when every city was empty")

		_, err = st.ReadAllWeather()
		assert.NoError(t, err)
	})

	t.Run("every city failing still succeeds as a stage", func(t *testing.T) {
		weather := &fakeWeather{failCities: map[string]bool{"New York": true, "Chicago": true, "Houston": true}}
		energy := &fakeEnergy{failCities: map[string]bool{"New York": true, "Chicago": true, "Houston": true}}
		p, st := newTestPipeline(t, weather, energy)

		require.NoError(t, p.RunFetch(context.Background()))

		_, err := st.ReadAllWeather()
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRunMerge(t *testing.T) {
	t.Run("missing raw artifacts are a hard failure", func(t *testing.T) {
		p, _ := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

		err := p.RunMerge(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("joins fetched artifacts", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})
		require.NoError(t, p.RunFetch(context.Background()))

		require.NoError(t, p.RunMerge(context.Background()))

		merged, err := st.ReadMerged()
		require.NoError(t, err)
		assert.Len(t, merged, 3*4)
		assert.Equal(t, 70.0, merged[0].AvgTempF)
		assert.Equal(t, 20.0, merged[0].TempDeltaF)
		assert.Equal(t, 1000.0, merged[0].EnergyConsumption)
	})
}

func TestRunQuality(t *testing.T) {
	t.Run("missing merged dataset is a hard failure", func(t *testing.T) {
		p, _ := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

		err := p.RunQuality(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("writes the report artifact", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})
		require.NoError(t, st.WriteMerged([]domain.MergedRecord{
			{Date: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), City: "Houston", AvgTempF: 70, TempDeltaF: 20, EnergyConsumption: -500},
		}))

		require.NoError(t, p.RunQuality(context.Background()))
		assert.FileExists(t, st.QualityReportPath())
	})
}

func TestRunAnomaly(t *testing.T) {
	t.Run("missing merged dataset is a hard failure", func(t *testing.T) {
		p, _ := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

		err := p.RunAnomaly(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("artifact written even when nothing is flagged", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})
		require.NoError(t, st.WriteMerged([]domain.MergedRecord{
			{Date: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), City: "Houston", AvgTempF: 70, TempDeltaF: 20, EnergyConsumption: 1000},
		}))

		require.NoError(t, p.RunAnomaly(context.Background()))
		assert.FileExists(t, st.AnomaliesPath())
	})
}

func TestRun(t *testing.T) {
	t.Run("full run produces every artifact and flips readiness", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

		require.Error(t, p.CheckReadiness(context.Background()), "not ready before any run")

		require.NoError(t, p.Run(context.Background()))

		assert.NoError(t, p.CheckReadiness(context.Background()))
		assert.FileExists(t, st.MergedPath())
		assert.FileExists(t, st.QualityReportPath())
		assert.FileExists(t, st.AnomaliesPath())
	})

	t.Run("rerun overwrites rather than appends", func(t *testing.T) {
		p, st := newTestPipeline(t, &fakeWeather{}, &fakeEnergy{})

		require.NoError(t, p.Run(context.Background()))
		first, err := st.ReadMerged()
		require.NoError(t, err)

		require.NoError(t, p.Run(context.Background()))
		second, err := st.ReadMerged()
		require.NoError(t, err)

		assert.Equal(t, first, second, "identical input must not duplicate rows")
	})

	t.Run("stage failure names the stage and leaves pipeline not ready", func(t *testing.T) {
		// Every city fails both sources: fetch absorbs that, but merge then
		// has no raw artifacts to load.
		all := map[string]bool{"New York": true, "Chicago": true, "Houston": true}
		p, _ := newTestPipeline(t, &fakeWeather{failCities: all}, &fakeEnergy{failCities: all})

		err := p.Run(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "merge stage")
		assert.Error(t, p.CheckReadiness(context.Background()))
	})
}
