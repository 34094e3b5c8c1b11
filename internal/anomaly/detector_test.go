package anomaly

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC)
}

// cityRows builds n unremarkable rows for a city, one per day.
func cityRows(city string, n int) []domain.MergedRecord {
	rows := make([]domain.MergedRecord, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, domain.MergedRecord{
			Date:              day(i + 1),
			City:              city,
			AvgTempF:          70 + float64(i%5),
			TempDeltaF:        18 + float64(i%3),
			EnergyConsumption: 1000 + float64(i*10),
		})
	}
	return rows
}

func TestDetector_FlagsObviousOutlier(t *testing.T) {
	rows := cityRows("Alpha", 15)
	outlier := domain.MergedRecord{
		Date:              day(16),
		City:              "Alpha",
		AvgTempF:          71,
		TempDeltaF:        19,
		EnergyConsumption: -500,
	}
	rows = append(rows, outlier)

	d := NewDetector(testLogger())
	flagged := d.Detect(rows)

	require.Len(t, flagged, 1, "16 rows at the default contamination flags exactly one")
	assert.Equal(t, outlier, flagged[0])
}

func TestDetector_SkipsSmallCities(t *testing.T) {
	t.Run("nine rows is below the minimum", func(t *testing.T) {
		d := NewDetector(testLogger())
		assert.Empty(t, d.Detect(cityRows("Beta", 9)))
	})

	t.Run("ten rows is eligible", func(t *testing.T) {
		d := NewDetector(testLogger())
		flagged := d.Detect(cityRows("Beta", 10))
		assert.Len(t, flagged, 1, "ceil(0.02*10) = 1")
	})

	t.Run("small city skipped while large city still scored", func(t *testing.T) {
		rows := append(cityRows("Alpha", 20), cityRows("Beta", 8)...)

		d := NewDetector(testLogger())
		flagged := d.Detect(rows)

		require.NotEmpty(t, flagged)
		for _, r := range flagged {
			assert.Equal(t, "Alpha", r.City)
		}
	})

	t.Run("mixed dataset flags only the eligible city's outlier", func(t *testing.T) {
		alpha := cityRows("Alpha", 15)
		alpha = append(alpha, domain.MergedRecord{
			Date:              day(16),
			City:              "Alpha",
			AvgTempF:          70,
			TempDeltaF:        18,
			EnergyConsumption: -500,
		})
		rows := append(alpha, cityRows("Beta", 8)...)

		d := NewDetector(testLogger())
		flagged := d.Detect(rows)

		require.Len(t, flagged, 1)
		assert.Equal(t, "Alpha", flagged[0].City)
		assert.Equal(t, -500.0, flagged[0].EnergyConsumption)
	})
}

func TestDetector_IncompleteRowsExcluded(t *testing.T) {
	// 12 rows, 3 of them with a missing feature: only 9 complete rows
	// remain, which is below the per-city minimum.
	rows := cityRows("Alpha", 12)
	rows[2].AvgTempF = math.NaN()
	rows[5].TempDeltaF = math.NaN()
	rows[8].EnergyConsumption = math.NaN()

	d := NewDetector(testLogger())

	assert.Empty(t, d.Detect(rows))
}

func TestDetector_DeterministicAcrossRuns(t *testing.T) {
	rows := append(cityRows("Alpha", 40), cityRows("Beta", 40)...)
	rows[7].EnergyConsumption = -2000
	rows[55].AvgTempF = 140

	first := NewDetector(testLogger()).Detect(rows)
	second := NewDetector(testLogger()).Detect(rows)

	require.NotEmpty(t, first)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("runs disagree (-first +second):\n%s", diff)
	}
}

func TestDetector_PerCityModels(t *testing.T) {
	// Beta's readings sit an order of magnitude above Alpha's. With one
	// model per city, Beta's ordinary rows must not be flagged just for
	// dwarfing Alpha's.
	alpha := cityRows("Alpha", 50)
	beta := make([]domain.MergedRecord, 0, 50)
	for i := 0; i < 50; i++ {
		beta = append(beta, domain.MergedRecord{
			Date:              day(i + 1),
			City:              "Beta",
			AvgTempF:          100 + float64(i%5),
			TempDeltaF:        30 + float64(i%3),
			EnergyConsumption: 20000 + float64(i*10),
		})
	}
	alpha[3].EnergyConsumption = -999

	d := NewDetector(testLogger())
	flagged := d.Detect(append(alpha, beta...))

	require.NotEmpty(t, flagged)
	byCity := map[string]int{}
	for _, r := range flagged {
		byCity[r.City]++
	}
	assert.Equal(t, 1, byCity["Alpha"])
	assert.Equal(t, 1, byCity["Beta"], "each eligible city flags its own top scores")
}

func TestDetector_FlaggedRowsKeepDateOrder(t *testing.T) {
	rows := cityRows("Alpha", 60)
	rows[40].EnergyConsumption = -3000
	rows[10].EnergyConsumption = -3000

	d := NewDetector(testLogger(), WithContamination(0.05))
	flagged := d.Detect(rows)

	require.Len(t, flagged, 3, "ceil(0.05*60) = 3")
	for i := 1; i < len(flagged); i++ {
		assert.True(t, flagged[i].Date.After(flagged[i-1].Date))
	}
}

func TestDetector_FlagCount(t *testing.T) {
	d := NewDetector(testLogger())

	assert.Equal(t, 1, d.flagCount(10))
	assert.Equal(t, 1, d.flagCount(50))
	assert.Equal(t, 2, d.flagCount(51))
	assert.Equal(t, 2, d.flagCount(100))
}

// fixedModel scores rows by their energy column so tests can pin expected flags.
type fixedModel struct{}

func (fixedModel) Fit([][]float64) {}

func (fixedModel) Score(features [][]float64) []float64 {
	scores := make([]float64, len(features))
	for i, f := range features {
		scores[i] = -f[2]
	}
	return scores
}

func TestDetector_ModelFactoryOverride(t *testing.T) {
	rows := cityRows("Alpha", 20)
	rows[13].EnergyConsumption = -7777

	d := NewDetector(testLogger(), WithModelFactory(func(int64) Model {
		return fixedModel{}
	}))
	flagged := d.Detect(rows)

	require.Len(t, flagged, 1)
	assert.Equal(t, -7777.0, flagged[0].EnergyConsumption)
}

func TestTopIndices(t *testing.T) {
	t.Run("ascending index order", func(t *testing.T) {
		assert.Equal(t, []int{0, 3}, topIndices([]float64{0.9, 0.1, 0.2, 0.8}, 2))
	})

	t.Run("ties break by row order", func(t *testing.T) {
		assert.Equal(t, []int{0, 1}, topIndices([]float64{0.5, 0.5, 0.5}, 2))
	})
}
