// Package anomaly flags anomalous merged records with an unsupervised
// outlier model fitted independently per city. Energy and temperature
// baselines differ structurally by climate and grid region, so a single
// global model would systematically over-flag naturally hot or high-demand
// cities; fitting per city normalizes each city against its own
// distribution.
package anomaly

import (
	"log/slog"
	"math"
	"sort"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
)

// Model is the pluggable outlier-scoring capability. Fit builds the model
// over a feature matrix; Score returns one anomaly score per row (higher is
// more anomalous). Implementations must be deterministic for a fixed seed.
type Model interface {
	Fit(features [][]float64)
	Score(features [][]float64) []float64
}

const (
	// DefaultContamination is the expected fraction of outliers per city.
	DefaultContamination = 0.02

	// DefaultSeed pins the model's randomness so identical input yields an
	// identical anomaly set across runs.
	DefaultSeed = 42

	// MinRowsPerCity is the smallest group a stable model can be fitted on.
	// Cities below it contribute zero anomalies, not an error.
	MinRowsPerCity = 10
)

// Detector partitions the merged dataset by city and fits one independently
// owned model per city. No model state is shared across cities.
type Detector struct {
	contamination float64
	seed          int64
	newModel      func(seed int64) Model
	logger        *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithModelFactory swaps the model implementation, keeping the pipeline
// structure intact.
func WithModelFactory(factory func(seed int64) Model) Option {
	return func(d *Detector) { d.newModel = factory }
}

// WithContamination overrides the expected outlier fraction.
func WithContamination(f float64) Option {
	return func(d *Detector) { d.contamination = f }
}

// WithSeed overrides the model seed.
func WithSeed(seed int64) Option {
	return func(d *Detector) { d.seed = seed }
}

// NewDetector creates a Detector with the isolation-forest model, 2%
// contamination, and the fixed default seed.
func NewDetector(logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		contamination: DefaultContamination,
		seed:          DefaultSeed,
		newModel: func(seed int64) Model {
			return NewIsolationForest(seed)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect flags the most anomalous rows per city over the feature vector
// [avg_temp_f, temp_delta_f, energy_consumption]. Per-city results are
// concatenated in input city order with no cross-city re-ranking; within a
// city, flagged rows keep their date order. Rows with a NaN feature are
// excluded from fitting and scoring.
func (d *Detector) Detect(records []domain.MergedRecord) []domain.AnomalyRecord {
	groups, order := groupByCity(records)

	var flagged []domain.AnomalyRecord
	for _, city := range order {
		rows := groups[city]
		complete := completeRows(rows)
		if len(complete) < MinRowsPerCity {
			d.logger.Info("skipping city with too few rows for anomaly detection",
				"city", city, "rows", len(complete), "min_rows", MinRowsPerCity)
			continue
		}

		features := make([][]float64, len(complete))
		for i, r := range complete {
			features[i] = []float64{r.AvgTempF, r.TempDeltaF, r.EnergyConsumption}
		}

		model := d.newModel(d.seed)
		model.Fit(features)
		scores := model.Score(features)

		for _, idx := range topIndices(scores, d.flagCount(len(complete))) {
			flagged = append(flagged, complete[idx])
		}
	}

	return flagged
}

// flagCount is the number of rows flagged for a city of n complete rows:
// the top ceil(contamination*n) scores, never more than n.
func (d *Detector) flagCount(n int) int {
	k := int(math.Ceil(d.contamination * float64(n)))
	if k > n {
		k = n
	}
	return k
}

// groupByCity partitions records preserving first-appearance city order.
// Input is already sorted city-then-date, so groups keep date order.
func groupByCity(records []domain.MergedRecord) (map[string][]domain.MergedRecord, []string) {
	groups := make(map[string][]domain.MergedRecord)
	var order []string
	for _, r := range records {
		if _, seen := groups[r.City]; !seen {
			order = append(order, r.City)
		}
		groups[r.City] = append(groups[r.City], r)
	}
	return groups, order
}

func completeRows(rows []domain.MergedRecord) []domain.MergedRecord {
	complete := make([]domain.MergedRecord, 0, len(rows))
	for _, r := range rows {
		if math.IsNaN(r.AvgTempF) || math.IsNaN(r.TempDeltaF) || math.IsNaN(r.EnergyConsumption) {
			continue
		}
		complete = append(complete, r)
	}
	return complete
}

// topIndices returns the indices of the k highest scores, in ascending index
// order so callers emit rows in their original (date) order. Score ties break
// by row order for determinism.
func topIndices(scores []float64, k int) []int {
	ranked := make([]int, len(scores))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return scores[ranked[a]] > scores[ranked[b]]
	})

	top := ranked[:k]
	sort.Ints(top)
	return top
}
