package pipeline

import (
	"context"
	"fmt"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
)

// RunMerge executes the transform/merge stage: clean both raw
// concatenations, inner-join on (city, date), and persist the merged
// dataset. An absent raw artifact is a hard failure; a present-but-empty one
// yields an empty merged dataset without error.
func (p *Pipeline) RunMerge(_ context.Context) error {
	defer p.observeStage("merge")()

	weather, err := p.store.ReadAllWeather()
	if err != nil {
		return fmt.Errorf("load raw weather: %w", err)
	}
	energy, err := p.store.ReadAllEnergy()
	if err != nil {
		return fmt.Errorf("load raw energy: %w", err)
	}

	merged := domain.Merge(weather, energy)
	if err := p.store.WriteMerged(merged); err != nil {
		return fmt.Errorf("persist merged dataset: %w", err)
	}

	p.metrics.MergedRows.Set(float64(len(merged)))
	p.logger.Info("merge stage complete",
		"weather_rows", len(weather),
		"energy_rows", len(energy),
		"merged_rows", len(merged),
	)
	return nil
}

// RunQuality executes the data quality stage over the merged dataset. A
// missing merged artifact aborts the stage rather than producing an empty
// report.
func (p *Pipeline) RunQuality(_ context.Context) error {
	defer p.observeStage("quality")()

	merged, err := p.store.ReadMerged()
	if err != nil {
		return fmt.Errorf("load merged dataset: %w", err)
	}

	report := domain.CheckQuality(merged)
	if err := p.store.WriteQualityReport(report); err != nil {
		return fmt.Errorf("persist quality report: %w", err)
	}

	totalMissing := 0
	for _, n := range report.MissingValues {
		totalMissing += n
	}
	p.logger.Info("quality stage complete",
		"rows", len(merged),
		"missing_values", totalMissing,
		"temperature_outliers", report.Outliers.TemperatureOutliers,
		"negative_energy_readings", report.Outliers.NegativeEnergyReadings,
		"latest_date", report.Freshness.LatestDate,
		"is_fresh", report.Freshness.IsFresh,
	)
	return nil
}

// RunAnomaly executes the anomaly-detection stage over the merged dataset.
// The anomalies artifact is written even when nothing was flagged, so the
// dashboard can distinguish "ran, found nothing" from "never ran".
func (p *Pipeline) RunAnomaly(_ context.Context) error {
	defer p.observeStage("anomaly")()

	merged, err := p.store.ReadMerged()
	if err != nil {
		return fmt.Errorf("load merged dataset: %w", err)
	}

	anomalies := p.detector.Detect(merged)
	if err := p.store.WriteAnomalies(anomalies); err != nil {
		return fmt.Errorf("persist anomalies: %w", err)
	}

	p.metrics.AnomaliesFlagged.Set(float64(len(anomalies)))
	p.logger.Info("anomaly stage complete", "rows", len(merged), "flagged", len(anomalies))
	return nil
}
