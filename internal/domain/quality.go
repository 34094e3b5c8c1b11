package domain

import (
	"math"
	"time"
)

// Plausibility bounds for a daily average temperature anywhere in the US.
// Values strictly outside the bounds are counted as outliers; the bounds
// themselves are not outliers.
const (
	maxPlausibleAvgTempF = 130.0
	minPlausibleAvgTempF = -50.0
)

// mergedColumns lists every column of the merged dataset so the missing-value
// report always carries a count for each, including structurally non-null ones.
var mergedColumns = []string{"date", "city", "avg_temp_f", "temp_delta_f", "energy_consumption"}

// CheckQuality computes the data quality report over the merged dataset.
// It is a pure function of the records and the package clock; an empty
// dataset produces a zeroed report with IsFresh=false.
func CheckQuality(records []MergedRecord) QualityReport {
	missing := make(map[string]int, len(mergedColumns))
	for _, col := range mergedColumns {
		missing[col] = 0
	}

	var outliers OutlierReport
	var latest time.Time
	for _, r := range records {
		if math.IsNaN(r.AvgTempF) {
			missing["avg_temp_f"]++
		}
		if math.IsNaN(r.TempDeltaF) {
			missing["temp_delta_f"]++
		}
		if math.IsNaN(r.EnergyConsumption) {
			missing["energy_consumption"]++
		}

		if r.AvgTempF > maxPlausibleAvgTempF || r.AvgTempF < minPlausibleAvgTempF {
			outliers.TemperatureOutliers++
		}
		if r.EnergyConsumption < 0 {
			outliers.NegativeEnergyReadings++
		}

		if r.Date.After(latest) {
			latest = r.Date
		}
	}

	return QualityReport{
		MissingValues: missing,
		Outliers:      outliers,
		Freshness:     checkFreshness(latest),
	}
}

// checkFreshness reports the whole-day age of the most recent record relative
// to today at midnight UTC. Data is fresh when at most one day old.
func checkFreshness(latest time.Time) FreshnessReport {
	if latest.IsZero() {
		return FreshnessReport{IsFresh: false}
	}

	today := normalizeDate(clock.Now())
	daysOld := int(today.Sub(normalizeDate(latest)).Hours() / 24)

	return FreshnessReport{
		LatestDate: latest.Format(DateLayout),
		IsFresh:    daysOld <= 1,
		DaysOld:    daysOld,
	}
}
