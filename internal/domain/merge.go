package domain

import (
	"sort"
	"time"
)

// cleanedWeather is the per-(city, date) weather row after derivation,
// matching the merged schema's temperature columns.
type cleanedWeather struct {
	avgTempF   float64
	tempDeltaF float64
}

type joinKey struct {
	city string
	date string
}

// CleanWeather derives avg_temp_f and temp_delta_f from the raw TMAX/TMIN
// columns. NaN inputs propagate into the derived fields.
func CleanWeather(w WeatherObservation) (avgTempF, tempDeltaF float64) {
	return (w.TMaxF + w.TMinF) / 2, w.TMaxF - w.TMinF
}

// Merge inner-joins the weather and energy series on (city, date) and sorts
// the result by city (lexical) then date ascending. A (city, date) present in
// only one source is dropped, not imputed. Empty inputs yield an empty,
// non-nil result.
func Merge(weather []WeatherObservation, energy []EnergyObservation) []MergedRecord {
	energyByKey := make(map[joinKey]float64, len(energy))
	for _, e := range energy {
		k := joinKey{city: e.City, date: e.Date.Format(DateLayout)}
		if _, ok := energyByKey[k]; ok {
			continue // first reading wins; keys are unique per fetch
		}
		energyByKey[k] = e.EnergyMWh
	}

	merged := make([]MergedRecord, 0, len(weather))
	seen := make(map[joinKey]struct{}, len(weather))
	for _, w := range weather {
		k := joinKey{city: w.City, date: w.Date.Format(DateLayout)}
		consumption, ok := energyByKey[k]
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		avg, delta := CleanWeather(w)
		merged = append(merged, MergedRecord{
			Date:              normalizeDate(w.Date),
			City:              w.City,
			AvgTempF:          avg,
			TempDeltaF:        delta,
			EnergyConsumption: consumption,
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].City != merged[j].City {
			return merged[i].City < merged[j].City
		}
		return merged[i].Date.Before(merged[j].Date)
	})

	return merged
}

// normalizeDate truncates a timestamp to midnight UTC so join keys and
// artifact dates are stable regardless of source time components.
func normalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
