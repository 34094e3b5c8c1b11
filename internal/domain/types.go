package domain

import "time"

// DateLayout is the calendar-date format used for join keys and artifacts.
const DateLayout = "2006-01-02"

// CityDescriptor identifies one tracked city and its upstream identifiers.
// Built once from configuration and read-only afterwards.
type CityDescriptor struct {
	Name          string
	State         string
	NOAAStationID string // GHCND station, e.g. "GHCND:USW00094728"
	EIARegionID   string // balancing-authority respondent, e.g. "NYIS"
}

// WeatherObservation is one station-day of unit-converted temperature
// readings. TMaxF or TMinF is NaN when the station reported no point for
// that reading type on the date.
type WeatherObservation struct {
	Date  time.Time
	City  string
	TMaxF float64
	TMinF float64
}

// EnergyObservation is one region-day of electricity demand.
type EnergyObservation struct {
	Date      time.Time
	City      string
	EnergyMWh float64
}

// MergedRecord is one harmonized (city, date) row after the inner join.
type MergedRecord struct {
	Date              time.Time
	City              string
	AvgTempF          float64
	TempDeltaF        float64
	EnergyConsumption float64
}

// AnomalyRecord is a MergedRecord additionally known to be an outlier for
// its city's fitted model. Same column schema as the merged dataset.
type AnomalyRecord = MergedRecord

// QualityReport is the structured output of the data quality checker.
// Recomputed fresh on every run; no persisted history.
type QualityReport struct {
	MissingValues map[string]int  `json:"missing_values"`
	Outliers      OutlierReport   `json:"outliers"`
	Freshness     FreshnessReport `json:"freshness"`
}

// OutlierReport counts rows with implausible values.
type OutlierReport struct {
	TemperatureOutliers    int `json:"temperature_outliers"`
	NegativeEnergyReadings int `json:"negative_energy_readings"`
}

// FreshnessReport describes the age of the most recent merged record.
type FreshnessReport struct {
	LatestDate string `json:"latest_date"` // YYYY-MM-DD, empty when the dataset is empty
	IsFresh    bool   `json:"is_fresh"`
	DaysOld    int    `json:"days_old"`
}
