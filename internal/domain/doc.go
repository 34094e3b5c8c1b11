// Package domain models the harmonized weather/energy time series produced
// by the daily ingestion pipeline.
//
// # Data Sources
//
// Weather observations come from the NOAA Climate Data Online (CDO) v2 API,
// dataset GHCND (Global Historical Climatology Network Daily), one station
// per city. Each station-day yields TMAX and TMIN point readings which are
// pivoted into a single row per date.
//
// Energy observations come from the EIA v2 "electricity/rto/daily-region-data"
// route, one balancing-authority region per city. Rows are discriminated by a
// reading type: "D" (Demand), "NG" (Net Generation), "TI" (Total Interchange).
// Only Demand rows describe end-user consumption; the others can legitimately
// go negative.
//
// # Unit Conventions
//
// GHCND temperature values arrive in tenths of degrees Celsius and are
// converted on ingest:
//
//	°F = value * 0.18 + 32
//
// EIA demand values are megawatt-hours per day.
//
// Missing readings are carried as NaN rather than zero so that a station-day
// with only one of TMAX/TMIN survives ingestion and is surfaced by the data
// quality report instead of silently skewing averages. CSV artifacts render
// NaN as an empty cell.
//
// # Derived Fields
//
//	avg_temp_f   = (TMAX_F + TMIN_F) / 2
//	temp_delta_f = TMAX_F - TMIN_F
//
// Both propagate NaN when either source reading is missing.
//
// # Merge Semantics
//
// The merged dataset is a strict inner join of the weather and energy series
// on (city, date): a date present in only one source is dropped, never
// imputed. Output is sorted by city (lexical) then date ascending, with one
// row per (city, date).
package domain
