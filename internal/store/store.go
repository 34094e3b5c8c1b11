// Package store persists pipeline artifacts under a root data directory:
//
//	<root>/raw/weather_<City>.csv   per-city raw weather
//	<root>/raw/energy_<City>.csv    per-city raw energy
//	<root>/raw/weather_all.csv      all-cities concatenation
//	<root>/raw/energy_all.csv       all-cities concatenation
//	<root>/merged_data.csv          primary artifact, read by the dashboard
//	<root>/quality_report.json
//	<root>/anomalies.csv
//
// Every write is an atomic whole-file replacement (temp file + rename), so a
// crashed run never leaves a half-written artifact behind. Missing floats are
// rendered as empty CSV cells and parsed back to NaN.
package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chrisedeson/weather-energy-pipeline/internal/domain"
)

// ErrNotFound reports an absent artifact. Stages treat a missing upstream
// artifact as a fatal precondition failure.
var ErrNotFound = errors.New("artifact not found")

// Artifact file names.
const (
	weatherAllFile = "weather_all.csv"
	energyAllFile  = "energy_all.csv"
	mergedFile     = "merged_data.csv"
	qualityFile    = "quality_report.json"
	anomaliesFile  = "anomalies.csv"
)

// Store owns the artifact directory layout.
type Store struct {
	root string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// MergedPath returns the location of the primary merged artifact.
func (s *Store) MergedPath() string { return filepath.Join(s.root, mergedFile) }

// QualityReportPath returns the location of the quality report artifact.
func (s *Store) QualityReportPath() string { return filepath.Join(s.root, qualityFile) }

// AnomaliesPath returns the location of the anomalies artifact.
func (s *Store) AnomaliesPath() string { return filepath.Join(s.root, anomaliesFile) }

func (s *Store) rawDir() string { return filepath.Join(s.root, "raw") }

// cityFileName renders "weather_New_York.csv" style per-city names.
func cityFileName(prefix, city string) string {
	return prefix + "_" + strings.ReplaceAll(city, " ", "_") + ".csv"
}

// WriteCityWeather persists one city's raw weather rows.
func (s *Store) WriteCityWeather(city string, rows []domain.WeatherObservation) error {
	return s.writeWeatherCSV(filepath.Join(s.rawDir(), cityFileName("weather", city)), rows)
}

// WriteAllWeather persists the all-cities weather concatenation.
func (s *Store) WriteAllWeather(rows []domain.WeatherObservation) error {
	return s.writeWeatherCSV(filepath.Join(s.rawDir(), weatherAllFile), rows)
}

// WriteCityEnergy persists one city's raw energy rows.
func (s *Store) WriteCityEnergy(city string, rows []domain.EnergyObservation) error {
	return s.writeEnergyCSV(filepath.Join(s.rawDir(), cityFileName("energy", city)), rows)
}

// WriteAllEnergy persists the all-cities energy concatenation.
func (s *Store) WriteAllEnergy(rows []domain.EnergyObservation) error {
	return s.writeEnergyCSV(filepath.Join(s.rawDir(), energyAllFile), rows)
}

// ReadAllWeather loads the weather concatenation. Returns ErrNotFound when
// the fetch stage has not produced it.
func (s *Store) ReadAllWeather() ([]domain.WeatherObservation, error) {
	records, err := s.readCSV(filepath.Join(s.rawDir(), weatherAllFile), 4)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.WeatherObservation, 0, len(records))
	for _, rec := range records {
		date, err := time.ParseInLocation(domain.DateLayout, rec[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse weather row date %q: %w", rec[0], err)
		}
		rows = append(rows, domain.WeatherObservation{
			Date:  date,
			City:  rec[1],
			TMaxF: parseFloatCell(rec[2]),
			TMinF: parseFloatCell(rec[3]),
		})
	}
	return rows, nil
}

// ReadAllEnergy loads the energy concatenation. Returns ErrNotFound when the
// fetch stage has not produced it.
func (s *Store) ReadAllEnergy() ([]domain.EnergyObservation, error) {
	records, err := s.readCSV(filepath.Join(s.rawDir(), energyAllFile), 3)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.EnergyObservation, 0, len(records))
	for _, rec := range records {
		date, err := time.ParseInLocation(domain.DateLayout, rec[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse energy row date %q: %w", rec[0], err)
		}
		rows = append(rows, domain.EnergyObservation{
			Date:      date,
			City:      rec[1],
			EnergyMWh: parseFloatCell(rec[2]),
		})
	}
	return rows, nil
}

// WriteMerged persists the merged dataset, the pipeline's primary artifact.
func (s *Store) WriteMerged(records []domain.MergedRecord) error {
	return s.writeMergedCSV(s.MergedPath(), records)
}

// ReadMerged loads the merged dataset. Returns ErrNotFound when the merge
// stage has not produced it.
func (s *Store) ReadMerged() ([]domain.MergedRecord, error) {
	records, err := s.readCSV(s.MergedPath(), 5)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.MergedRecord, 0, len(records))
	for _, rec := range records {
		date, err := time.ParseInLocation(domain.DateLayout, rec[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse merged row date %q: %w", rec[0], err)
		}
		rows = append(rows, domain.MergedRecord{
			Date:              date,
			City:              rec[1],
			AvgTempF:          parseFloatCell(rec[2]),
			TempDeltaF:        parseFloatCell(rec[3]),
			EnergyConsumption: parseFloatCell(rec[4]),
		})
	}
	return rows, nil
}

// WriteAnomalies persists the flagged rows with the merged schema. The header
// is written even when no rows were flagged.
func (s *Store) WriteAnomalies(records []domain.AnomalyRecord) error {
	return s.writeMergedCSV(s.AnomaliesPath(), records)
}

// WriteQualityReport persists the quality report as indented JSON.
func (s *Store) WriteQualityReport(report domain.QualityReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode quality report: %w", err)
	}
	return s.atomicWrite(s.QualityReportPath(), append(data, '\n'))
}

func (s *Store) writeWeatherCSV(path string, rows []domain.WeatherObservation) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"date", "city", "tmax_f", "tmin_f"})
	for _, r := range rows {
		records = append(records, []string{
			r.Date.Format(domain.DateLayout),
			r.City,
			formatFloatCell(r.TMaxF),
			formatFloatCell(r.TMinF),
		})
	}
	return s.writeCSV(path, records)
}

func (s *Store) writeEnergyCSV(path string, rows []domain.EnergyObservation) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"date", "city", "energy_mwh"})
	for _, r := range rows {
		records = append(records, []string{
			r.Date.Format(domain.DateLayout),
			r.City,
			formatFloatCell(r.EnergyMWh),
		})
	}
	return s.writeCSV(path, records)
}

func (s *Store) writeMergedCSV(path string, rows []domain.MergedRecord) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"date", "city", "avg_temp_f", "temp_delta_f", "energy_consumption"})
	for _, r := range rows {
		records = append(records, []string{
			r.Date.Format(domain.DateLayout),
			r.City,
			formatFloatCell(r.AvgTempF),
			formatFloatCell(r.TempDeltaF),
			formatFloatCell(r.EnergyConsumption),
		})
	}
	return s.writeCSV(path, records)
}

// readCSV loads and validates a CSV artifact, returning data records without
// the header. An absent file maps to ErrNotFound.
func (s *Store) readCSV(path string, wantCols int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = wantCols
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

func (s *Store) writeCSV(path string, records [][]string) error {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return s.atomicWrite(path, []byte(sb.String()))
}

// atomicWrite replaces path with data via a temp file in the same directory,
// so readers never observe a partial artifact.
func (s *Store) atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// formatFloatCell renders a float, with NaN as an empty cell.
func formatFloatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseFloatCell parses a float, with an empty or malformed cell as NaN.
func parseFloatCell(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
