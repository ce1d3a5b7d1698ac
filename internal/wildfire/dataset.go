// Package wildfire provides the reference tool set: fixture-backed data
// retrieval over local CSV extracts of the Fire Weather Index projections,
// fire history and incident records, census figures, and the literature
// corpus, plus the per-stage registry builders that wire the tools (and the
// stage completion tools) into the orchestrator.
package wildfire

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"wildfiregpt/internal/logging"
)

// File names expected under the data directory.
const (
	fwiFile        = "fire_weather_index.csv"
	historyFile    = "fire_history.csv"
	incidentsFile  = "fire_incidents.csv"
	censusFile     = "census.csv"
	literatureFile = "literature.csv"
)

// fwiRecord is one grid cell of seasonal FWI values for the three periods.
type fwiRecord struct {
	Lat, Lon float64
	// Seasonal values indexed [season][period]: spring/summer/autumn/winter
	// x historical/mid-century/end-of-century.
	Values [4][3]float64
}

// fireEvent is one dated fire occurrence or incident.
type fireEvent struct {
	Lat, Lon float64
	Year     int
	Name     string
	Acres    float64
}

// censusTract is one tract centroid with population figures.
type censusTract struct {
	Lat, Lon     float64
	Tract        string
	Population   int
	HousingUnits int
}

// publication is one literature corpus entry.
type publication struct {
	Title    string
	Authors  string
	Year     string
	Journal  string
	Abstract string
}

// Dataset holds the loaded fixture data. Files that are absent load as
// empty slices; the owning tool then reports that its data is unavailable
// instead of failing the whole assistant.
type Dataset struct {
	fwi        []fwiRecord
	history    []fireEvent
	incidents  []fireEvent
	census     []censusTract
	literature []publication
}

// LoadDataset reads all fixture CSVs under dir.
func LoadDataset(dir string) (*Dataset, error) {
	d := &Dataset{}

	if err := loadCSV(filepath.Join(dir, fwiFile), 14, func(rec []string) error {
		r, err := parseFWIRecord(rec)
		if err != nil {
			return err
		}
		d.fwi = append(d.fwi, r)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadCSV(filepath.Join(dir, historyFile), 3, func(rec []string) error {
		e, err := parseFireEvent(rec)
		if err != nil {
			return err
		}
		d.history = append(d.history, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadCSV(filepath.Join(dir, incidentsFile), 5, func(rec []string) error {
		e, err := parseFireEvent(rec)
		if err != nil {
			return err
		}
		d.incidents = append(d.incidents, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadCSV(filepath.Join(dir, censusFile), 5, func(rec []string) error {
		lat, err1 := strconv.ParseFloat(rec[0], 64)
		lon, err2 := strconv.ParseFloat(rec[1], 64)
		pop, err3 := strconv.Atoi(rec[3])
		units, err4 := strconv.Atoi(rec[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return fmt.Errorf("bad census row %v", rec)
		}
		d.census = append(d.census, censusTract{Lat: lat, Lon: lon, Tract: rec[2], Population: pop, HousingUnits: units})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadCSV(filepath.Join(dir, literatureFile), 5, func(rec []string) error {
		d.literature = append(d.literature, publication{
			Title: rec[0], Authors: rec[1], Year: rec[2], Journal: rec[3], Abstract: rec[4],
		})
		return nil
	}); err != nil {
		return nil, err
	}

	logging.Tools("Dataset loaded: %d FWI cells, %d history events, %d incidents, %d tracts, %d publications",
		len(d.fwi), len(d.history), len(d.incidents), len(d.census), len(d.literature))
	return d, nil
}

// loadCSV reads a headered CSV, skipping the header row. A missing file is
// not an error; the dataset is just empty.
func loadCSV(path string, minFields int, row func([]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		if len(rec) < minFields {
			return fmt.Errorf("%s row %d: want %d fields, got %d", path, i+1, minFields, len(rec))
		}
		if err := row(rec); err != nil {
			return fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
	}
	return nil
}

func parseFWIRecord(rec []string) (fwiRecord, error) {
	var r fwiRecord
	var err error
	if r.Lat, err = strconv.ParseFloat(rec[0], 64); err != nil {
		return r, err
	}
	if r.Lon, err = strconv.ParseFloat(rec[1], 64); err != nil {
		return r, err
	}
	for season := 0; season < 4; season++ {
		for period := 0; period < 3; period++ {
			v, err := strconv.ParseFloat(rec[2+season*3+period], 64)
			if err != nil {
				return r, err
			}
			r.Values[season][period] = v
		}
	}
	return r, nil
}

func parseFireEvent(rec []string) (fireEvent, error) {
	var e fireEvent
	var err error
	if e.Lat, err = strconv.ParseFloat(rec[0], 64); err != nil {
		return e, err
	}
	if e.Lon, err = strconv.ParseFloat(rec[1], 64); err != nil {
		return e, err
	}
	if e.Year, err = strconv.Atoi(rec[2]); err != nil {
		return e, err
	}
	if len(rec) > 3 {
		e.Name = rec[3]
	}
	if len(rec) > 4 {
		if acres, err := strconv.ParseFloat(rec[4], 64); err == nil {
			e.Acres = acres
		}
	}
	return e, nil
}

const earthRadiusKm = 6371.0

// haversineKm is the geodesic distance between two points in kilometers.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// FWI danger classes.
func categorizeFWI(value float64) string {
	switch {
	case value <= 9:
		return "Low"
	case value <= 21:
		return "Medium"
	case value <= 34:
		return "High"
	case value <= 39:
		return "Very High"
	case value <= 53:
		return "Extreme"
	default:
		return "Very Extreme"
	}
}
