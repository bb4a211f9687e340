package catalog

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"towerloc/internal/propagation"
	"towerloc/internal/tower"
)

//go:embed towers.json
var defaultTowers []byte

// internal JSON shape; kept unexported so the file format can evolve.
type entryJSON struct {
	Key             string  `json:"key"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Operator        string  `json:"operator"`
	Region          string  `json:"region"`
	CoverageRadiusM float64 `json:"coverage_radius_m"`
	BandMHz         int     `json:"band_mhz"`
}

// Default returns a catalog seeded with the embedded reference towers.
func Default() (*Catalog, error) {
	c := New()
	if err := LoadJSON(c, bytes.NewReader(defaultTowers)); err != nil {
		return nil, fmt.Errorf("load embedded towers: %w", err)
	}
	return c, nil
}

// LoadFile loads a .json or .csv tower file into c.
func LoadFile(c *Catalog, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tower file %q: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(c, f)
	case ".csv":
		return LoadCSV(c, f)
	default:
		return fmt.Errorf("tower file %q: unsupported extension", path)
	}
}

// LoadJSON reads an array of tower entries from r.
func LoadJSON(c *Catalog, r io.Reader) error {
	if c == nil {
		return errors.New("LoadJSON: catalog is nil")
	}
	var payload []entryJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return fmt.Errorf("LoadJSON: decode failed: %w", err)
	}
	for _, js := range payload {
		id, err := tower.ParseIdentifier(js.Key)
		if err != nil {
			return fmt.Errorf("LoadJSON: %w", err)
		}
		if err := c.Add(newEntry(id, js.Latitude, js.Longitude, js.Operator, js.Region, js.CoverageRadiusM, js.BandMHz)); err != nil {
			return fmt.Errorf("LoadJSON: %w", err)
		}
	}
	return nil
}

// LoadCSV reads towers from r. The header row must name the columns
// mcc, mnc, lac, cell_id, latitude and longitude; operator, region,
// coverage_radius_m and band_mhz are optional.
func LoadCSV(c *Catalog, r io.Reader) error {
	if c == nil {
		return errors.New("LoadCSV: catalog is nil")
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("LoadCSV: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"mcc", "mnc", "lac", "cell_id", "latitude", "longitude"} {
		if _, ok := cols[required]; !ok {
			return fmt.Errorf("LoadCSV: missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("LoadCSV: line %d: %w", line, err)
		}

		id := tower.NormalizeIdentifier(field(rec, "mcc"), field(rec, "mnc"), field(rec, "lac"), field(rec, "cell_id"))
		lat, err := strconv.ParseFloat(field(rec, "latitude"), 64)
		if err != nil {
			return fmt.Errorf("LoadCSV: line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(field(rec, "longitude"), 64)
		if err != nil {
			return fmt.Errorf("LoadCSV: line %d: longitude: %w", line, err)
		}
		var radius float64
		if raw := field(rec, "coverage_radius_m"); raw != "" {
			if radius, err = strconv.ParseFloat(raw, 64); err != nil {
				return fmt.Errorf("LoadCSV: line %d: coverage_radius_m: %w", line, err)
			}
		}
		var band int
		if raw := field(rec, "band_mhz"); raw != "" {
			if band, err = strconv.Atoi(raw); err != nil {
				return fmt.Errorf("LoadCSV: line %d: band_mhz: %w", line, err)
			}
		}

		if err := c.Add(newEntry(id, lat, lon, field(rec, "operator"), field(rec, "region"), radius, band)); err != nil {
			return fmt.Errorf("LoadCSV: line %d: %w", line, err)
		}
	}
}

func newEntry(id tower.Identifier, lat, lon float64, operator, region string, radius float64, band int) Entry {
	if band <= 0 {
		band = propagation.DefaultBandMHz
	}
	return Entry{
		Identifier:      id,
		Location:        orb.Point{lon, lat},
		Operator:        operator,
		Region:          region,
		CoverageRadiusM: radius,
		BandMHz:         band,
	}
}
