// Package tower holds the value types shared by the scanning, estimation
// and persistence layers.
package tower

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Identifier uniquely identifies a cell site within the catalog.
type Identifier struct {
	CountryCode string `json:"mcc"`
	NetworkCode string `json:"mnc"`
	AreaCode    string `json:"lac"`
	CellID      string `json:"cell_id"`
}

// NormalizeIdentifier trims whitespace, strips 0x prefixes and upper-cases
// the hex area and cell codes so that modem output and catalog keys agree.
func NormalizeIdentifier(mcc, mnc, lac, cid string) Identifier {
	return Identifier{
		CountryCode: strings.TrimSpace(mcc),
		NetworkCode: strings.TrimSpace(mnc),
		AreaCode:    normalizeHex(lac),
		CellID:      normalizeHex(cid),
	}
}

func normalizeHex(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToUpper(s)
}

// Valid reports whether all four identifier parts are present.
func (id Identifier) Valid() bool {
	return id.CountryCode != "" && id.NetworkCode != "" && id.AreaCode != "" && id.CellID != ""
}

// String returns the catalog key, MCC_MNC_LAC_CID.
func (id Identifier) String() string {
	return fmt.Sprintf("%s_%s_%s_%s", id.CountryCode, id.NetworkCode, id.AreaCode, id.CellID)
}

// ParseIdentifier is the inverse of Identifier.String.
func ParseIdentifier(key string) (Identifier, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 4 {
		return Identifier{}, fmt.Errorf("tower key %q: want MCC_MNC_LAC_CID", key)
	}
	id := NormalizeIdentifier(parts[0], parts[1], parts[2], parts[3])
	if !id.Valid() {
		return Identifier{}, fmt.Errorf("tower key %q: empty component", key)
	}
	return id, nil
}

// Reading is one raw sighting reported by a reading source.
type Reading struct {
	Identifier Identifier `json:"identifier"`
	RSSIDBm    int        `json:"rssi_dbm"`
	BandMHz    int        `json:"band_mhz"`
	Operator   string     `json:"operator"`
	Technology string     `json:"technology"`
}

// Observation is a reading resolved against the catalog.
type Observation struct {
	Identifier         Identifier
	Operator           string
	Technology         string
	Location           orb.Point // lon, lat
	SignalStrengthDBm  int
	BandMHz            int
	EstimatedDistanceM float64
}

func (o Observation) Latitude() float64  { return o.Location.Lat() }
func (o Observation) Longitude() float64 { return o.Location.Lon() }

// Result is the output of one position estimate.
type Result struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	TowersUsed     int
	Confidence     float64
	Method         string
	Timestamp      time.Time
	Towers         []Observation
}

// MapsLink returns a Google Maps URL centred on the estimate.
func (r *Result) MapsLink() string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", r.Latitude, r.Longitude)
}

// SessionMethod tags every persisted session.
const SessionMethod = "cell_triangulation"

// Session records one successful triangulation attempt.
type Session struct {
	ID             uuid.UUID
	UserID         string
	Source         string
	Result         Result
	ProcessingTime time.Duration
	CreatedAt      time.Time
}
