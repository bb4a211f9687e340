package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"towerloc/internal/models"
	"towerloc/internal/tower"
)

func TestToModel(t *testing.T) {
	id := uuid.New()
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	s := tower.Session{
		ID:     id,
		UserID: "farmer-17",
		Source: "modem",
		Result: tower.Result{
			Latitude:       -25.97,
			Longitude:      32.58,
			AccuracyMeters: 517,
			TowersUsed:     1,
			Confidence:     0.6,
			Method:         "hybrid_triangulation",
			Towers: []tower.Observation{{
				Identifier:         tower.NormalizeIdentifier("643", "01", "0x2a4b", "5c8d"),
				Operator:           "mCel",
				Location:           orb.Point{32.5732, -25.9692},
				SignalStrengthDBm:  -65,
				BandMHz:            1800,
				EstimatedDistanceM: 50,
			}},
		},
		ProcessingTime: 1500 * time.Millisecond,
		CreatedAt:      created,
	}

	row := toModel(s)
	if row.ID != id || row.Method != tower.SessionMethod || row.EstimationMethod != "hybrid_triangulation" {
		t.Fatalf("row = %+v", row)
	}
	if row.UserID == nil || *row.UserID != "farmer-17" {
		t.Fatalf("UserID = %v, want farmer-17", row.UserID)
	}
	if row.ProcessingTimeMs != 1500 || !row.CreatedAt.Equal(created) {
		t.Fatalf("ProcessingTimeMs = %d, CreatedAt = %v", row.ProcessingTimeMs, row.CreatedAt)
	}
	if len(row.Towers) != 1 {
		t.Fatalf("Towers has %d rows, want 1", len(row.Towers))
	}
	tw := row.Towers[0]
	if tw.SessionID != id || tw.LAC != "2A4B" || tw.CellID != "5C8D" || tw.RSSI != -65 || tw.Latitude != -25.9692 {
		t.Fatalf("tower row = %+v", tw)
	}
	if tw.ID == uuid.Nil {
		t.Fatal("tower row ID not assigned")
	}
}

func TestToModelAnonymous(t *testing.T) {
	row := toModel(tower.Session{})
	if row.UserID != nil {
		t.Fatalf("UserID = %v, want nil", *row.UserID)
	}
	if row.ID == uuid.Nil {
		t.Fatal("session ID not assigned")
	}
	if row.Towers == nil || len(row.Towers) != 0 {
		t.Fatalf("Towers = %v, want empty", row.Towers)
	}
}

func TestFromModel(t *testing.T) {
	user := "farmer-17"
	id := uuid.New()
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	row := models.TriangulationSession{
		ID:               id,
		UserID:           &user,
		Source:           "mqtt",
		Method:           tower.SessionMethod,
		EstimationMethod: "hybrid_triangulation",
		Latitude:         -25.97,
		Longitude:        32.58,
		AccuracyMeters:   517,
		TowersUsed:       3,
		Confidence:       0.6,
		ProcessingTimeMs: 42,
		CreatedAt:        created,
		Towers: []models.CellTowerReading{{
			SessionID:      id,
			MCC:            "643",
			MNC:            "01",
			LAC:            "2A4B",
			CellID:         "5C8D",
			Operator:       "mCel",
			Latitude:       -25.9692,
			Longitude:      32.5732,
			RSSI:           -65,
			BandMHz:        1800,
			DistanceMeters: 50,
		}},
	}

	s := fromModel(row)
	if s.ID != id || s.UserID != user || s.Source != "mqtt" {
		t.Fatalf("session = %+v", s)
	}
	if s.ProcessingTime != 42*time.Millisecond || !s.Result.Timestamp.Equal(created) {
		t.Fatalf("ProcessingTime = %v, Timestamp = %v", s.ProcessingTime, s.Result.Timestamp)
	}
	if s.Result.Method != "hybrid_triangulation" || s.Result.TowersUsed != 3 {
		t.Fatalf("result = %+v", s.Result)
	}
	if len(s.Result.Towers) != 1 {
		t.Fatalf("Towers has %d entries, want 1", len(s.Result.Towers))
	}
	o := s.Result.Towers[0]
	if o.Identifier != tower.NormalizeIdentifier("643", "01", "2A4B", "5C8D") || o.Latitude() != -25.9692 || o.SignalStrengthDBm != -65 {
		t.Fatalf("tower = %+v", o)
	}
}

func TestFromModelAnonymous(t *testing.T) {
	s := fromModel(models.TriangulationSession{})
	if s.UserID != "" || s.Result.Towers == nil {
		t.Fatalf("session = %+v, want anonymous with empty towers", s)
	}
}

func TestConnectWithRetrySkipsFinalSleep(t *testing.T) {
	dsn := "host=127.0.0.1 port=1 user=towerloc dbname=towerloc sslmode=disable connect_timeout=2"
	start := time.Now()
	_, err := ConnectWithRetry(dsn, 1, time.Minute)
	if err == nil {
		t.Fatal("ConnectWithRetry succeeded against a closed port")
	}
	if !strings.Contains(err.Error(), "after 1 attempts") {
		t.Fatalf("error = %v, want attempt count", err)
	}
	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Fatalf("ConnectWithRetry took %v, want no sleep after the last attempt", elapsed)
	}
}
