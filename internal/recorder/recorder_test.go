package recorder

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"towerloc/internal/tower"
)

func testSession() tower.Session {
	return tower.Session{
		ID:     uuid.MustParse("6f1c2c5e-8f55-4d1e-9a57-2f2b8e0c9d11"),
		UserID: "farmer-17",
		Source: "simulation",
		Result: tower.Result{
			Latitude:       -25.9701,
			Longitude:      32.5865,
			AccuracyMeters: 517.4,
			TowersUsed:     2,
			Confidence:     0.6,
			Method:         "hybrid_triangulation",
			Towers: []tower.Observation{
				{
					Identifier:         tower.NormalizeIdentifier("643", "01", "2A4B", "5C8D"),
					Operator:           "mCel",
					Technology:         "LTE",
					Location:           orb.Point{32.5732, -25.9692},
					SignalStrengthDBm:  -65,
					BandMHz:            1800,
					EstimatedDistanceM: 50,
				},
				{
					Identifier:         tower.NormalizeIdentifier("643", "02", "3B5C", "6D9E"),
					Operator:           "Vodacom",
					Technology:         "LTE",
					Location:           orb.Point{32.6100, -25.9500},
					SignalStrengthDBm:  -80,
					BandMHz:            900,
					EstimatedDistanceM: 120.5,
				},
			},
		},
		ProcessingTime: 42 * time.Millisecond,
		CreatedAt:      time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func newTestRecorder(t *testing.T, dir string) *Recorder {
	t.Helper()
	rec, err := NewRecorder(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return rec
}

func TestSaveSessionWritesBothLogs(t *testing.T) {
	dir := t.TempDir()
	rec := newTestRecorder(t, dir)

	if err := rec.SaveSession(context.Background(), testSession()); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sessions := readCSV(t, filepath.Join(dir, "sessions.csv"))
	if len(sessions) != 2 {
		t.Fatalf("sessions.csv has %d rows, want header + 1", len(sessions))
	}
	row := sessions[1]
	if row[0] != "6f1c2c5e-8f55-4d1e-9a57-2f2b8e0c9d11" || row[3] != tower.SessionMethod {
		t.Fatalf("session row = %q", row)
	}
	if row[5] != "-25.970100" || row[10] != "42" || row[11] != "2025-03-14T09:30:00Z" {
		t.Fatalf("session row = %q", row)
	}

	readings := readCSV(t, filepath.Join(dir, "readings.csv"))
	if len(readings) != 3 {
		t.Fatalf("readings.csv has %d rows, want header + 2", len(readings))
	}
	if readings[2][4] != "6D9E" || readings[2][9] != "-80" || readings[2][11] != "120.5" {
		t.Fatalf("second reading row = %q", readings[2])
	}
}

func TestRecorderAppendsWithoutRepeatingHeader(t *testing.T) {
	dir := t.TempDir()
	for range 2 {
		rec := newTestRecorder(t, dir)
		if err := rec.SaveSession(context.Background(), testSession()); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
		if err := rec.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if got := len(readCSV(t, filepath.Join(dir, "sessions.csv"))); got != 3 {
		t.Fatalf("sessions.csv has %d rows, want header + 2", got)
	}
}

func TestSaveSessionConcurrent(t *testing.T) {
	dir := t.TempDir()
	rec := newTestRecorder(t, dir)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := testSession()
			s.ID = uuid.New()
			if err := rec.SaveSession(context.Background(), s); err != nil {
				t.Errorf("SaveSession: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(readCSV(t, filepath.Join(dir, "readings.csv"))); got != 1+8*2 {
		t.Fatalf("readings.csv has %d rows, want %d", got, 1+8*2)
	}
}

func TestSaveSessionCancelled(t *testing.T) {
	rec := newTestRecorder(t, t.TempDir())
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.SaveSession(ctx, testSession()); err == nil {
		t.Fatal("SaveSession succeeded with a cancelled context")
	}
}

func TestSaveSessionKeepsSessionWithItsReadings(t *testing.T) {
	dir := t.TempDir()
	rec := newTestRecorder(t, dir)
	rec.readings.Close()

	if err := rec.SaveSession(context.Background(), testSession()); err == nil {
		t.Fatal("SaveSession succeeded with the readings log closed")
	}
	rec.sessions.Close()

	if got := len(readCSV(t, filepath.Join(dir, "sessions.csv"))); got != 1 {
		t.Fatalf("sessions.csv has %d rows, want only the header", got)
	}
}
