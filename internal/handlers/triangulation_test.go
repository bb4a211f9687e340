package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"towerloc/internal/logging"
	"towerloc/internal/position"
	"towerloc/internal/scanner"
	"towerloc/internal/tower"
)

type fakeLocator struct {
	result    *tower.Result
	err       error
	status    position.Status
	gotSim    *bool
	gotUser   string
	simulateN int
}

func (f *fakeLocator) Locate(ctx context.Context, useSimulation bool) (*tower.Result, error) {
	f.gotSim = &useSimulation
	f.gotUser = position.UserFromContext(ctx)
	return f.result, f.err
}

func (f *fakeLocator) Simulate(context.Context) (*tower.Result, error) {
	f.simulateN++
	return f.result, f.err
}

func (f *fakeLocator) Status(context.Context) position.Status { return f.status }

func sampleResult() *tower.Result {
	return &tower.Result{
		Latitude:       -25.9701,
		Longitude:      32.5865,
		AccuracyMeters: 517,
		TowersUsed:     3,
		Confidence:     0.6,
		Method:         position.MethodHybrid,
		Timestamp:      time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Towers: []tower.Observation{{
			Identifier:         tower.NormalizeIdentifier("643", "01", "2A4B", "5C8D"),
			Operator:           "mCel",
			Location:           orb.Point{32.5732, -25.9692},
			SignalStrengthDBm:  -65,
			BandMHz:            1800,
			EstimatedDistanceM: 50,
		}},
	}
}

func serve(h *TriangulationHandler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHandleLocate(t *testing.T) {
	loc := &fakeLocator{result: sampleResult()}
	h := NewTriangulationHandler(loc, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/api/triangulation/locate", strings.NewReader(`{"simulation": false}`))
	req.Header.Set(UserHeader, "farmer-17")
	rr := serve(h, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if loc.gotSim == nil || *loc.gotSim {
		t.Fatalf("Locate called with simulation = %v, want false", loc.gotSim)
	}
	if loc.gotUser != "farmer-17" {
		t.Fatalf("user = %q, want farmer-17", loc.gotUser)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("response lacks X-Request-ID")
	}

	var body locateResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.TowersUsed != 3 || len(body.Towers) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Towers[0].CellID != "5C8D" || body.Towers[0].RSSI != -65 {
		t.Fatalf("tower = %+v", body.Towers[0])
	}
	if !strings.Contains(body.MapsLink, "-25.970100,32.586500") {
		t.Fatalf("MapsLink = %q", body.MapsLink)
	}
}

func TestHandleLocateDefaultsToSimulation(t *testing.T) {
	loc := &fakeLocator{result: sampleResult()}
	h := NewTriangulationHandler(loc, logging.Discard())

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/triangulation/locate", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if loc.gotSim == nil || !*loc.gotSim {
		t.Fatalf("Locate called with simulation = %v, want true", loc.gotSim)
	}
}

func TestHandleLocateErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", `{"simulation":`, nil, http.StatusBadRequest},
		{"unavailable", `{}`, fmt.Errorf("%w: %w", position.ErrLocationUnavailable, scanner.ErrScanFailed), http.StatusServiceUnavailable},
		{"unexpected", `{}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTriangulationHandler(&fakeLocator{err: tt.err}, logging.Discard())
			rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/triangulation/locate", strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			var body errorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success || body.Error == "" {
				t.Fatalf("body = %+v, want success=false with an error", body)
			}
		})
	}
}

func TestHandleLocateRejectsGet(t *testing.T) {
	h := NewTriangulationHandler(&fakeLocator{}, logging.Discard())
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/triangulation/locate", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	loc := &fakeLocator{status: position.Status{
		LiveAvailable:  true,
		LiveSource:     "modem",
		SimulationMode: true,
		Modems:         []scanner.PortInfo{{Name: "/dev/ttyUSB2"}},
	}}
	rr := serve(NewTriangulationHandler(loc, logging.Discard()), httptest.NewRequest(http.MethodGet, "/api/triangulation/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Available || body.Method != "hardware" || !body.Hardware.ModemDetected {
		t.Fatalf("body = %+v", body)
	}

	loc.status = position.Status{SimulationMode: true, ModemError: "permission denied"}
	rr = serve(NewTriangulationHandler(loc, logging.Discard()), httptest.NewRequest(http.MethodGet, "/api/triangulation/status", nil))
	body = statusResponse{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Method != "simulation" || body.Error != "permission denied" {
		t.Fatalf("body = %+v", body)
	}
}

func TestHandleTest(t *testing.T) {
	loc := &fakeLocator{result: sampleResult()}
	rr := serve(NewTriangulationHandler(loc, logging.Discard()), httptest.NewRequest(http.MethodGet, "/api/triangulation/test", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if loc.simulateN != 1 {
		t.Fatalf("Simulate called %d times, want 1", loc.simulateN)
	}
	var body testResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TestStatus != "ok" || body.Simulation == nil || body.Simulation.Towers != 1 {
		t.Fatalf("body = %+v", body)
	}

	failing := &fakeLocator{err: position.ErrLocationUnavailable}
	rr = serve(NewTriangulationHandler(failing, logging.Discard()), httptest.NewRequest(http.MethodGet, "/api/triangulation/test", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

type fakeHistory struct {
	sessions []tower.Session
	err      error
	gotLimit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]tower.Session, error) {
	f.gotLimit = limit
	return f.sessions, f.err
}

func TestHandleHistory(t *testing.T) {
	id := uuid.MustParse("6f1c2c5e-8f55-4d1e-9a57-2f2b8e0c9d11")
	hist := &fakeHistory{sessions: []tower.Session{{
		ID:             id,
		UserID:         "farmer-17",
		Source:         "modem",
		Result:         *sampleResult(),
		ProcessingTime: 42 * time.Millisecond,
		CreatedAt:      time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}}}
	h := NewTriangulationHandler(&fakeLocator{}, logging.Discard()).WithHistory(hist)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/triangulation/history?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if hist.gotLimit != 5 {
		t.Fatalf("limit = %d, want 5", hist.gotLimit)
	}
	var body historyResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || len(body.Sessions) != 1 {
		t.Fatalf("body = %+v", body)
	}
	s := body.Sessions[0]
	if s.SessionID != id.String() || s.UserID != "farmer-17" || s.Source != "modem" {
		t.Fatalf("session = %+v", s)
	}
	if s.ProcessingTimeMs != 42 || s.TowersUsed != 3 || len(s.Towers) != 1 {
		t.Fatalf("session result = %+v", s.locateResponse)
	}
}

func TestHandleHistoryLimits(t *testing.T) {
	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{"", http.StatusOK, defaultHistoryLimit},
		{"?limit=1000", http.StatusOK, maxHistoryLimit},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		hist := &fakeHistory{}
		h := NewTriangulationHandler(&fakeLocator{}, logging.Discard()).WithHistory(hist)
		rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/triangulation/history"+tt.query, nil))
		if rr.Code != tt.wantCode {
			t.Fatalf("%q: status = %d, want %d", tt.query, rr.Code, tt.wantCode)
		}
		if hist.gotLimit != tt.wantLimit {
			t.Fatalf("%q: limit = %d, want %d", tt.query, hist.gotLimit, tt.wantLimit)
		}
	}
}

func TestHandleHistoryErrors(t *testing.T) {
	h := NewTriangulationHandler(&fakeLocator{}, logging.Discard()).WithHistory(&fakeHistory{err: fmt.Errorf("connection reset")})
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/triangulation/history", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}

	rr = serve(NewTriangulationHandler(&fakeLocator{}, logging.Discard()), httptest.NewRequest(http.MethodGet, "/api/triangulation/history", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status without a history store = %d, want 404", rr.Code)
	}
}
