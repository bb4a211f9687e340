package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"towerloc/internal/logging"
	"towerloc/internal/position"
	"towerloc/internal/tower"
)

// UserHeader carries the caller's user reference, if any.
const UserHeader = "X-User-ID"

type TriangulationHandler struct {
	svc     Locator
	history HistoryReader
	log     *slog.Logger
}

// Locator is satisfied by position.Service.
type Locator interface {
	Locate(ctx context.Context, useSimulation bool) (*tower.Result, error)
	Simulate(ctx context.Context) (*tower.Result, error)
	Status(ctx context.Context) position.Status
}

// HistoryReader lists persisted sessions, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]tower.Session, error)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// LocateRequest selects the reading source. Simulation is used when the
// field is omitted.
type LocateRequest struct {
	Simulation *bool `json:"simulation"`
}

type towerResponse struct {
	MCC        string  `json:"mcc"`
	MNC        string  `json:"mnc"`
	LAC        string  `json:"lac"`
	CellID     string  `json:"cell_id"`
	Operator   string  `json:"operator"`
	Technology string  `json:"technology,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	RSSI       int     `json:"rssi"`
	BandMHz    int     `json:"band_mhz"`
	DistanceM  float64 `json:"distance"`
}

type locateResponse struct {
	Success          bool            `json:"success"`
	Latitude         float64         `json:"latitude"`
	Longitude        float64         `json:"longitude"`
	AccuracyMeters   float64         `json:"accuracy_meters"`
	TowersUsed       int             `json:"towers_used"`
	Confidence       float64         `json:"confidence"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Method           string          `json:"method"`
	Timestamp        time.Time       `json:"timestamp"`
	MapsLink         string          `json:"maps_link"`
	Towers           []towerResponse `json:"towers"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	locateResponse
}

type historyResponse struct {
	Success  bool              `json:"success"`
	Sessions []sessionResponse `json:"sessions"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type hardwareStatus struct {
	ModemDetected bool   `json:"modem_detected"`
	LiveSource    string `json:"live_source,omitempty"`
}

type statusResponse struct {
	Available bool           `json:"available"`
	Method    string         `json:"method"`
	Hardware  hardwareStatus `json:"hardware"`
	Modems    any            `json:"modems"`
	Error     string         `json:"error,omitempty"`
}

type simulationSummary struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Towers    int     `json:"towers"`
}

type testResponse struct {
	SystemAvailable bool               `json:"system_available"`
	Timestamp       time.Time          `json:"timestamp"`
	TestStatus      string             `json:"test_status"`
	Simulation      *simulationSummary `json:"simulation,omitempty"`
	Error           string             `json:"error,omitempty"`
}

func NewTriangulationHandler(svc Locator, log *slog.Logger) *TriangulationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TriangulationHandler{svc: svc, log: log}
}

// WithHistory serves recorded sessions from r under /history.
func (h *TriangulationHandler) WithHistory(r HistoryReader) *TriangulationHandler {
	h.history = r
	return h
}

// Register mounts the triangulation routes on mux.
func (h *TriangulationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/triangulation/locate", h.HandleLocate)
	mux.HandleFunc("/api/triangulation/status", h.HandleStatus)
	mux.HandleFunc("/api/triangulation/test", h.HandleTest)
	if h.history != nil {
		mux.HandleFunc("/api/triangulation/history", h.HandleHistory)
	}
}

func (h *TriangulationHandler) requestContext(w http.ResponseWriter, r *http.Request) (context.Context, *slog.Logger) {
	ctx := r.Context()
	if id := r.Header.Get("X-Request-ID"); id != "" {
		ctx = logging.ContextWithRequestID(ctx, id)
	}
	ctx, log := logging.WithRequestLogger(ctx, h.log)
	w.Header().Set("X-Request-ID", logging.RequestIDFromContext(ctx))
	if user := r.Header.Get(UserHeader); user != "" {
		ctx = position.ContextWithUser(ctx, user)
	}
	return ctx, log
}

func (h *TriangulationHandler) HandleLocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	ctx, log := h.requestContext(w, r)

	var req LocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	useSimulation := req.Simulation == nil || *req.Simulation

	result, err := h.svc.Locate(ctx, useSimulation)
	if err != nil {
		if errors.Is(err, position.ErrLocationUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		log.Error("locate failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "triangulation failed"})
		return
	}

	writeJSON(w, http.StatusOK, newLocateResponse(result, time.Since(start)))
}

func (h *TriangulationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, _ := h.requestContext(w, r)
	st := h.svc.Status(ctx)

	resp := statusResponse{
		Available: st.LiveAvailable || st.SimulationMode,
		Method:    "none",
		Hardware: hardwareStatus{
			ModemDetected: len(st.Modems) > 0,
			LiveSource:    st.LiveSource,
		},
		Modems: st.Modems,
		Error:  st.ModemError,
	}
	switch {
	case st.LiveAvailable:
		resp.Method = "hardware"
	case st.SimulationMode:
		resp.Method = "simulation"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TriangulationHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, log := h.requestContext(w, r)

	result, err := h.svc.Simulate(ctx)
	if err != nil {
		log.Warn("simulation test failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, testResponse{
			Timestamp:  time.Now().UTC(),
			TestStatus: "error",
			Error:      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, testResponse{
		SystemAvailable: true,
		Timestamp:       time.Now().UTC(),
		TestStatus:      "ok",
		Simulation: &simulationSummary{
			Latitude:  result.Latitude,
			Longitude: result.Longitude,
			Accuracy:  result.AccuracyMeters,
			Towers:    len(result.Towers),
		},
	})
}

func (h *TriangulationHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, log := h.requestContext(w, r)

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	sessions, err := h.history.Recent(ctx, limit)
	if err != nil {
		log.Error("loading history failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}

	resp := historyResponse{Success: true, Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, sessionResponse{
			SessionID:      s.ID.String(),
			UserID:         s.UserID,
			Source:         s.Source,
			CreatedAt:      s.CreatedAt,
			locateResponse: newLocateResponse(&s.Result, s.ProcessingTime),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func newLocateResponse(res *tower.Result, elapsed time.Duration) locateResponse {
	towers := make([]towerResponse, 0, len(res.Towers))
	for _, o := range res.Towers {
		towers = append(towers, towerResponse{
			MCC:        o.Identifier.CountryCode,
			MNC:        o.Identifier.NetworkCode,
			LAC:        o.Identifier.AreaCode,
			CellID:     o.Identifier.CellID,
			Operator:   o.Operator,
			Technology: o.Technology,
			Latitude:   o.Latitude(),
			Longitude:  o.Longitude(),
			RSSI:       o.SignalStrengthDBm,
			BandMHz:    o.BandMHz,
			DistanceM:  o.EstimatedDistanceM,
		})
	}
	return locateResponse{
		Success:          true,
		Latitude:         res.Latitude,
		Longitude:        res.Longitude,
		AccuracyMeters:   res.AccuracyMeters,
		TowersUsed:       res.TowersUsed,
		Confidence:       res.Confidence,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Method:           res.Method,
		Timestamp:        res.Timestamp,
		MapsLink:         res.MapsLink(),
		Towers:           towers,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
