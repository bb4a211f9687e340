package recorder

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"towerloc/internal/tower"
)

var (
	sessionHeader = []string{
		"session_id", "user_id", "source", "method", "estimation_method",
		"latitude", "longitude", "accuracy_m", "confidence", "towers_used",
		"processing_ms", "created_at",
	}
	readingHeader = []string{
		"session_id", "mcc", "mnc", "lac", "cell_id", "operator", "technology",
		"latitude", "longitude", "rssi_dbm", "band_mhz", "distance_m",
	}
)

// Recorder appends sessions and their tower readings to two CSV files in
// one directory. It is safe for concurrent use. A session's readings are
// written before its session row, so a failed write can leave orphan
// readings but never a session without its towers.
type Recorder struct {
	mu       sync.Mutex
	sessions *os.File
	readings *os.File
	log      *slog.Logger
}

func openLog(path string, header []string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		line, err := encodeRows([][]string{header})
		if err == nil {
			_, err = file.Write(line)
		}
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("writing header to %s: %w", path, err)
		}
	}
	return file, nil
}

func encodeRows(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewRecorder opens (or creates) sessions.csv and readings.csv in dir.
func NewRecorder(dir string, log *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session log dir: %w", err)
	}
	sessions, err := openLog(filepath.Join(dir, "sessions.csv"), sessionHeader)
	if err != nil {
		return nil, err
	}
	readings, err := openLog(filepath.Join(dir, "readings.csv"), readingHeader)
	if err != nil {
		sessions.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		sessions: sessions,
		readings: readings,
		log:      log,
	}, nil
}

func formatFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// SaveSession writes one row per tower followed by the session row.
func (r *Recorder) SaveSession(ctx context.Context, s tower.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := s.ID.String()
	res := s.Result

	session, err := encodeRows([][]string{{
		id,
		s.UserID,
		s.Source,
		tower.SessionMethod,
		res.Method,
		formatFloat(res.Latitude, 6),
		formatFloat(res.Longitude, 6),
		formatFloat(res.AccuracyMeters, 1),
		formatFloat(res.Confidence, 2),
		strconv.Itoa(res.TowersUsed),
		strconv.FormatInt(s.ProcessingTime.Milliseconds(), 10),
		s.CreatedAt.UTC().Format(time.RFC3339),
	}})
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", id, err)
	}

	rows := make([][]string, 0, len(res.Towers))
	for _, o := range res.Towers {
		rows = append(rows, []string{
			id,
			o.Identifier.CountryCode,
			o.Identifier.NetworkCode,
			o.Identifier.AreaCode,
			o.Identifier.CellID,
			o.Operator,
			o.Technology,
			formatFloat(o.Latitude(), 6),
			formatFloat(o.Longitude(), 6),
			strconv.Itoa(o.SignalStrengthDBm),
			strconv.Itoa(o.BandMHz),
			formatFloat(o.EstimatedDistanceM, 1),
		})
	}
	readings, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("encoding readings for %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.readings.Write(readings); err != nil {
		return fmt.Errorf("writing readings for %s: %w", id, err)
	}
	if _, err := r.sessions.Write(session); err != nil {
		return fmt.Errorf("writing session %s: %w", id, err)
	}

	r.log.Debug("session recorded", "session_id", id, "towers", len(res.Towers))
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errS := r.sessions.Close()
	errR := r.readings.Close()
	if errS != nil {
		return errS
	}
	return errR
}
