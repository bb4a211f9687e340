// Package scanner collects visible towers from a reading source and
// resolves them against the tower catalog.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"towerloc/internal/catalog"
	"towerloc/internal/propagation"
	"towerloc/internal/tower"
)

var (
	// ErrScanFailed wraps every source failure, including timeouts.
	ErrScanFailed = errors.New("tower scan failed")
	// ErrNoModem is returned by hardware sources when no modem answers.
	ErrNoModem = errors.New("no modem available")
)

const (
	DefaultTimeout = 10 * time.Second

	minPlausibleRSSI = -150
	maxPlausibleRSSI = -20
)

// Source yields the towers currently visible to a radio.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]tower.Reading, error)
}

// Catalog resolves identifiers to tower positions.
type Catalog interface {
	Lookup(id tower.Identifier) (catalog.Entry, bool)
}

// DistanceModel converts a signal reading into metres.
type DistanceModel interface {
	Distance(rssiDBm, frequencyMHz int) float64
}

// MetricsRecorder is notified about readings that were discarded.
type MetricsRecorder interface {
	RecordUnknownTower(source string)
}

// Scanner turns raw readings from one source into observations.
type Scanner struct {
	source  Source
	catalog Catalog
	model   DistanceModel
	timeout time.Duration
	log     *slog.Logger
	metrics MetricsRecorder
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithTimeout bounds each call to Source.Read.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetricsRecorder reports dropped readings.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Scanner) { s.metrics = m }
}

// New constructs a Scanner. model defaults to propagation.NewModel.
func New(source Source, cat Catalog, model DistanceModel, log *slog.Logger, opts ...Option) *Scanner {
	if model == nil {
		model = propagation.NewModel()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scanner{
		source:  source,
		catalog: cat,
		model:   model,
		timeout: DefaultTimeout,
		log:     log.With("source", source.Name()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SourceName returns the name of the underlying reading source.
func (s *Scanner) SourceName() string { return s.source.Name() }

// Scan reads the visible towers and returns those present in the catalog.
// Readings that are malformed or unknown are logged and dropped; only a
// failure of the source itself is returned as an error.
func (s *Scanner) Scan(ctx context.Context) ([]tower.Observation, error) {
	readings, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	observations := make([]tower.Observation, 0, len(readings))
	for _, r := range readings {
		if err := validate(r); err != nil {
			s.log.Warn("dropping malformed reading", "tower", r.Identifier.String(), "err", err)
			continue
		}
		entry, ok := s.catalog.Lookup(r.Identifier)
		if !ok {
			s.log.Warn("dropping unknown tower", "tower", r.Identifier.String(), "rssi_dbm", r.RSSIDBm)
			if s.metrics != nil {
				s.metrics.RecordUnknownTower(s.source.Name())
			}
			continue
		}
		observations = append(observations, observe(r, entry, s.model))
	}

	s.log.Debug("scan complete", "readings", len(readings), "observations", len(observations))
	return observations, nil
}

// read calls the source under the scan timeout. The call runs on its own
// goroutine so that a source blocked in I/O cannot outlive the deadline.
func (s *Scanner) read(ctx context.Context) ([]tower.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		readings []tower.Reading
		err      error
	}
	done := make(chan result, 1)
	go func() {
		readings, err := s.source.Read(ctx)
		done <- result{readings: readings, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrScanFailed, s.source.Name(), ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrScanFailed, s.source.Name(), res.err)
		}
		return res.readings, nil
	}
}

func validate(r tower.Reading) error {
	if !r.Identifier.Valid() {
		return errors.New("incomplete identifier")
	}
	if r.RSSIDBm < minPlausibleRSSI || r.RSSIDBm > maxPlausibleRSSI {
		return fmt.Errorf("rssi %d dBm out of range", r.RSSIDBm)
	}
	return nil
}

func observe(r tower.Reading, e catalog.Entry, model DistanceModel) tower.Observation {
	band := r.BandMHz
	if band <= 0 {
		band = e.BandMHz
	}
	if band <= 0 {
		band = propagation.DefaultBandMHz
	}
	operator := r.Operator
	if operator == "" {
		operator = e.Operator
	}
	return tower.Observation{
		Identifier:         r.Identifier,
		Operator:           operator,
		Technology:         r.Technology,
		Location:           e.Location,
		SignalStrengthDBm:  r.RSSIDBm,
		BandMHz:            band,
		EstimatedDistanceM: model.Distance(r.RSSIDBm, band),
	}
}
