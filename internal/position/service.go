package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"towerloc/internal/scanner"
	"towerloc/internal/tower"
)

// ErrLocationUnavailable wraps every reason a locate request produced no
// position.
var ErrLocationUnavailable = errors.New("location unavailable")

// Locate outcomes reported to Metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeScanFailed         = "scan_failed"
	OutcomeInsufficientTowers = "insufficient_towers"
	OutcomeDegenerate         = "degenerate_geometry"
	OutcomeNoSource           = "no_source"
)

// TowerScanner yields resolved observations.
type TowerScanner interface {
	Scan(ctx context.Context) ([]tower.Observation, error)
	SourceName() string
}

// SessionStore persists successful locate attempts.
type SessionStore interface {
	SaveSession(ctx context.Context, s tower.Session) error
}

// Metrics observes locate attempts.
type Metrics interface {
	ObserveLocate(source, outcome string, elapsed time.Duration, towers int)
	RecordSessionWriteFailure()
}

type noopMetrics struct{}

func (noopMetrics) ObserveLocate(string, string, time.Duration, int) {}
func (noopMetrics) RecordSessionWriteFailure()                       {}

// PortDetector lists candidate modem ports.
type PortDetector func() ([]scanner.PortInfo, error)

// Service runs scan, estimate and persist for one request at a time. It
// keeps no per-request state, so concurrent calls are independent.
type Service struct {
	live      TowerScanner
	simulated TowerScanner
	estimator *Estimator
	store     SessionStore
	metrics   Metrics
	detect    PortDetector
	tracer    trace.Tracer
	log       *slog.Logger
	now       func() time.Time
}

type ServiceOption func(*Service)

// WithLiveScanner configures the hardware or broker backed scanner.
func WithLiveScanner(s TowerScanner) ServiceOption {
	return func(svc *Service) { svc.live = s }
}

// WithSessionStore enables persistence of successful attempts.
func WithSessionStore(s SessionStore) ServiceOption {
	return func(svc *Service) { svc.store = s }
}

func WithMetrics(m Metrics) ServiceOption {
	return func(svc *Service) { svc.metrics = m }
}

func WithPortDetector(d PortDetector) ServiceOption {
	return func(svc *Service) { svc.detect = d }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// NewService wires a service around the simulated scanner, which is always
// available. The live scanner, session store and metrics are optional.
func NewService(simulated TowerScanner, estimator *Estimator, log *slog.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	svc := &Service{
		simulated: simulated,
		estimator: estimator,
		metrics:   noopMetrics{},
		detect:    scanner.DetectModems,
		tracer:    otel.Tracer("towerloc/position"),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type userKey struct{}

// ContextWithUser attaches the requesting user's reference to ctx.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user reference set by ContextWithUser.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// Locate scans, estimates and records a session. Any failure is returned
// wrapped in ErrLocationUnavailable and nothing is persisted.
func (s *Service) Locate(ctx context.Context, useSimulation bool) (*tower.Result, error) {
	return s.locate(ctx, useSimulation, true)
}

// Simulate runs the locate flow on simulated readings without recording a
// session.
func (s *Service) Simulate(ctx context.Context) (*tower.Result, error) {
	return s.locate(ctx, true, false)
}

func (s *Service) locate(ctx context.Context, useSimulation, persist bool) (*tower.Result, error) {
	start := s.now()

	sc := s.live
	if useSimulation {
		sc = s.simulated
	}
	source := "live"
	if sc != nil {
		source = sc.SourceName()
	}

	ctx, span := s.tracer.Start(ctx, "triangulation.locate", trace.WithAttributes(
		attribute.Bool("simulation", useSimulation),
		attribute.String("source", source),
	))
	defer span.End()

	log := s.log.With("source", source)

	fail := func(outcome string, towers int, err error) (*tower.Result, error) {
		err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.metrics.ObserveLocate(source, outcome, s.now().Sub(start), towers)
		log.Warn("locate failed", "outcome", outcome, "towers", towers, "err", err)
		return nil, err
	}

	if sc == nil {
		return fail(OutcomeNoSource, 0, scanner.ErrNoModem)
	}

	obs, err := s.scan(ctx, sc)
	if err != nil {
		return fail(OutcomeScanFailed, 0, err)
	}
	if len(obs) < MinTowers {
		return fail(OutcomeInsufficientTowers, len(obs), fmt.Errorf("%w: found %d", ErrInsufficientTowers, len(obs)))
	}

	result, err := s.estimate(ctx, obs)
	if err != nil {
		outcome := OutcomeDegenerate
		if errors.Is(err, ErrInsufficientTowers) {
			outcome = OutcomeInsufficientTowers
		}
		return fail(outcome, len(obs), err)
	}

	elapsed := s.now().Sub(start)
	if persist {
		s.persist(ctx, tower.Session{
			ID:             uuid.New(),
			UserID:         UserFromContext(ctx),
			Source:         source,
			Result:         *result,
			ProcessingTime: elapsed,
			CreatedAt:      start,
		})
	}

	span.SetAttributes(
		attribute.Int("towers_used", result.TowersUsed),
		attribute.Float64("accuracy_m", result.AccuracyMeters),
	)
	s.metrics.ObserveLocate(source, OutcomeSuccess, elapsed, result.TowersUsed)
	log.Info("location estimated",
		"lat", result.Latitude,
		"lon", result.Longitude,
		"accuracy_m", result.AccuracyMeters,
		"towers", result.TowersUsed,
		"method", result.Method,
		"elapsed", elapsed,
	)
	return result, nil
}

func (s *Service) scan(ctx context.Context, sc TowerScanner) ([]tower.Observation, error) {
	ctx, span := s.tracer.Start(ctx, "triangulation.scan")
	defer span.End()
	obs, err := sc.Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("observations", len(obs)))
	return obs, nil
}

func (s *Service) estimate(ctx context.Context, obs []tower.Observation) (*tower.Result, error) {
	_, span := s.tracer.Start(ctx, "triangulation.estimate")
	defer span.End()
	result, err := s.estimator.Estimate(obs)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// persist records the session. A storage failure does not fail the request.
func (s *Service) persist(ctx context.Context, session tower.Session) {
	if s.store == nil {
		return
	}
	ctx, span := s.tracer.Start(ctx, "triangulation.persist")
	defer span.End()
	if err := s.store.SaveSession(ctx, session); err != nil {
		span.RecordError(err)
		s.metrics.RecordSessionWriteFailure()
		s.log.Error("failed to save session", "session_id", session.ID, "err", err)
		return
	}
	s.log.Debug("session saved", "session_id", session.ID)
}

// Status describes the sources available to Locate.
type Status struct {
	LiveSource     string             `json:"live_source,omitempty"`
	LiveAvailable  bool               `json:"live_available"`
	SimulationMode bool               `json:"simulation_available"`
	Modems         []scanner.PortInfo `json:"modems"`
	ModemError     string             `json:"modem_error,omitempty"`
}

func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		LiveAvailable:  s.live != nil,
		SimulationMode: s.simulated != nil,
		Modems:         []scanner.PortInfo{},
	}
	if s.live != nil {
		st.LiveSource = s.live.SourceName()
	}
	if s.detect == nil {
		return st
	}
	ports, err := s.detect()
	if err != nil {
		st.ModemError = err.Error()
		s.log.Warn("modem detection failed", "err", err)
		return st
	}
	if ports != nil {
		st.Modems = ports
	}
	return st
}
