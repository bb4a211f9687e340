// Package position turns resolved tower observations into a location
// estimate and runs the end-to-end locate flow.
package position

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gonum.org/v1/gonum/stat"

	"towerloc/internal/tower"
)

var (
	ErrInsufficientTowers = errors.New("at least 3 towers are required")
	ErrDegenerateGeometry = errors.New("tower geometry is degenerate")
)

const (
	MinTowers = 3

	MethodHybrid   = "hybrid_triangulation"
	MethodCentroid = "weighted_centroid"

	DefaultBlendWeight = 0.7

	maxConfidence        = 0.95
	confidencePerTower   = 0.2
	baseAccuracyM        = 1000.0
	minAccuracyM         = 200.0
	maxAccuracyM         = 5000.0
	spreadNormalisationM = 5000.0
	signalAccuracyFactor = 0.5
	spreadAccuracyFactor = 0.3
	weakestUsefulRSSIDBm = -110.0
	usefulRSSISpanDB     = 60.0
)

// DefaultReference is the projection origin used when none is configured.
var DefaultReference = orb.Point{32.5732, -25.9692}

// EstimatorConfig tunes the estimator.
type EstimatorConfig struct {
	// Reference is the origin of the local plane used for trilateration.
	Reference orb.Point
	// BlendWeight is the trilateration share of the final position; the
	// weighted centroid gets the rest.
	BlendWeight float64
	// FallbackToCentroid returns a centroid-only estimate instead of
	// ErrDegenerateGeometry when the three strongest towers are collinear.
	FallbackToCentroid bool
}

// Estimator is safe for concurrent use; it holds no mutable state.
type Estimator struct {
	cfg  EstimatorConfig
	proj projection
	now  func() time.Time
}

type EstimatorOption func(*Estimator)

// WithClock sets the clock used to timestamp results.
func WithClock(now func() time.Time) EstimatorOption {
	return func(e *Estimator) { e.now = now }
}

func NewEstimator(cfg EstimatorConfig, opts ...EstimatorOption) *Estimator {
	if cfg.Reference == (orb.Point{}) {
		cfg.Reference = DefaultReference
	}
	if cfg.BlendWeight <= 0 || cfg.BlendWeight > 1 {
		cfg.BlendWeight = DefaultBlendWeight
	}
	e := &Estimator{
		cfg:  cfg,
		proj: newProjection(cfg.Reference),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate blends trilateration over the three strongest towers with a
// signal-weighted centroid of all towers.
func (e *Estimator) Estimate(obs []tower.Observation) (*tower.Result, error) {
	if len(obs) < MinTowers {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientTowers, len(obs))
	}

	centroid := weightedCentroid(obs)

	method := MethodHybrid
	confidence := math.Min(maxConfidence, float64(len(obs))*confidencePerTower)
	var position orb.Point

	tri, err := e.trilaterate(obs)
	switch {
	case err == nil:
		w := e.cfg.BlendWeight
		position = orb.Point{
			w*tri.Lon() + (1-w)*centroid.Lon(),
			w*tri.Lat() + (1-w)*centroid.Lat(),
		}
	case errors.Is(err, ErrDegenerateGeometry) && e.cfg.FallbackToCentroid:
		method = MethodCentroid
		confidence /= 2
		position = centroid
	default:
		return nil, err
	}

	return &tower.Result{
		Latitude:       position.Lat(),
		Longitude:      position.Lon(),
		AccuracyMeters: accuracy(obs),
		TowersUsed:     len(obs),
		Confidence:     confidence,
		Method:         method,
		Timestamp:      e.now(),
		Towers:         slices.Clone(obs),
	}, nil
}

func (e *Estimator) trilaterate(obs []tower.Observation) (orb.Point, error) {
	strongest := slices.Clone(obs)
	slices.SortStableFunc(strongest, func(a, b tower.Observation) int {
		return cmp.Compare(b.SignalStrengthDBm, a.SignalStrengthDBm)
	})

	var beacons [3]Beacon
	for i := range beacons {
		beacons[i] = e.proj.beacon(strongest[i])
	}
	x, y, err := trilaterate(beacons)
	if err != nil {
		return orb.Point{}, err
	}
	return e.proj.toPoint(x, y), nil
}

// accuracy shrinks the 1 km baseline for strong signals and wide tower
// spread, within [200, 5000] metres. Signal quality is the mean of the
// strongest MinTowers readings and spread is the widest tower separation,
// so adding a tower, strengthening a reading or moving towers apart never
// raises the result.
func accuracy(obs []tower.Observation) float64 {
	signal := (strongestMeanRSSI(obs) - weakestUsefulRSSIDBm) / usefulRSSISpanDB
	signal = math.Max(0, math.Min(1, signal))

	spread := math.Min(1, maxPairwiseDistance(obs)/spreadNormalisationM)

	acc := baseAccuracyM * (1 - signalAccuracyFactor*signal) * (1 - spreadAccuracyFactor*spread)
	return math.Max(minAccuracyM, math.Min(maxAccuracyM, acc))
}

func strongestMeanRSSI(obs []tower.Observation) float64 {
	rssi := make([]float64, len(obs))
	for i, o := range obs {
		rssi[i] = float64(o.SignalStrengthDBm)
	}
	slices.SortFunc(rssi, func(a, b float64) int { return cmp.Compare(b, a) })
	if len(rssi) > MinTowers {
		rssi = rssi[:MinTowers]
	}
	if len(rssi) == 0 {
		return weakestUsefulRSSIDBm
	}
	return stat.Mean(rssi, nil)
}

func maxPairwiseDistance(obs []tower.Observation) float64 {
	var widest float64
	for i := range obs {
		for j := i + 1; j < len(obs); j++ {
			widest = math.Max(widest, geo.DistanceHaversine(obs[i].Location, obs[j].Location))
		}
	}
	return widest
}
