package position

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"towerloc/internal/tower"
)

const (
	metresPerDegree = 111320.0
	degenerateDet   = 1e-10

	minSignalWeight = 0.1
	maxSignalWeight = 1.0
)

// Beacon is a tower projected onto the local plane, in metres, with its
// estimated range.
type Beacon struct {
	X, Y     float64
	Distance float64
}

// projection is an equirectangular plane centred on a reference point.
// It is accurate to a few metres over the tens of kilometres a cell
// neighbourhood spans.
type projection struct {
	ref    orb.Point
	cosLat float64
}

func newProjection(ref orb.Point) projection {
	return projection{ref: ref, cosLat: math.Cos(ref.Lat() * math.Pi / 180)}
}

func (p projection) toPlane(pt orb.Point) (x, y float64) {
	x = (pt.Lon() - p.ref.Lon()) * metresPerDegree * p.cosLat
	y = (pt.Lat() - p.ref.Lat()) * metresPerDegree
	return x, y
}

func (p projection) toPoint(x, y float64) orb.Point {
	lat := p.ref.Lat() + y/metresPerDegree
	lon := p.ref.Lon() + x/(metresPerDegree*p.cosLat)
	return orb.Point{lon, lat}
}

func (p projection) beacon(o tower.Observation) Beacon {
	x, y := p.toPlane(o.Location)
	return Beacon{X: x, Y: y, Distance: o.EstimatedDistanceM}
}

// trilaterate intersects three range circles by subtracting the circle
// equations of pairs 1-2 and 2-3, which leaves a 2x2 linear system.
func trilaterate(b [3]Beacon) (x, y float64, err error) {
	b1, b2, b3 := b[0], b[1], b[2]
	r1, r2, r3 := b1.Distance, b2.Distance, b3.Distance

	a := mat.NewDense(2, 2, []float64{
		2 * (b2.X - b1.X), 2 * (b2.Y - b1.Y),
		2 * (b3.X - b2.X), 2 * (b3.Y - b2.Y),
	})
	rhs := mat.NewVecDense(2, []float64{
		r1*r1 - r2*r2 - b1.X*b1.X + b2.X*b2.X - b1.Y*b1.Y + b2.Y*b2.Y,
		r2*r2 - r3*r3 - b2.X*b2.X + b3.X*b3.X - b2.Y*b2.Y + b3.Y*b3.Y,
	})

	if det := mat.Det(a); math.Abs(det) < degenerateDet {
		return 0, 0, fmt.Errorf("%w: determinant %g", ErrDegenerateGeometry, det)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, rhs); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	return sol.AtVec(0), sol.AtVec(1), nil
}

// signalWeight maps -110 dBm..-50 dBm onto 0..1, floored at 0.1 so that
// weak towers still pull the centroid.
func signalWeight(rssiDBm int) float64 {
	w := (float64(rssiDBm) + 110) / 60
	return math.Max(minSignalWeight, math.Min(maxSignalWeight, w))
}

// weightedCentroid averages tower coordinates weighted by signal strength.
func weightedCentroid(obs []tower.Observation) orb.Point {
	lats := make([]float64, len(obs))
	lons := make([]float64, len(obs))
	weights := make([]float64, len(obs))
	for i, o := range obs {
		lats[i] = o.Latitude()
		lons[i] = o.Longitude()
		weights[i] = signalWeight(o.SignalStrengthDBm)
	}
	return orb.Point{stat.Mean(lons, weights), stat.Mean(lats, weights)}
}
