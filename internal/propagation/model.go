// Package propagation converts received signal strength into an estimated
// distance from the emitting tower.
//
// The model is an empirical free-space-path-loss variant. It gives a rough
// range for positioning, not a physical guarantee.
package propagation

import "math"

const (
	// DefaultTxPowerDBm is the assumed tower transmit power (10 W).
	DefaultTxPowerDBm = 40.0
	// DefaultBandMHz is used when a reading does not carry its band.
	DefaultBandMHz = 1800

	// MinDistanceM and MaxDistanceM bound every modelled distance. The
	// formula branch is capped at the far-edge value so that very low
	// carrier frequencies cannot report a weaker signal as closer.
	MinDistanceM = 50.0
	MaxDistanceM = 10000.0

	// readings at or above NearRSSIDBm are treated as "next to the tower",
	// at or below FarRSSIDBm as "at the edge of coverage".
	NearRSSIDBm = -50
	FarRSSIDBm  = -110

	lowBandCeilingMHz = 900
)

// Model holds the parameters of the RSSI-to-distance conversion.
type Model struct {
	TxPowerDBm float64
}

// NewModel returns a model with the default transmit power.
func NewModel() *Model {
	return &Model{TxPowerDBm: DefaultTxPowerDBm}
}

// Distance returns the modelled distance in metres for a reading of rssiDBm
// on a carrier of frequencyMHz. The result is always within
// [MinDistanceM, MaxDistanceM] and never increases as rssi increases.
func (m *Model) Distance(rssiDBm, frequencyMHz int) float64 {
	if rssiDBm >= NearRSSIDBm {
		return MinDistanceM
	}
	if rssiDBm <= FarRSSIDBm {
		return MaxDistanceM
	}
	if frequencyMHz <= 0 {
		frequencyMHz = DefaultBandMHz
	}

	txPower := m.TxPowerDBm
	if txPower == 0 {
		txPower = DefaultTxPowerDBm
	}
	pathLoss := txPower - float64(rssiDBm)
	freq := float64(frequencyMHz)

	var exponent float64
	if frequencyMHz <= lowBandCeilingMHz {
		exponent = (pathLoss - 32.44 - 20*math.Log10(freq)) / 20
	} else {
		exponent = (pathLoss - 36.7 - 22.7*math.Log10(freq)) / 20
	}

	return clamp(math.Pow(10, exponent), MinDistanceM, MaxDistanceM)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
