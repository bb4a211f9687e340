package propagation

import "testing"

// These tests check range and ordering only. The model is an approximation
// and makes no claim about real-world accuracy.

func TestDistanceClampsAtSignalExtremes(t *testing.T) {
	m := NewModel()

	if got := m.Distance(-40, 1800); got != 50.0 {
		t.Fatalf("Distance(-40, 1800) = %v, want 50", got)
	}
	if got := m.Distance(-50, 900); got != 50.0 {
		t.Fatalf("Distance(-50, 900) = %v, want 50", got)
	}
	if got := m.Distance(-115, 1800); got != 10000.0 {
		t.Fatalf("Distance(-115, 1800) = %v, want 10000", got)
	}
	if got := m.Distance(-110, 2100); got != 10000.0 {
		t.Fatalf("Distance(-110, 2100) = %v, want 10000", got)
	}
}

func TestDistanceWithinBounds(t *testing.T) {
	m := NewModel()
	for _, freq := range []int{0, 10, 50, 700, 800, 900, 1800, 2100, 2600, 3500} {
		for rssi := -150; rssi <= 0; rssi++ {
			d := m.Distance(rssi, freq)
			if d < MinDistanceM || d > MaxDistanceM {
				t.Fatalf("Distance(%d, %d) = %v, want within [%v, %v]", rssi, freq, d, MinDistanceM, MaxDistanceM)
			}
		}
	}
}

func TestDistanceMonotonicInSignal(t *testing.T) {
	m := NewModel()
	for _, freq := range []int{10, 700, 800, 900, 1800, 2100, 2600} {
		prev := m.Distance(-130, freq)
		for rssi := -129; rssi <= -20; rssi++ {
			d := m.Distance(rssi, freq)
			if d > prev {
				t.Fatalf("freq %d: Distance(%d) = %v exceeds Distance(%d) = %v", freq, rssi, d, rssi-1, prev)
			}
			prev = d
		}
	}
}

func TestDistanceStrictlyFartherForWeakerSignal(t *testing.T) {
	m := NewModel()

	// Above the 50 m floor the formula separates readings.
	if near, far := m.Distance(-105, 1800), m.Distance(-109, 1800); !(near < far) {
		t.Fatalf("Distance(-105, 1800) = %v, want < Distance(-109, 1800) = %v", near, far)
	}
	if near, far := m.Distance(-90, 900), m.Distance(-100, 900); !(near < far) {
		t.Fatalf("Distance(-90, 900) = %v, want < Distance(-100, 900) = %v", near, far)
	}
	if near, far := m.Distance(-60, 1800), m.Distance(-90, 1800); near > far {
		t.Fatalf("Distance(-60, 1800) = %v, want <= Distance(-90, 1800) = %v", near, far)
	}
}

func TestLowBandReachesFartherThanHighBand(t *testing.T) {
	m := NewModel()
	if low, high := m.Distance(-100, 900), m.Distance(-100, 1800); low <= high {
		t.Fatalf("Distance(-100, 900) = %v, want > Distance(-100, 1800) = %v", low, high)
	}
}

func TestDistanceDefaultsMissingBand(t *testing.T) {
	m := NewModel()
	if got, want := m.Distance(-107, 0), m.Distance(-107, DefaultBandMHz); got != want {
		t.Fatalf("Distance(-107, 0) = %v, want default band value %v", got, want)
	}
}

func TestCSQToDBm(t *testing.T) {
	cases := []struct {
		csq  int
		want int
		ok   bool
	}{
		{0, -113, true},
		{15, -83, true},
		{31, -51, true},
		{99, 0, false},
		{-1, 0, false},
	}
	for _, tc := range cases {
		got, ok := CSQToDBm(tc.csq)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("CSQToDBm(%d) = (%d, %v), want (%d, %v)", tc.csq, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLTEBandMHz(t *testing.T) {
	if got := LTEBandMHz(3); got != 1800 {
		t.Fatalf("LTEBandMHz(3) = %d, want 1800", got)
	}
	if got := LTEBandMHz(8); got != 900 {
		t.Fatalf("LTEBandMHz(8) = %d, want 900", got)
	}
	if got := LTEBandMHz(999); got != DefaultBandMHz {
		t.Fatalf("LTEBandMHz(999) = %d, want default %d", got, DefaultBandMHz)
	}
}
