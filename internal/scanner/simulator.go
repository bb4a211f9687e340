package scanner

import (
	"context"
	"math/rand/v2"
	"sync"

	"towerloc/internal/catalog"
	"towerloc/internal/tower"
)

// Simulator fabricates a scan from catalog towers. It stands in for a modem
// during development and demos.
type Simulator struct {
	entries []catalog.Entry

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator builds a simulator over the given catalog entries, seeded
// for reproducible output.
func NewSimulator(entries []catalog.Entry, seed uint64) *Simulator {
	return &Simulator{
		entries: entries,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Simulator) Name() string { return "simulation" }

// Read reports between three and five towers (fewer if the catalog is
// smaller), each with a base signal in [-85, -60] dBm plus up to 10 dB of
// variation either way.
func (s *Simulator) Read(ctx context.Context) ([]tower.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	if n > 3 {
		n = 3 + s.rng.IntN(min(5, n)-3+1)
	}

	readings := make([]tower.Reading, 0, n)
	for _, e := range s.entries[:n] {
		base := -85 + s.rng.IntN(26)
		variation := -10 + s.rng.IntN(21)
		readings = append(readings, tower.Reading{
			Identifier: e.Identifier,
			RSSIDBm:    base + variation,
			BandMHz:    e.BandMHz,
			Operator:   e.Operator,
			Technology: "LTE",
		})
	}
	return readings, nil
}
