// Package catalog maps cell identifiers to the fixed coordinates of their
// towers.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"towerloc/internal/tower"
)

// Entry is the reference data known about one cell site.
type Entry struct {
	Identifier      tower.Identifier
	Location        orb.Point // lon, lat
	Operator        string
	Region          string
	CoverageRadiusM float64
	BandMHz         int
}

// Catalog is an in-memory, thread-safe lookup of known towers. It is
// populated once at startup and only read afterwards.
type Catalog struct {
	mu      sync.RWMutex
	entries map[tower.Identifier]Entry
}

// New constructs an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[tower.Identifier]Entry)}
}

// Add inserts an entry. It returns an error for incomplete identifiers and
// for duplicates.
func (c *Catalog) Add(e Entry) error {
	if !e.Identifier.Valid() {
		return fmt.Errorf("catalog: incomplete identifier %q", e.Identifier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[e.Identifier]; exists {
		return fmt.Errorf("catalog: tower %s already exists", e.Identifier)
	}
	c.entries[e.Identifier] = e
	return nil
}

// Lookup returns the entry for id. The boolean is false when the tower is
// unknown and therefore cannot be positioned.
func (c *Catalog) Lookup(id tower.Identifier) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of known towers.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a snapshot of all entries ordered by catalog key.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	res := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		res = append(res, e)
	}
	c.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		return res[i].Identifier.String() < res[j].Identifier.String()
	})
	return res
}
