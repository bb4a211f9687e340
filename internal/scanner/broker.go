package scanner

import (
	"context"
	"time"

	"towerloc/internal/tower"
)

// ReadingSnapshotter is satisfied by storage.Storage.
type ReadingSnapshotter interface {
	Snapshot(maxAge time.Duration) []tower.Reading
}

// BrokerSource serves the readings most recently published by a modem
// gateway over MQTT.
type BrokerSource struct {
	store  ReadingSnapshotter
	maxAge time.Duration
}

// NewBrokerSource reads from store, ignoring readings older than maxAge.
func NewBrokerSource(store ReadingSnapshotter, maxAge time.Duration) *BrokerSource {
	return &BrokerSource{store: store, maxAge: maxAge}
}

func (b *BrokerSource) Name() string { return "mqtt" }

func (b *BrokerSource) Read(ctx context.Context) ([]tower.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.store.Snapshot(b.maxAge), nil
}
