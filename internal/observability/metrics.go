// Package observability holds the Prometheus collector and tracing setup.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LocateCollector bundles the metrics for the locate flow. It satisfies
// position.Metrics and scanner.MetricsRecorder.
type LocateCollector struct {
	gatherer prometheus.Gatherer

	LocateRequests     *prometheus.CounterVec
	LocateDurations    *prometheus.HistogramVec
	TowersPerLocate    *prometheus.HistogramVec
	UnknownTowers      *prometheus.CounterVec
	SessionWriteErrors prometheus.Counter
	BrokerReadings     prometheus.Counter
}

// NewLocateCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice returns the
// collectors already in place.
func NewLocateCollector(reg prometheus.Registerer) (*LocateCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triangulation_locate_requests_total",
		Help: "Locate attempts, labeled by reading source and outcome.",
	}, []string{"source", "outcome"}), "triangulation_locate_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triangulation_locate_duration_seconds",
		Help:    "Locate latency in seconds, scan included.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"source"}), "triangulation_locate_duration_seconds")
	if err != nil {
		return nil, err
	}

	towers, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triangulation_towers_per_locate",
		Help:    "Catalog towers resolved per locate attempt.",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
	}, []string{"source"}), "triangulation_towers_per_locate")
	if err != nil {
		return nil, err
	}

	unknown, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triangulation_unknown_towers_total",
		Help: "Readings dropped because the tower is not in the catalog.",
	}, []string{"source"}), "triangulation_unknown_towers_total")
	if err != nil {
		return nil, err
	}

	writeErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triangulation_session_write_failures_total",
		Help: "Sessions that could not be persisted.",
	}), "triangulation_session_write_failures_total")
	if err != nil {
		return nil, err
	}

	brokerReadings, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triangulation_broker_readings_total",
		Help: "Tower readings received from the MQTT broker.",
	}), "triangulation_broker_readings_total")
	if err != nil {
		return nil, err
	}

	return &LocateCollector{
		gatherer:           gatherer,
		LocateRequests:     requests,
		LocateDurations:    durations,
		TowersPerLocate:    towers,
		UnknownTowers:      unknown,
		SessionWriteErrors: writeErrors,
		BrokerReadings:     brokerReadings,
	}, nil
}

func (c *LocateCollector) ObserveLocate(source, outcome string, elapsed time.Duration, towers int) {
	if c == nil {
		return
	}
	c.LocateRequests.WithLabelValues(source, outcome).Inc()
	c.LocateDurations.WithLabelValues(source).Observe(elapsed.Seconds())
	c.TowersPerLocate.WithLabelValues(source).Observe(float64(towers))
}

func (c *LocateCollector) RecordUnknownTower(source string) {
	if c == nil {
		return
	}
	c.UnknownTowers.WithLabelValues(source).Inc()
}

func (c *LocateCollector) RecordSessionWriteFailure() {
	if c == nil {
		return
	}
	c.SessionWriteErrors.Inc()
}

func (c *LocateCollector) RecordBrokerReadings(n int) {
	if c == nil {
		return
	}
	c.BrokerReadings.Add(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LocateCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
