package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Live reading sources.
const (
	SourceModem = "modem"
	SourceMQTT  = "mqtt"
	SourceNone  = "none"
)

// Config contains application configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	HTTPAddr string

	// DBDSN enables Postgres session storage when set.
	DBDSN         string
	SessionLogDir string
	CatalogPath   string

	Source      string
	ScanTimeout time.Duration
	Modem       ModemConfig
	MQTT        MQTTConfig

	ReferenceLat       float64
	ReferenceLon       float64
	FallbackToCentroid bool
	SimulationSeed     uint64

	Tracing TracingConfig
}

type ModemConfig struct {
	Port           string
	BaudRate       int
	CommandTimeout time.Duration
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   []string
	MaxAge   time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Exporter    string
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// Load reads configuration from .env and environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		LogLevel:      p.str("LOG_LEVEL", "info"),
		LogFormat:     p.str("LOG_FORMAT", "text"),
		HTTPAddr:      p.str("HTTP_ADDR", ":8080"),
		DBDSN:         getenv("DB_DSN"),
		SessionLogDir: p.str("SESSION_LOG_DIR", "data"),
		CatalogPath:   getenv("CATALOG_PATH"),

		Source:      strings.ToLower(p.str("SOURCE", SourceModem)),
		ScanTimeout: p.duration("SCAN_TIMEOUT", 10*time.Second),
		Modem: ModemConfig{
			Port:           getenv("MODEM_PORT"),
			BaudRate:       p.integer("MODEM_BAUD", 115200),
			CommandTimeout: p.duration("MODEM_COMMAND_TIMEOUT", 3*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:   fmt.Sprintf("tcp://%s:%s", p.str("MOSQUITTO_HOST", "mosquitto"), p.str("MOSQUITTO_INTERNAL_PORT", "1883")),
			ClientID: p.str("MOSQUITTO_CLIENT_ID", "towerloc"),
			Username: getenv("MOSQUITTO_USER"),
			Password: getenv("MOSQUITTO_PASSWORD"),
			Topics:   splitList(p.str("MOSQUITTO_TOPIC", "towers/readings")),
			MaxAge:   p.duration("MQTT_MAX_AGE", 30*time.Second),
		},

		ReferenceLat:       p.float("REF_LAT", -25.9692),
		ReferenceLon:       p.float("REF_LON", 32.5732),
		FallbackToCentroid: p.boolean("FALLBACK_TO_CENTROID", false),
		SimulationSeed:     uint64(p.integer("SIM_SEED", 0)),

		Tracing: TracingConfig{
			Enabled:     p.boolean("TRACING_ENABLED", false),
			Exporter:    strings.ToLower(p.str("TRACING_EXPORTER", "stdout")),
			Endpoint:    getenv("OTLP_ENDPOINT"),
			ServiceName: p.str("TRACING_SERVICE_NAME", "towerloc"),
			SampleRatio: p.float("TRACING_SAMPLE_RATIO", 1.0),
		},
	}

	switch cfg.Source {
	case SourceModem, SourceMQTT, SourceNone:
	default:
		p.fail("SOURCE", cfg.Source, "want modem, mqtt or none")
	}
	if cfg.ScanTimeout <= 0 {
		p.fail("SCAN_TIMEOUT", cfg.ScanTimeout.String(), "must be positive")
	}
	if cfg.ReferenceLat < -90 || cfg.ReferenceLat > 90 {
		p.fail("REF_LAT", strconv.FormatFloat(cfg.ReferenceLat, 'f', -1, 64), "out of range")
	}
	if cfg.ReferenceLon < -180 || cfg.ReferenceLon > 180 {
		p.fail("REF_LON", strconv.FormatFloat(cfg.ReferenceLon, 'f', -1, 64), "out of range")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		p.fail("TRACING_SAMPLE_RATIO", strconv.FormatFloat(cfg.Tracing.SampleRatio, 'f', -1, 64), "want 0..1")
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key, value, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %s", key, value, reason))
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, "not a duration")
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail(key, v, "not a non-negative integer")
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, "not a number")
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "not a boolean")
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
