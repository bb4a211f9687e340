package config

import (
	"strings"
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envFrom(nil))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Source != SourceModem {
		t.Fatalf("Source = %q, want %q", cfg.Source, SourceModem)
	}
	if cfg.ScanTimeout != 10*time.Second {
		t.Fatalf("ScanTimeout = %v, want 10s", cfg.ScanTimeout)
	}
	if cfg.Modem.BaudRate != 115200 || cfg.Modem.CommandTimeout != 3*time.Second {
		t.Fatalf("Modem = %+v", cfg.Modem)
	}
	if cfg.MQTT.Broker != "tcp://mosquitto:1883" {
		t.Fatalf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.ReferenceLat != -25.9692 || cfg.ReferenceLon != 32.5732 {
		t.Fatalf("reference = %v, %v", cfg.ReferenceLat, cfg.ReferenceLon)
	}
	if cfg.HTTPAddr != ":8080" || cfg.DBDSN != "" || cfg.FallbackToCentroid {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envFrom(map[string]string{
		"SOURCE":                  "MQTT",
		"SCAN_TIMEOUT":            "4s",
		"MOSQUITTO_HOST":          "broker.local",
		"MOSQUITTO_INTERNAL_PORT": "1884",
		"MOSQUITTO_TOPIC":         "towers/a, towers/b,",
		"FALLBACK_TO_CENTROID":    "true",
		"SIM_SEED":                "42",
		"DB_DSN":                  "postgres://localhost/towers",
		"TRACING_ENABLED":         "1",
		"TRACING_SAMPLE_RATIO":    "0.25",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Source != SourceMQTT || cfg.ScanTimeout != 4*time.Second {
		t.Fatalf("Source = %q, ScanTimeout = %v", cfg.Source, cfg.ScanTimeout)
	}
	if cfg.MQTT.Broker != "tcp://broker.local:1884" {
		t.Fatalf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if len(cfg.MQTT.Topics) != 2 || cfg.MQTT.Topics[1] != "towers/b" {
		t.Fatalf("MQTT.Topics = %q", cfg.MQTT.Topics)
	}
	if !cfg.FallbackToCentroid || cfg.SimulationSeed != 42 || !cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != 0.25 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestFromEnvReportsEveryError(t *testing.T) {
	_, err := FromEnv(envFrom(map[string]string{
		"SOURCE":       "bluetooth",
		"SCAN_TIMEOUT": "soon",
		"REF_LAT":      "123",
	}))
	if err == nil {
		t.Fatal("FromEnv accepted invalid configuration")
	}
	for _, key := range []string{"SOURCE", "SCAN_TIMEOUT", "REF_LAT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}
