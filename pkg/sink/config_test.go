package sink

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFileConfigFromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set(FILE_CONFIG_KEY, map[string]any{
		"dir":            "/tmp/relay-test",
		"batch_size":     25,
		"flush_interval": "3s",
	})

	config, err := FileConfigFromViper(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Dir != "/tmp/relay-test" {
		t.Errorf("expected dir /tmp/relay-test, got %s", config.Dir)
	}
	if config.BatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", config.BatchSize)
	}
	if config.FlushInterval != 3*time.Second {
		t.Errorf("expected 3s flush interval, got %v", config.FlushInterval)
	}
}

func TestFileConfigFromViper_MissingDir(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set(FILE_CONFIG_KEY, map[string]any{"batch_size": 10})

	if _, err := FileConfigFromViper(nil); err == nil {
		t.Error("expected a validation error for the missing directory")
	}
}

func TestHTTPConfigFromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set(HTTP_CONFIG_KEY, map[string]any{
		"endpoint": "https://collector.example.com/v1/events",
		"headers":  map[string]string{"Authorization": "Bearer t"},
	})

	config, err := HTTPConfigFromViper(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Endpoint != "https://collector.example.com/v1/events" {
		t.Errorf("unexpected endpoint %s", config.Endpoint)
	}
	if config.Headers["Authorization"] != "Bearer t" {
		t.Errorf("expected headers to survive, got %v", config.Headers)
	}
}

func TestHTTPConfigFromViper_InvalidEndpoint(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set(HTTP_CONFIG_KEY, map[string]any{"endpoint": "not a url"})

	if _, err := HTTPConfigFromViper(nil); err == nil {
		t.Error("expected a validation error for a malformed endpoint")
	}
}

func TestBeaconConfigFromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set(BEACON_CONFIG_KEY, map[string]any{
		"endpoint":         "https://collector.example.com/beacon",
		"durable":          true,
		"queue_dir":        "/var/lib/relay/queue",
		"beacon_max_bytes": 32000,
	})

	config, err := BeaconConfigFromViper(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !config.Durable || config.QueueDir != "/var/lib/relay/queue" {
		t.Errorf("expected durable queue settings, got %+v", config)
	}
	if config.BeaconMaxBytes != 32000 {
		t.Errorf("expected beacon_max_bytes 32000, got %d", config.BeaconMaxBytes)
	}
}

func TestConfigDefaults(t *testing.T) {
	file := FileConfig{Dir: "/tmp/x"}.withDefaults()
	if file.MaxBuffer != 5000 || file.BatchSize != 100 || file.FlushInterval != 2*time.Second {
		t.Errorf("unexpected file defaults: %+v", file)
	}

	httpCfg := HTTPConfig{Endpoint: "http://x"}.withDefaults()
	if httpCfg.MaxBuffer != 2000 || httpCfg.BatchSize != 50 || httpCfg.FlushInterval != time.Second {
		t.Errorf("unexpected http defaults: %+v", httpCfg)
	}

	beacon := BeaconConfig{Endpoint: "http://x"}.withDefaults()
	if beacon.MaxBuffer != 1000 || beacon.BatchSize != 20 || beacon.BeaconMaxBytes != 60_000 {
		t.Errorf("unexpected beacon defaults: %+v", beacon)
	}
}
