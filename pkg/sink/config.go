package sink

import (
	"fmt"
	"time"

	"github.com/relaykit/relay/pkg/buffer"
	"github.com/relaykit/relay/pkg/internal/utils"
	"github.com/spf13/viper"
)

const (
	FILE_CONFIG_KEY   = "file"
	HTTP_CONFIG_KEY   = "http"
	BEACON_CONFIG_KEY = "beacon"
)

// FileConfig configures the disk adapter.
type FileConfig struct {
	Dir           string                `mapstructure:"dir" validate:"required"`
	MaxBuffer     int                   `mapstructure:"max_buffer"`
	BatchSize     int                   `mapstructure:"batch_size"`
	FlushInterval time.Duration         `mapstructure:"flush_interval"`
	Overflow      buffer.OverflowPolicy `mapstructure:"overflow_policy"`
}

func (c FileConfig) withDefaults() FileConfig {
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.Overflow == "" {
		c.Overflow = buffer.PolicyAutoFlush
	}
	return c
}

// HTTPConfig configures the network adapter.
type HTTPConfig struct {
	Endpoint      string                `mapstructure:"endpoint" validate:"required,url"`
	Headers       map[string]string     `mapstructure:"headers"`
	MaxBuffer     int                   `mapstructure:"max_buffer"`
	BatchSize     int                   `mapstructure:"batch_size"`
	FlushInterval time.Duration         `mapstructure:"flush_interval"`
	Overflow      buffer.OverflowPolicy `mapstructure:"overflow_policy"`
	Retry         RetryConfig           `mapstructure:"retry"`

	OnDrop         DropFunc           `mapstructure:"-"`
	IdempotencyKey IdempotencyKeyFunc `mapstructure:"-"`
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 2000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.Overflow == "" {
		c.Overflow = buffer.PolicyAutoFlush
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// BeaconConfig configures the beacon adapter.
type BeaconConfig struct {
	Endpoint       string                `mapstructure:"endpoint" validate:"required,url"`
	Headers        map[string]string     `mapstructure:"headers"`
	MaxBuffer      int                   `mapstructure:"max_buffer"`
	BatchSize      int                   `mapstructure:"batch_size"`
	FlushInterval  time.Duration         `mapstructure:"flush_interval"`
	Overflow       buffer.OverflowPolicy `mapstructure:"overflow_policy"`
	Retry          RetryConfig           `mapstructure:"retry"`
	BeaconMaxBytes int                   `mapstructure:"beacon_max_bytes"`
	Durable        bool                  `mapstructure:"durable"`
	QueueDir       string                `mapstructure:"queue_dir"`
	Immediate      bool                  `mapstructure:"immediate"`

	OnDrop         DropFunc           `mapstructure:"-"`
	IdempotencyKey IdempotencyKeyFunc `mapstructure:"-"`
	Beacon         BeaconFunc         `mapstructure:"-"`
}

func (c BeaconConfig) withDefaults() BeaconConfig {
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.Overflow == "" {
		c.Overflow = buffer.PolicyAutoFlush
	}
	if c.BeaconMaxBytes <= 0 {
		c.BeaconMaxBytes = 60_000
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// FileConfigFromViper reads the disk adapter configuration from the given
// viper section (default "file").
func FileConfigFromViper(key *string) (FileConfig, error) {
	section := sectionOrDefault(key, FILE_CONFIG_KEY)
	section.BindEnv("dir", "RELAY_FILE_DIR")

	var config FileConfig
	if err := section.Unmarshal(&config); err != nil {
		return FileConfig{}, fmt.Errorf("unable to decode into struct, %v", err)
	}
	if err := utils.ValidateStruct(&config); err != nil {
		return FileConfig{}, err
	}
	return config, nil
}

// HTTPConfigFromViper reads the network adapter configuration from the
// given viper section (default "http").
func HTTPConfigFromViper(key *string) (HTTPConfig, error) {
	section := sectionOrDefault(key, HTTP_CONFIG_KEY)
	section.BindEnv("endpoint", "RELAY_HTTP_ENDPOINT")

	var config HTTPConfig
	if err := section.Unmarshal(&config); err != nil {
		return HTTPConfig{}, fmt.Errorf("unable to decode into struct, %v", err)
	}
	if err := utils.ValidateStruct(&config); err != nil {
		return HTTPConfig{}, err
	}
	return config, nil
}

// BeaconConfigFromViper reads the beacon adapter configuration from the
// given viper section (default "beacon").
func BeaconConfigFromViper(key *string) (BeaconConfig, error) {
	section := sectionOrDefault(key, BEACON_CONFIG_KEY)
	section.BindEnv("endpoint", "RELAY_BEACON_ENDPOINT")
	section.BindEnv("queue_dir", "RELAY_BEACON_QUEUE_DIR")

	var config BeaconConfig
	if err := section.Unmarshal(&config); err != nil {
		return BeaconConfig{}, fmt.Errorf("unable to decode into struct, %v", err)
	}
	if err := utils.ValidateStruct(&config); err != nil {
		return BeaconConfig{}, err
	}
	return config, nil
}

func sectionOrDefault(key *string, fallback string) *viper.Viper {
	keyValue := fallback
	if key != nil {
		keyValue = *key
	}
	section := viper.Sub(keyValue)
	if section == nil {
		section = viper.New()
	}
	return section
}
