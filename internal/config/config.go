// Package config loads the daemon configuration from defaults and
// HOTTRACK_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HOTTRACK_"

type Config struct {
	Addr       string `koanf:"addr" validate:"required"`
	LogLevel   string `koanf:"log_level" validate:"required,oneof=trace debug info warn error"`
	LogConsole bool   `koanf:"log_console"`
	// LogSampleN keeps one in N lines below warn; 0 keeps all.
	LogSampleN uint32 `koanf:"log_sample_n"`

	// Domains are enabled at startup; more can be enabled over HTTP.
	Domains       []string      `koanf:"domains" validate:"dive,required"`
	RangeBits     uint          `koanf:"range_bits" validate:"lte=63"`
	AgingInterval time.Duration `koanf:"aging_interval" validate:"gt=0"`
	// KickThreshold tunes the "tuned" policy.
	KickThreshold time.Duration `koanf:"kick_threshold" validate:"gt=0"`
	MaxObjects    int64         `koanf:"max_objects" validate:"gte=0"`
	MaxRanges     int64         `koanf:"max_ranges" validate:"gte=0"`
	// MaxSpanRanges caps the ranges one access may touch.
	MaxSpanRanges uint64        `koanf:"max_span_ranges" validate:"gt=0"`
	EvictObjects  bool          `koanf:"evict_objects"`
	Policy        string        `koanf:"policy" validate:"required"`
	// HalfLife tunes the "expdecay" policy.
	HalfLife      time.Duration `koanf:"half_life" validate:"gt=0"`
	// HotBucket logs a sample of items scored into this bucket or hotter; 0 disables it.
	HotBucket     int           `koanf:"hot_bucket" validate:"gte=0,lte=255"`
	// DoorkeeperItems sizes the admission filter; 0 disables it.
	DoorkeeperItems uint `koanf:"doorkeeper_items"`

	MetricsEnabled bool `koanf:"metrics_enabled"`

	RedisEnabled   bool          `koanf:"redis_enabled"`
	RedisAddr      string        `koanf:"redis_addr" validate:"required_if=RedisEnabled true"`
	RedisPrefix    string        `koanf:"redis_prefix" validate:"required"`
	ExportInterval time.Duration `koanf:"export_interval" validate:"gt=0"`
	ExportTopN     int           `koanf:"export_top_n" validate:"gte=1,lte=100000"`

	KafkaBrokers  []string `koanf:"kafka_brokers"`
	IngestEnabled bool     `koanf:"ingest_enabled"`
	IngestTopic   string   `koanf:"ingest_topic" validate:"required_if=IngestEnabled true"`
	IngestGroup   string   `koanf:"ingest_group" validate:"required_if=IngestEnabled true"`
	EventsEnabled bool     `koanf:"events_enabled"`
	EventsTopic   string   `koanf:"events_topic" validate:"required_if=EventsEnabled true"`
}

func Defaults() Config {
	return Config{
		Addr:            ":8090",
		LogLevel:        "info",
		Domains:         []string{"default"},
		RangeBits:       20,
		AgingInterval:   300 * time.Second,
		KickThreshold:   300 * time.Second,
		MaxSpanRanges:   1024,
		Policy:          "default",
		HalfLife:        time.Minute,
		MetricsEnabled:  true,
		RedisAddr:       "localhost:6379",
		RedisPrefix:     "hottrack",
		ExportInterval:  30 * time.Second,
		ExportTopN:      100,
		KafkaBrokers:    []string{"localhost:9092"},
		IngestTopic:     "hottrack-access",
		IngestGroup:     "hottrack",
		EventsTopic:     "hottrack-events",
		DoorkeeperItems: 0,
	}
}

// list-valued keys arrive comma separated
var listKeys = map[string]bool{"domains": true, "kafka_brokers": true}

// envLoader is swapped in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			if listKeys[key] {
				return key, splitList(value)
			}
			return key, value
		},
	}), nil)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load applies defaults, overlays the environment and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if (cfg.IngestEnabled || cfg.EventsEnabled) && len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("validation failed: kafka_brokers is required when ingest or events are enabled")
	}
	return &cfg, nil
}
