// Package config loads the agent and collector configuration file.
//
// Files ending in .yaml or .yml are decoded with yaml.v3; everything else
// is treated as TOML. Durations are written as strings ("5s", "1m").
// Missing keys keep the values from Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/logging"
	"github.com/vinayprograms/activitykit/ratelimit"
	"github.com/vinayprograms/activitykit/telemetry"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration read from a string such as "9s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML and YAML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// File is the whole configuration file.
type File struct {
	Tracker   Tracker   `toml:"tracker" yaml:"tracker"`
	Agent     Agent     `toml:"agent" yaml:"agent"`
	Collector Collector `toml:"collector" yaml:"collector"`
	Telemetry Telemetry `toml:"telemetry" yaml:"telemetry"`
	Log       Log       `toml:"log" yaml:"log"`
}

// Tracker holds the batching and rate-limit constants.
type Tracker struct {
	FlushDelay        Duration       `toml:"flush_delay" yaml:"flush_delay"`
	BackoffDelay      Duration       `toml:"backoff_delay" yaml:"backoff_delay"`
	BatchSize         int            `toml:"batch_size" yaml:"batch_size"`
	MaxPayloadBytes   int            `toml:"max_payload_bytes" yaml:"max_payload_bytes"`
	HeartbeatInterval Duration       `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	RateWindow        Duration       `toml:"rate_window" yaml:"rate_window"`
	Limits            map[string]int `toml:"limits" yaml:"limits"`
}

// Agent configures cmd/activity-agent.
type Agent struct {
	Listen         string   `toml:"listen" yaml:"listen"`
	Path           string   `toml:"path" yaml:"path"`
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"`

	// Protocol selects the sender: http, https, file, bus or noop.
	Protocol string `toml:"protocol" yaml:"protocol"`
	// Endpoint is the URL, file path or bus subject for Protocol.
	Endpoint string            `toml:"endpoint" yaml:"endpoint"`
	Headers  map[string]string `toml:"headers" yaml:"headers"`
	Timeout  Duration          `toml:"timeout" yaml:"timeout"`

	// Beacon selects the reliable path: http, bus or none.
	Beacon        string   `toml:"beacon" yaml:"beacon"`
	BeaconTimeout Duration `toml:"beacon_timeout" yaml:"beacon_timeout"`

	NATSURL string `toml:"nats_url" yaml:"nats_url"`

	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Collector configures cmd/activity-collector.
type Collector struct {
	Listen string `toml:"listen" yaml:"listen"`

	// Store is sqlite, postgres or memory. DSN is the SQLite path or the
	// Postgres connection string.
	Store string `toml:"store" yaml:"store"`
	DSN   string `toml:"dsn" yaml:"dsn"`

	MaxBodyBytes int64    `toml:"max_body_bytes" yaml:"max_body_bytes"`
	DedupTTL     Duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	DedupSize    int      `toml:"dedup_size" yaml:"dedup_size"`

	// NATSURL enables bus ingest when set.
	NATSURL    string `toml:"nats_url" yaml:"nats_url"`
	Subject    string `toml:"subject" yaml:"subject"`
	QueueGroup string `toml:"queue_group" yaml:"queue_group"`

	// DedupBucket names a JetStream KV bucket shared by collector
	// replicas for batch id dedup. Empty keeps dedup per process.
	DedupBucket string `toml:"dedup_bucket" yaml:"dedup_bucket"`

	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Telemetry configures OTLP trace export.
type Telemetry struct {
	Enabled     bool              `toml:"enabled" yaml:"enabled"`
	Protocol    string            `toml:"protocol" yaml:"protocol"`
	Endpoint    string            `toml:"endpoint" yaml:"endpoint"`
	ServiceName string            `toml:"service_name" yaml:"service_name"`
	Insecure    bool              `toml:"insecure" yaml:"insecure"`
	SampleRatio float64           `toml:"sample_ratio" yaml:"sample_ratio"`
	Headers     map[string]string `toml:"headers" yaml:"headers"`
}

// Log configures the process logger.
type Log struct {
	Level string `toml:"level" yaml:"level"`
	// File appends log output to a path instead of stderr.
	File string `toml:"file" yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	tc := activity.DefaultConfig()
	return File{
		Tracker: Tracker{
			FlushDelay:        Duration(tc.FlushDelay),
			BackoffDelay:      Duration(tc.BackoffDelay),
			BatchSize:         tc.BatchSize,
			MaxPayloadBytes:   tc.MaxPayloadBytes,
			HeartbeatInterval: Duration(tc.HeartbeatInterval),
			RateWindow:        Duration(tc.RateWindow),
			Limits:            ratelimit.DefaultLimits(),
		},
		Agent: Agent{
			Listen:          "127.0.0.1:8765",
			Path:            "/ws",
			Protocol:        "http",
			Endpoint:        "http://127.0.0.1:8080/events",
			Timeout:         Duration(30 * time.Second),
			Beacon:          "http",
			BeaconTimeout:   Duration(10 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Collector: Collector{
			Listen:          ":8080",
			Store:           "sqlite",
			DSN:             "activity.db",
			MaxBodyBytes:    1 << 20,
			DedupTTL:        Duration(10 * time.Minute),
			DedupSize:       10000,
			Subject:         bus.DefaultSubject,
			QueueGroup:      "collectors",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Telemetry: Telemetry{
			Protocol: "grpc",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (File, error) {
	f := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		_, err = toml.Decode(string(data), &f)
	}
	if err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate checks values that would otherwise fail later at startup.
func (f *File) Validate() error {
	t := f.Tracker
	if t.FlushDelay < 0 || t.BackoffDelay < 0 || t.HeartbeatInterval < 0 || t.RateWindow < 0 {
		return fmt.Errorf("%w: tracker durations must not be negative", ErrInvalid)
	}
	if t.BatchSize < 0 || t.MaxPayloadBytes < 0 {
		return fmt.Errorf("%w: tracker sizes must not be negative", ErrInvalid)
	}

	switch f.Agent.Protocol {
	case "http", "https", "file", "bus", "noop", "":
	default:
		return fmt.Errorf("%w: agent.protocol %q", ErrInvalid, f.Agent.Protocol)
	}
	switch f.Agent.Beacon {
	case "http", "bus", "none", "":
	default:
		return fmt.Errorf("%w: agent.beacon %q", ErrInvalid, f.Agent.Beacon)
	}
	if f.Agent.Beacon == "http" && f.Agent.Protocol != "" && !strings.HasPrefix(f.Agent.Protocol, "http") {
		return fmt.Errorf("%w: agent.beacon http needs an http protocol", ErrInvalid)
	}
	if (f.Agent.Protocol == "bus" || f.Agent.Beacon == "bus") && f.Agent.NATSURL == "" {
		return fmt.Errorf("%w: agent.nats_url required for bus delivery", ErrInvalid)
	}

	switch f.Collector.Store {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("%w: collector.store %q", ErrInvalid, f.Collector.Store)
	}
	if f.Collector.DedupBucket != "" && f.Collector.NATSURL == "" {
		return fmt.Errorf("%w: collector.dedup_bucket needs collector.nats_url", ErrInvalid)
	}
	if f.Collector.Store != "memory" && f.Collector.DSN == "" {
		return fmt.Errorf("%w: collector.dsn required for %s", ErrInvalid, f.Collector.Store)
	}

	switch f.Telemetry.Protocol {
	case "grpc", "http", "":
	default:
		return fmt.Errorf("%w: telemetry.protocol %q", ErrInvalid, f.Telemetry.Protocol)
	}
	if f.Telemetry.SampleRatio < 0 || f.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: telemetry.sample_ratio must be in [0,1]", ErrInvalid)
	}
	return nil
}

// ActivityConfig converts the tracker section. Configured limits override
// the default caps type by type; a limit of 0 removes the cap.
func (t Tracker) ActivityConfig() activity.Config {
	limits := ratelimit.DefaultLimits()
	for typ, n := range t.Limits {
		if n <= 0 {
			delete(limits, typ)
			continue
		}
		limits[typ] = n
	}
	return activity.Config{
		FlushDelay:        t.FlushDelay.D(),
		BackoffDelay:      t.BackoffDelay.D(),
		BatchSize:         t.BatchSize,
		MaxPayloadBytes:   t.MaxPayloadBytes,
		HeartbeatInterval: t.HeartbeatInterval.D(),
		RateWindow:        t.RateWindow.D(),
		Limits:            limits,
	}
}

// ProviderConfig converts the telemetry section.
func (t Telemetry) ProviderConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Endpoint:       t.Endpoint,
		Protocol:       t.Protocol,
		Insecure:       t.Insecure,
		Headers:        t.Headers,
		SampleRatio:    t.SampleRatio,
	}
}

// Logger builds the process logger. The returned close function releases
// the log file, if any.
func (l Log) Logger() (*logging.Logger, func() error, error) {
	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(l.Level))
	if l.File == "" {
		return logger, func() error { return nil }, nil
	}
	fh, err := os.OpenFile(l.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(fh)
	return logger, fh.Close, nil
}
