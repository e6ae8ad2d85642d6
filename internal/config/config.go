package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath           = "config.toml"
	DefaultHTTPAddr             = ":8080"
	DefaultBackendURL           = "http://localhost:8000"
	DefaultBackendTimeout       = 60
	DefaultBridgeURL            = "ws://127.0.0.1:3001/ws"
	DefaultMaxMessageLength     = 4096
	DefaultDownloadTimeout      = 60
	DefaultMaxUploadBytes       = 10 * 1024 * 1024
	DefaultTimezone             = "Africa/Lagos"
	DefaultReminderSchedule     = "0 9,19 * * *"
	DefaultWeeklyReportSchedule = "0 20 * * 0"
	DefaultDailyDigestSchedule  = "0 8 * * *"
	DefaultSendDelayMs          = 2000
	DefaultJWTExpiresIn         = "24h"
	DefaultDedupTTLSeconds      = 600
	DefaultServiceName          = "pharmacy-gateway"
)

// DefaultCSVMimeTypes are the declared media types treated as tabular uploads.
var DefaultCSVMimeTypes = []string{
	"text/csv",
	"application/csv",
	"text/comma-separated-values",
	"application/vnd.ms-excel",
}

// DefaultCSVTextMarkers are case-insensitive substrings in the message text
// that mark an attachment as tabular regardless of its declared type.
var DefaultCSVTextMarkers = []string{".csv"}

type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Auth      AuthConfig      `toml:"auth" yaml:"auth"`
	Backend   BackendConfig   `toml:"backend" yaml:"backend"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp" yaml:"whatsapp"`
	Router    RouterConfig    `toml:"router" yaml:"router"`
	Media     MediaConfig     `toml:"media" yaml:"media"`
	Schedule  ScheduleConfig  `toml:"schedule" yaml:"schedule"`
	Dedup     DedupConfig     `toml:"dedup" yaml:"dedup"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in" yaml:"jwt_expires_in"`
}

// ExpiresIn parses the operator token lifetime, falling back to the default.
func (c AuthConfig) ExpiresIn() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(c.JWTExpiresIn)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultJWTExpiresIn)
	return d
}

type BackendConfig struct {
	BaseURL        string `toml:"base_url" yaml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
}

// Timeout returns the per-request timeout for backend calls.
func (c BackendConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultBackendTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type WhatsAppConfig struct {
	BridgeURL              string `toml:"bridge_url" yaml:"bridge_url" validate:"required,url"`
	MaxMessageLength       int    `toml:"max_message_length" yaml:"max_message_length" validate:"gte=0"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds" yaml:"download_timeout_seconds" validate:"gte=0"`
}

// DownloadTimeout bounds how long an attachment download may take.
func (c WhatsAppConfig) DownloadTimeout() time.Duration {
	if c.DownloadTimeoutSeconds <= 0 {
		return DefaultDownloadTimeout * time.Second
	}
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

type RouterConfig struct {
	AdminNumbers   []string `toml:"admin_numbers" yaml:"admin_numbers" validate:"dive,required"`
	CSVMimeTypes   []string `toml:"csv_mime_types" yaml:"csv_mime_types"`
	CSVTextMarkers []string `toml:"csv_text_markers" yaml:"csv_text_markers"`
}

type MediaConfig struct {
	TempDir        string `toml:"temp_dir" yaml:"temp_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
}

type ScheduleConfig struct {
	Timezone      string `toml:"timezone" yaml:"timezone" validate:"required"`
	Reminders     string `toml:"reminders" yaml:"reminders"`
	WeeklyReport  string `toml:"weekly_report" yaml:"weekly_report"`
	DailyDigest   string `toml:"daily_digest" yaml:"daily_digest"`
	SendDelayMs   int    `toml:"send_delay_ms" yaml:"send_delay_ms" validate:"gte=0"`
	DigestMessage string `toml:"digest_message" yaml:"digest_message"`
}

// SendDelay is the minimum interval between two scheduled sends.
func (c ScheduleConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMs) * time.Millisecond
}

// Location loads the configured timezone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(strings.TrimSpace(c.Timezone))
}

type DedupConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	RedisURL   string `toml:"redis_url" yaml:"redis_url" validate:"omitempty,url"`
	TTLSeconds int    `toml:"ttl_seconds" yaml:"ttl_seconds" validate:"gte=0"`
}

// TTL returns how long a seen message id is remembered.
func (c DedupConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultDedupTTLSeconds * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

type TelemetryConfig struct {
	Enabled     bool    `toml:"enabled" yaml:"enabled"`
	Protocol    string  `toml:"protocol" yaml:"protocol" validate:"omitempty,oneof=grpc http/protobuf"`
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	ServiceName string  `toml:"service_name" yaml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Backend: BackendConfig{
			BaseURL:        DefaultBackendURL,
			TimeoutSeconds: DefaultBackendTimeout,
		},
		WhatsApp: WhatsAppConfig{
			BridgeURL:              DefaultBridgeURL,
			MaxMessageLength:       DefaultMaxMessageLength,
			DownloadTimeoutSeconds: DefaultDownloadTimeout,
		},
		Router: RouterConfig{
			CSVMimeTypes:   append([]string(nil), DefaultCSVMimeTypes...),
			CSVTextMarkers: append([]string(nil), DefaultCSVTextMarkers...),
		},
		Media: MediaConfig{
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Schedule: ScheduleConfig{
			Timezone:     DefaultTimezone,
			Reminders:    DefaultReminderSchedule,
			WeeklyReport: DefaultWeeklyReportSchedule,
			DailyDigest:  DefaultDailyDigestSchedule,
			SendDelayMs:  DefaultSendDelayMs,
		},
		Dedup: DedupConfig{
			Enabled:    true,
			TTLSeconds: DefaultDedupTTLSeconds,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: DefaultServiceName,
			SampleRatio: 1,
		},
	}
}

// Load reads the config file at path on top of the defaults. A missing file
// yields the defaults. ${VAR} references in the file are expanded from the
// environment before decoding. Files ending in .yaml or .yml are decoded as
// YAML, everything else as TOML.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return cfg, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	}

	return cfg, nil
}
