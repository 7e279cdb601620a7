package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Provider ProviderConfig `json:"provider"`

	// Broadcast controls the delayed broadcast scheduler.
	Broadcast BroadcastConfig `json:"broadcast"`

	// Recurring holds cron/interval broadcast definitions.
	// If omitted, the recurring service stays disabled.
	Recurring *RecurringConfig `json:"recurring,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	HTTP    HTTPConfig     `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ProviderConfig points at the WhatsApp gateway HTTP endpoint.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout is a Go duration string (e.g. "10s", "1m").
	Timeout string `json:"timeout,omitempty"`
}

// BroadcastConfig controls the delayed broadcast scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - pacing_mode: "fixed"
//   - pace: "60s"
//   - pace_min/pace_max: "10s"/"30s" (random mode)
//   - rate_limit_backoff: "2m"
//   - send_timeout: "15s"
//   - rate_per_sec: 5
//   - history_size: 200
//   - history_ttl: "24h"
type BroadcastConfig struct {
	Enabled bool `json:"enabled"`

	// PacingMode is "fixed" or "random".
	PacingMode string `json:"pacing_mode,omitempty"`
	Pace       string `json:"pace,omitempty"`
	PaceMin    string `json:"pace_min,omitempty"`
	PaceMax    string `json:"pace_max,omitempty"`

	RateLimitBackoff string `json:"rate_limit_backoff,omitempty"`
	SendTimeout      string `json:"send_timeout,omitempty"`
	RatePerSec       int    `json:"rate_per_sec,omitempty"`

	HistorySize int    `json:"history_size,omitempty"`
	HistoryTTL  string `json:"history_ttl,omitempty"`
}

// RecurringConfig declares broadcasts that repeat on a schedule.
type RecurringConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone for cron evaluation (e.g. "Asia/Jakarta"). Empty means local time.
	Timezone string           `json:"timezone,omitempty"`
	Entries  []RecurringEntry `json:"entries,omitempty"`
}

// RecurringEntry is one named recurring broadcast definition.
//
// Schedule accepts "cron:<expr>", "every:<duration>", a bare cron expression,
// or a bare duration.
type RecurringEntry struct {
	Name         string   `json:"name"`
	Schedule     string   `json:"schedule"`
	Destinations []string `json:"destinations"`
	Text         string   `json:"text,omitempty"`
	Image        string   `json:"image,omitempty"`
	Caption      string   `json:"caption,omitempty"`
	Credential   string   `json:"credential"`
	Owner        string   `json:"owner,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./warelay_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the management API listener.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
