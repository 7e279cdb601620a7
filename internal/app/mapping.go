package app

import (
	"fmt"
	"strings"
	"time"

	"warelay/internal/config"
	"warelay/internal/httpapi"
	"warelay/internal/provider"
	"warelay/internal/services/broadcast"
	"warelay/internal/services/recurring"
	"warelay/internal/storage"
)

func mapProviderConfig(cfg *config.Config) (provider.Config, error) {
	timeout, err := config.ParseDurationField("provider.timeout", cfg.Provider.Timeout)
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		Timeout: timeout,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast

	mode := broadcast.PacingMode(strings.TrimSpace(strings.ToLower(b.PacingMode)))
	if mode != "" && mode != broadcast.PacingFixed && mode != broadcast.PacingRandom {
		return broadcast.Config{}, fmt.Errorf("broadcast.pacing_mode: unknown mode %q", b.PacingMode)
	}

	pace, err := config.ParseDurationField("broadcast.pace", b.Pace)
	if err != nil {
		return broadcast.Config{}, err
	}
	paceMin, err := config.ParseDurationField("broadcast.pace_min", b.PaceMin)
	if err != nil {
		return broadcast.Config{}, err
	}
	paceMax, err := config.ParseDurationField("broadcast.pace_max", b.PaceMax)
	if err != nil {
		return broadcast.Config{}, err
	}
	if paceMin > 0 && paceMax > 0 && paceMax < paceMin {
		return broadcast.Config{}, fmt.Errorf("broadcast.pace_max must be >= pace_min")
	}
	backoff, err := config.ParseDurationField("broadcast.rate_limit_backoff", b.RateLimitBackoff)
	if err != nil {
		return broadcast.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("broadcast.send_timeout", b.SendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	histTTL, err := config.ParseDurationField("broadcast.history_ttl", b.HistoryTTL)
	if err != nil {
		return broadcast.Config{}, err
	}
	if b.RatePerSec < 0 {
		return broadcast.Config{}, fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	if b.HistorySize < 0 {
		return broadcast.Config{}, fmt.Errorf("broadcast.history_size must be >= 0")
	}

	return broadcast.Config{
		Enabled:          b.Enabled,
		PacingMode:       mode,
		Pace:             pace,
		PaceMin:          paceMin,
		PaceMax:          paceMax,
		RateLimitBackoff: backoff,
		SendTimeout:      sendTimeout,
		RatePerSec:       b.RatePerSec,
		HistorySize:      b.HistorySize,
		HistoryTTL:       histTTL,
	}, nil
}

func mapRecurringConfig(cfg *config.Config) (recurring.Config, error) {
	if cfg.Recurring == nil {
		return recurring.Config{}, nil
	}
	if tz := strings.TrimSpace(cfg.Recurring.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return recurring.Config{}, fmt.Errorf("recurring.timezone: invalid %q: %w", tz, err)
		}
	}
	return recurring.Config{
		Enabled:  cfg.Recurring.Enabled,
		Timezone: cfg.Recurring.Timezone,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil || strings.TrimSpace(cfg.Storage.Driver) == "" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage is enabled")
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// recurringTemplates converts config entries to service definitions, validating
// the parts the recurring service can't see itself.
func recurringTemplates(cfg *config.Config) (map[string]recurringDef, error) {
	out := map[string]recurringDef{}
	if cfg.Recurring == nil {
		return out, nil
	}
	for i, e := range cfg.Recurring.Entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("recurring.entries[%d]: name is required", i)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("recurring.entries[%d]: duplicate name %q", i, name)
		}
		if strings.TrimSpace(e.Schedule) == "" {
			return nil, fmt.Errorf("recurring.entries[%d] %q: schedule is required", i, name)
		}
		if strings.TrimSpace(e.Credential) == "" {
			return nil, fmt.Errorf("recurring.entries[%d] %q: credential is required", i, name)
		}
		if len(e.Destinations) == 0 {
			return nil, fmt.Errorf("recurring.entries[%d] %q: destinations are required", i, name)
		}
		out[name] = recurringDef{
			schedule: e.Schedule,
			tmpl: recurring.Template{
				Destinations: e.Destinations,
				Content: broadcast.Content{
					Text:     e.Text,
					ImageRef: e.Image,
					Caption:  e.Caption,
				},
				Credential: e.Credential,
				Owner:      e.Owner,
			},
		}
	}
	return out, nil
}

type recurringDef struct {
	schedule string
	tmpl     recurring.Template
}
