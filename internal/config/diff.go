package config

import (
	"reflect"
	"sort"
	"strings"

	logx "warelay/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes credentials).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Provider
	if strings.TrimSpace(oldCfg.Provider.BaseURL) != strings.TrimSpace(newCfg.Provider.BaseURL) ||
		strings.TrimSpace(oldCfg.Provider.Timeout) != strings.TrimSpace(newCfg.Provider.Timeout) {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.base_url", strings.TrimSpace(newCfg.Provider.BaseURL)),
			logx.String("provider.timeout", strings.TrimSpace(newCfg.Provider.Timeout)),
		)
	}

	// Broadcast
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Bool("broadcast.enabled", newCfg.Broadcast.Enabled),
			logx.String("broadcast.pacing_mode", strings.TrimSpace(newCfg.Broadcast.PacingMode)),
			logx.String("broadcast.pace", strings.TrimSpace(newCfg.Broadcast.Pace)),
			logx.String("broadcast.rate_limit_backoff", strings.TrimSpace(newCfg.Broadcast.RateLimitBackoff)),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}

	// Recurring (entries carry credentials; only counts and names of changed entries)
	recChanged := diffRecurring(oldCfg.Recurring, newCfg.Recurring)
	if len(recChanged) > 0 {
		changed = append(changed, "recurring")
		enabled := newCfg.Recurring != nil && newCfg.Recurring.Enabled
		count := 0
		if newCfg.Recurring != nil {
			count = len(newCfg.Recurring.Entries)
		}
		attrs = append(attrs,
			logx.Bool("recurring.enabled", enabled),
			logx.Int("recurring.entry_count", count),
			logx.Int("recurring.changed_count", len(recChanged)),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// HTTP
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// diffRecurring returns the names of recurring entries that were added, removed,
// or modified between the two configs.
func diffRecurring(oldR, newR *RecurringConfig) []string {
	oldM := recurringByName(oldR)
	newM := recurringByName(newR)

	oldEnabled := oldR != nil && oldR.Enabled
	newEnabled := newR != nil && newR.Enabled
	oldTZ := ""
	newTZ := ""
	if oldR != nil {
		oldTZ = strings.TrimSpace(oldR.Timezone)
	}
	if newR != nil {
		newTZ = strings.TrimSpace(newR.Timezone)
	}
	// A flip of the whole section touches every entry.
	if oldEnabled != newEnabled || oldTZ != newTZ {
		out := make([]string, 0, len(oldM)+len(newM))
		seen := map[string]struct{}{}
		for k := range oldM {
			seen[k] = struct{}{}
		}
		for k := range newM {
			seen[k] = struct{}{}
		}
		for k := range seen {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okO := oldM[name]
		n, okN := newM[name]
		if okO != okN || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func recurringByName(r *RecurringConfig) map[string]RecurringEntry {
	m := map[string]RecurringEntry{}
	if r == nil {
		return m
	}
	for _, e := range r.Entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		m[name] = e
	}
	return m
}
