package recurring

import (
	"fmt"
	"strings"
	"time"
)

// ParsedSpec is a schedule string normalized to either a cron expression or a
// fixed interval.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "0 9 * * 1", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//
// Optional prefixes force the interpretation: "cron:" and "every:".
type ParsedSpec struct {
	Cron  string
	Every time.Duration // zero for cron specs
}

func (p ParsedSpec) cronSpec() string {
	if p.Every > 0 {
		return fmt.Sprintf("@every %s", p.Every.String())
	}
	return p.Cron
}

// ParseSpec parses a schedule string.
func ParseSpec(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if rest, ok := strings.CutPrefix(low, "cron:"); ok {
		expr := strings.TrimSpace(s[len(s)-len(rest):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Cron: expr}, nil
	}
	if rest, ok := strings.CutPrefix(low, "every:"); ok {
		d, err := parseEvery(strings.TrimSpace(s[len(s)-len(rest):]))
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Every: d}, nil
	}

	// Whitespace or a leading '@' means cron territory.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Cron: s}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Every: d}, nil
	}

	return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *' or a duration like '55m')", raw)
}

func parseEvery(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a Go duration like '55m' or '2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
