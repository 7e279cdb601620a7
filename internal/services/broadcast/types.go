package broadcast

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"warelay/internal/eventbus"
	"warelay/internal/provider"
	logx "warelay/pkg/logx"
)

// PacingMode selects the policy for the gap between consecutive sends.
type PacingMode string

const (
	// PacingFixed waits a constant interval between destinations.
	PacingFixed PacingMode = "fixed"
	// PacingRandom waits a uniform random interval in [PaceMin, PaceMax].
	PacingRandom PacingMode = "random"
)

type Config struct {
	Enabled bool

	PacingMode PacingMode
	Pace       time.Duration // fixed mode gap
	PaceMin    time.Duration // random mode lower bound
	PaceMax    time.Duration // random mode upper bound

	// RateLimitBackoff replaces the standard pace for the gap after a
	// rate-limited send. Keep it well above the pace.
	RateLimitBackoff time.Duration

	SendTimeout time.Duration // per gateway call
	RatePerSec  int           // global limiter across all jobs

	HistorySize int
	HistoryTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PacingMode != PacingFixed && c.PacingMode != PacingRandom {
		c.PacingMode = PacingFixed
	}
	if c.Pace <= 0 {
		c.Pace = 60 * time.Second
	}
	if c.PaceMin <= 0 {
		c.PaceMin = 10 * time.Second
	}
	if c.PaceMax <= 0 {
		c.PaceMax = 30 * time.Second
	}
	if c.PaceMax < c.PaceMin {
		c.PaceMax = c.PaceMin
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 2 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 24 * time.Hour
	}
	return c
}

// Content is the message payload. At least one of Text/ImageRef must be set.
// Caption only applies to image-only sends.
type Content struct {
	Text     string
	ImageRef string
	Caption  string
}

func (c Content) empty() bool {
	return strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.ImageRef) == ""
}

// variant is the send shape, decided once per job at creation.
type variant int

const (
	variantText variant = iota
	variantImage
	variantMixed
)

func (c Content) variant() variant {
	hasText := strings.TrimSpace(c.Text) != ""
	hasImage := strings.TrimSpace(c.ImageRef) != ""
	switch {
	case hasText && hasImage:
		return variantMixed
	case hasImage:
		return variantImage
	default:
		return variantText
	}
}

// Job is one scheduled broadcast. Destinations are fixed at creation and
// delivered in order.
type Job struct {
	ID           string
	Destinations []string
	Content      Content
	ActivationAt time.Time
	Credential   string
	Owner        string
	CreatedAt    time.Time
}

// ScheduleRequest is the front-door input.
type ScheduleRequest struct {
	Destinations []string
	Content      Content
	ActivationAt time.Time
	Credential   string
	Owner        string
}

// Receipt acknowledges a scheduled job. Delivery outcome is not part of it.
type Receipt struct {
	ID           string
	ActivationAt time.Time
}

// JobView is the observer-facing job shape. It never carries the credential.
type JobView struct {
	ID           string   `json:"id"`
	Destinations []string `json:"destinations"`
	Text         string   `json:"text,omitempty"`
	ImageRef     string   `json:"image_ref,omitempty"`
	Caption      string   `json:"caption,omitempty"`
	ActivationAt int64    `json:"activation_at"` // epoch ms
	Owner        string   `json:"owner,omitempty"`
	Status       string   `json:"status"` // always "scheduled" while live
}

// TargetResult is the outcome for one destination.
type TargetResult struct {
	Destination string `json:"destination"`
	MessageID   string `json:"message_id,omitempty"`
	Error       string `json:"error,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

// Record is the retained outcome of a finished job.
type Record struct {
	ID       string         `json:"id"`
	Owner    string         `json:"owner,omitempty"`
	Total    int            `json:"total"`
	Sent     int            `json:"sent"`
	Failed   int            `json:"failed"`
	Aborted  bool           `json:"aborted,omitempty"` // no sends attempted / run cut short
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Results  []TargetResult `json:"results,omitempty"`
}

// entry is one live registry slot: the job plus its armed timer.
type entry struct {
	job     Job
	timer   *time.Timer
	running bool
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	client provider.Client
	bus    eventbus.Bus
	log    logx.Logger

	limiter *rate.Limiter
	jobs    map[string]*entry
	seq     atomic.Uint64

	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	histMu  sync.Mutex
	history []Record

	rngMu sync.Mutex
	rng   *rand.Rand
}
