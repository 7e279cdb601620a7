package broadcast

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"warelay/internal/eventbus"
	"warelay/internal/provider"
	logx "warelay/pkg/logx"
)

func New(cfg Config, client provider.Client, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		client:  client,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		jobs:    map[string]*entry{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps pacing/backoff/limiter settings at runtime. Jobs already
// dispatching pick up nothing; the next dispatch reads the new config.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Info("service started",
		logx.String("pacing", string(s.cfg.PacingMode)),
		logx.Duration("pace", s.cfg.Pace),
		logx.Duration("rate_limit_backoff", s.cfg.RateLimitBackoff),
	)
}

// Stop disarms every pending timer (those jobs are dropped; there is no
// persistence), cancels in-flight dispatch waits, and blocks until running
// dispatches exit or ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil

	dropped := 0
	for id, e := range s.jobs {
		if e.running {
			continue
		}
		e.timer.Stop()
		delete(s.jobs, id)
		dropped++
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// in-flight dispatches finish in background
	}
	s.log.Info("service stopped",
		logx.Int("pending_dropped", dropped),
		logx.Duration("took", time.Since(start)),
	)
}

// publish is nil-safe around the optional bus.
func (s *Service) publish(topic eventbus.Topic, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Data: data})
}

// snapshot returns the mutable dependencies a dispatch run needs, taken under
// the lock so Apply() can't race a half-read config.
func (s *Service) snapshot() (Config, *rate.Limiter, provider.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.client
}
