package broadcast

import (
	"context"
	"runtime/debug"
	"time"

	"warelay/internal/eventbus"
	"warelay/internal/provider"
	logx "warelay/pkg/logx"
)

// dispatch delivers one activated job. It runs exactly once per job and is
// never re-entered. Registry cleanup and the history record are unconditional:
// the deferred block runs on clean completion, partial failure, and panic alike.
func (s *Service) dispatch(ctx context.Context, job Job) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, limiter, client := s.snapshot()

	rec := Record{
		ID:      job.ID,
		Owner:   job.Owner,
		Total:   len(job.Destinations),
		Started: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			rec.Aborted = true
			s.log.Error("broadcast dispatch fault",
				logx.String("job", job.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
		s.remove(job.ID)
		rec.Finished = time.Now()
		s.recordHistory(rec)
		s.publish(eventbus.TopicBroadcastCompleted, rec)

		fields := []logx.Field{
			logx.String("job", job.ID),
			logx.Int("total", rec.Total),
			logx.Int("sent", rec.Sent),
			logx.Int("failed", rec.Failed),
			logx.Duration("took", rec.Finished.Sub(rec.Started)),
		}
		switch {
		case rec.Aborted:
			s.log.Warn("broadcast aborted", fields...)
		case rec.Failed > 0:
			s.log.Warn("broadcast finished with failures", fields...)
		default:
			s.log.Info("broadcast finished", fields...)
		}
	}()

	// Gate on the session being connected; a dead session means zero attempts.
	stCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	st, err := client.Status(stCtx, job.Credential)
	cancel()
	if err != nil {
		rec.Aborted = true
		s.log.Warn("broadcast skipped; status check failed", logx.String("job", job.ID), logx.Err(err))
		return
	}
	if !st.Connected {
		rec.Aborted = true
		s.log.Warn("broadcast skipped; session not connected", logx.String("job", job.ID), logx.String("owner", job.Owner))
		return
	}

	// The send variant is fixed per job, not per destination.
	shape := job.Content.variant()

	for i, dest := range job.Destinations {
		if ctx.Err() != nil {
			rec.Aborted = true
			s.log.Warn("broadcast interrupted",
				logx.String("job", job.ID),
				logx.Int("delivered", i),
				logx.Int("remaining", len(job.Destinations)-i),
			)
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				rec.Aborted = true
				return
			}
		}

		res := s.sendOne(ctx, cfg, client, job, shape, dest)
		rec.Results = append(rec.Results, res)
		if res.Error == "" {
			rec.Sent++
			s.log.Debug("broadcast message sent",
				logx.String("job", job.ID),
				logx.String("dest", dest),
				logx.String("message_id", res.MessageID),
			)
		} else {
			rec.Failed++
			s.log.Warn("broadcast message failed",
				logx.String("job", job.ID),
				logx.String("dest", dest),
				logx.Bool("rate_limited", res.RateLimited),
				logx.String("err", res.Error),
			)
		}

		// Pace before the next destination; nothing after the last one. A
		// rate-limit rejection stretches this single gap, it does not stack.
		if i == len(job.Destinations)-1 {
			continue
		}
		gap := s.paceInterval(cfg)
		if res.RateLimited {
			gap = cfg.RateLimitBackoff
			s.log.Info("rate limited; extending gap",
				logx.String("job", job.ID),
				logx.Duration("backoff", gap),
			)
		}
		if !s.wait(ctx, gap) {
			rec.Aborted = true
			return
		}
	}
}

// sendOne performs a single bounded delivery call. Failures are absorbed into
// the result; only the rate-limit kind influences subsequent pacing.
func (s *Service) sendOne(ctx context.Context, cfg Config, client provider.Client, job Job, shape variant, dest string) TargetResult {
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	var (
		res provider.SendResult
		err error
	)
	switch shape {
	case variantMixed:
		res, err = client.SendMixed(callCtx, job.Credential, dest, job.Content.Text, job.Content.ImageRef)
	case variantImage:
		res, err = client.SendImage(callCtx, job.Credential, dest, job.Content.ImageRef, job.Content.Caption)
	default:
		res, err = client.SendText(callCtx, job.Credential, dest, job.Content.Text)
	}

	out := TargetResult{Destination: dest}
	if err != nil {
		out.Error = err.Error()
		out.RateLimited = provider.IsRateLimited(err)
		return out
	}
	out.MessageID = res.MessageID
	return out
}

func (s *Service) paceInterval(cfg Config) time.Duration {
	if cfg.PacingMode != PacingRandom {
		return cfg.Pace
	}
	span := cfg.PaceMax - cfg.PaceMin
	if span <= 0 {
		return cfg.PaceMin
	}
	s.rngMu.Lock()
	jitter := time.Duration(s.rng.Int63n(int64(span) + 1))
	s.rngMu.Unlock()
	return cfg.PaceMin + jitter
}

// wait sleeps for d or until ctx is cancelled. Returns false on cancellation.
func (s *Service) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
