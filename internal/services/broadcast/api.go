package broadcast

import (
	"fmt"
	"runtime/debug"
	"time"

	"warelay/internal/eventbus"
	logx "warelay/pkg/logx"
)

// Schedule validates the request, registers the job, and arms its timer.
// It returns immediately; delivery outcome is only visible via History().
//
// An activation time in the past is not an error: the delay clamps to zero and
// dispatch begins right away.
func (s *Service) Schedule(req ScheduleRequest) (Receipt, error) {
	if len(req.Destinations) == 0 {
		return Receipt{}, ErrNoDestinations
	}
	if req.Content.empty() {
		return Receipt{}, ErrEmptyContent
	}
	if req.Credential == "" {
		return Receipt{}, ErrNoCredential
	}

	now := time.Now()
	at := req.ActivationAt
	if at.IsZero() {
		at = now
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	job := Job{
		ID:           fmt.Sprintf("bc:%d", s.seq.Add(1)),
		Destinations: append([]string(nil), req.Destinations...),
		Content:      req.Content,
		ActivationAt: at,
		Credential:   req.Credential,
		Owner:        req.Owner,
		CreatedAt:    now,
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return Receipt{}, ErrNotRunning
	}
	id := job.ID
	e := &entry{job: job}
	e.timer = time.AfterFunc(delay, func() { s.activate(id) })
	s.jobs[id] = e
	s.mu.Unlock()

	s.log.Debug("broadcast scheduled",
		logx.String("job", id),
		logx.String("owner", job.Owner),
		logx.Int("destinations", len(job.Destinations)),
		logx.Time("at", at),
		logx.Duration("delay", delay),
	)
	s.publish(eventbus.TopicBroadcastScheduled, s.viewOf(job))

	return Receipt{ID: id, ActivationAt: at}, nil
}

// Cancel disarms a pending job. It returns false for unknown ids and for jobs
// whose dispatch has already begun; an in-flight run always goes to completion.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.running {
		s.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(s.jobs, id)
	job := e.job
	s.mu.Unlock()

	s.log.Info("broadcast cancelled", logx.String("job", id), logx.String("owner", job.Owner))
	s.publish(eventbus.TopicBroadcastCancelled, s.viewOf(job))
	return true
}

// Get returns the live job view. Finished and cancelled jobs are gone; check
// History() for outcomes.
func (s *Service) Get(id string) (JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return s.viewOf(e.job), true
}

// List returns a view of every live job. Order is unspecified.
func (s *Service) List() []JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobView, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, s.viewOf(e.job))
	}
	return out
}

// viewOf strips the credential; the raw key must never reach an observer.
func (s *Service) viewOf(job Job) JobView {
	return JobView{
		ID:           job.ID,
		Destinations: append([]string(nil), job.Destinations...),
		Text:         job.Content.Text,
		ImageRef:     job.Content.ImageRef,
		Caption:      job.Content.Caption,
		ActivationAt: job.ActivationAt.UnixMilli(),
		Owner:        job.Owner,
		Status:       "scheduled",
	}
}

// activate runs when the job's timer fires. The running flag closes the
// cancellation window; from here the job executes exactly once.
func (s *Service) activate(id string) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.running || !s.started {
		// cancelled before the callback won the lock, or service stopping
		if ok && !e.running {
			delete(s.jobs, id)
		}
		s.mu.Unlock()
		return
	}
	e.running = true
	ctx := s.runCtx
	job := e.job
	// Add under the lock: Stop() sets started=false before it calls Wait, so
	// every activation that passes the started check is counted first.
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in broadcast dispatch",
					logx.String("job", job.ID),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				s.remove(job.ID)
			}
		}()
		s.dispatch(ctx, job)
	}()
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}
