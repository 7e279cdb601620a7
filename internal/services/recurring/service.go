package recurring

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"warelay/internal/services/broadcast"
	logx "warelay/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Template is the broadcast shape a definition submits on every tick.
type Template struct {
	Destinations []string
	Content      broadcast.Content
	Credential   string
	Owner        string
}

// Submitter hands a job to the broadcast scheduler.
type Submitter func(broadcast.ScheduleRequest) (broadcast.Receipt, error)

type definition struct {
	name    string
	spec    string // normalized cron spec
	tmpl    Template
	entryID cron.EntryID
}

// EntryInfo is the observer-facing definition shape.
type EntryInfo struct {
	Name         string    `json:"name"`
	Spec         string    `json:"spec"`
	Destinations int       `json:"destinations"`
	Owner        string    `json:"owner,omitempty"`
	Next         time.Time `json:"next,omitempty"`
	Prev         time.Time `json:"prev,omitempty"`
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	submit Submitter

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	defs   []definition
}

func New(cfg Config, submit Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		submit: submit,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply updates the service config. A timezone change takes effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Add registers (or replaces) a named recurring broadcast.
func (s *Service) Add(name, schedule string, tmpl Template) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if len(tmpl.Destinations) == 0 {
		return broadcast.ErrNoDestinations
	}
	if tmpl.Credential == "" {
		return broadcast.ErrNoCredential
	}
	ps, err := ParseSpec(schedule)
	if err != nil {
		return err
	}
	spec := ps.cronSpec()
	// Validate eagerly so a bad spec fails at Add, not at Start.
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.removeLocked(name)
	s.defs = append(s.defs, definition{name: name, spec: spec, tmpl: tmpl})
	if s.c != nil {
		if err := s.registerLocked(&s.defs[len(s.defs)-1]); err != nil {
			return err
		}
	}
	s.log.Debug("recurring broadcast registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.Int("destinations", len(tmpl.Destinations)),
	)
	return nil
}

// Remove unregisters a definition. Returns true if something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(name)
	if removed {
		s.log.Debug("recurring broadcast removed", logx.String("name", name))
	}
	return removed
}

// removeLocked removes all defs matching name and unregisters them from cron
// if running. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(d *definition) error {
	name := d.name
	tmpl := d.tmpl
	eid, err := s.c.AddFunc(d.spec, func() { s.fire(name, tmpl) })
	if err != nil {
		s.log.Error("recurring broadcast register failed", logx.String("name", name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	d.entryID = eid
	return nil
}

// fire submits one immediate broadcast for a definition tick.
func (s *Service) fire(name string, tmpl Template) {
	rc, err := s.submit(broadcast.ScheduleRequest{
		Destinations: tmpl.Destinations,
		Content:      tmpl.Content,
		ActivationAt: time.Now(),
		Credential:   tmpl.Credential,
		Owner:        tmpl.Owner,
	})
	if err != nil {
		s.log.Warn("recurring broadcast submit failed", logx.String("name", name), logx.Err(err))
		return
	}
	s.log.Info("recurring broadcast submitted", logx.String("name", name), logx.String("job", rc.ID))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.registerLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("definitions", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Snapshot lists the current definitions with next/prev run times.
func (s *Service) Snapshot() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := EntryInfo{
			Name:         d.name,
			Spec:         d.spec,
			Destinations: len(d.tmpl.Destinations),
			Owner:        d.tmpl.Owner,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
