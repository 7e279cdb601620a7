package httpapi

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"

	"warelay/internal/services/broadcast"
	"warelay/internal/services/recurring"
	"warelay/internal/storage"
	logx "warelay/pkg/logx"
)

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	return c
}

// Scheduler is the broadcast surface the API binds to.
type Scheduler interface {
	Enabled() bool
	Schedule(req broadcast.ScheduleRequest) (broadcast.Receipt, error)
	Cancel(id string) bool
	Get(id string) (broadcast.JobView, bool)
	List() []broadcast.JobView
	History() []broadcast.Record
}

// Recurrer lists recurring broadcast definitions.
type Recurrer interface {
	Snapshot() []recurring.EntryInfo
}

// Deps wires the API to the services. Recurring and Store may be nil when the
// corresponding feature is disabled.
type Deps struct {
	Broadcasts Scheduler
	Recurring  Recurrer
	Store      storage.Store
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	srv  *http.Server

	errCh chan error
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		errCh: make(chan error, 1),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Route("/broadcasts", func(b chi.Router) {
			b.Post("/", s.handleSchedule)
			b.Get("/", s.handleList)
			b.Get("/{id}", s.handleGet)
			b.Delete("/{id}", s.handleCancel)
		})
		api.Get("/history", s.handleHistory)
		api.Get("/records", s.handleRecords)
		api.Get("/recurring", s.handleRecurring)
	})

	return r
}

// Handler returns the routed handler without binding a listener (tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start(ctx context.Context) {
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped", logx.Err(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
}

// Err reports a fatal listener error, if any.
func (s *Server) Err() <-chan error { return s.errCh }

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("http handler panic",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", sw.status),
			logx.Int64("bytes", sw.bytes),
			logx.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}
