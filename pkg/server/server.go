package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"instaclean/internal/executor"
	"instaclean/pkg/auth"
	"instaclean/pkg/config"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
	"instaclean/pkg/stream"
	"instaclean/pkg/task"
)

// shutdownTimeout bounds graceful shutdown of connections and executors
const shutdownTimeout = 15 * time.Second

// Deps are the collaborators a Server is built from. Nil fields are
// created from Config.
type Deps struct {
	Config   *config.Config
	Logger   logger.Logger
	Sessions auth.Store
	Registry task.Registry
	Runner   *executor.Runner
	Reporter *stream.Reporter
	Clients  ClientFactory
	// Sleep replaces the executors' pacing sleep, mainly for tests
	Sleep executor.SleepFunc
}

// Server is the HTTP front end of the task engine
type Server struct {
	cfg      *config.Config
	logger   logger.Logger
	sessions auth.Store
	registry task.Registry
	runner   *executor.Runner
	reporter *stream.Reporter
	clients  ClientFactory
	limiters *limiterPool
	sleep    executor.SleepFunc
	router   *BasicRouter
}

// New wires a Server from deps
func New(deps Deps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	s := &Server{
		cfg:      cfg,
		logger:   log,
		sessions: deps.Sessions,
		registry: deps.Registry,
		runner:   deps.Runner,
		reporter: deps.Reporter,
		clients:  deps.Clients,
		limiters: newLimiterPool(cfg.RateLimit),
		sleep:    deps.Sleep,
	}
	if s.sessions == nil {
		s.sessions = auth.NewMemoryStore(cfg.Server.SessionTTL, log)
	}
	if s.registry == nil {
		s.registry = task.NewMemoryRegistry(cfg.Batch.TaskTTL,
			task.WithLogger(log), task.WithMaxItems(max(cfg.Batch.MaxItems, cfg.Batch.MaxLookupItems)))
	}
	if s.runner == nil {
		s.runner = executor.NewRunner(log)
	}
	if s.reporter == nil {
		s.reporter = stream.NewReporter(cfg.Batch.HeartbeatInterval, log)
	}
	if s.clients == nil {
		s.clients = newClientFactory(cfg, log, s.limiters)
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recover(s.logger), RequestLogger(s.logger), CORS(s.cfg.Server.AllowedOrigins))

	authed := RequireSession(s.sessions)

	r.HandleFunc(http.MethodGet, "/health", s.handleHealth)
	r.Handle(http.MethodGet, "/metrics", metrics.Handler())

	r.HandleFunc(http.MethodPost, "/login", s.handleLogin)
	r.HandleFunc(http.MethodPost, "/logout", s.handleLogout)
	r.HandleFunc(http.MethodGet, "/api/me", s.handleMe, authed)

	r.HandleFunc(http.MethodPost, "/api/cancel", s.handleCancel, authed)
	r.HandleFunc(http.MethodPost, "/api/unfollow", s.handleUnfollow, authed)
	r.HandleFunc(http.MethodPost, "/api/pending-sent", s.handlePendingSent, authed)
	r.HandleFunc(http.MethodPost, "/api/cancel-sent", s.handleCancelSent, authed)
	r.HandleFunc(http.MethodPost, "/api/resolve-usernames", s.handleResolveUsernames, authed)

	r.HandleFunc(http.MethodGet, "/api/progress/{id}", s.handleProgress, authed)
	r.HandleFunc(http.MethodGet, "/api/check-sent/{id}", s.handleProgress, authed)
	r.HandleFunc(http.MethodGet, "/api/cancel-all-sent/{id}", s.handleCancelAllSent, authed)

	r.HandleFunc(http.MethodGet, "/api/pending-received", s.handlePendingReceived, authed)
	r.HandleFunc(http.MethodGet, "/api/not-following-back", s.handleNotFollowingBack, authed)
	r.HandleFunc(http.MethodGet, "/api/proxy-image", s.handleProxyImage, authed)
	r.HandleFunc(http.MethodPost, "/api/extract-zip", s.handleExtractZip, authed)

	// preflights match no method route; the CORS middleware answers them here
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		r.HandleFunc(http.MethodOptions, "/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	return r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sweep prunes idle sessions and the rate limiters of accounts left
// without one; it is meant to be registered with a task.Sweeper next to
// the registry's own sweep.
func (s *Server) Sweep(now time.Time) int {
	n := s.sessions.Prune(now)
	s.limiters.retain(s.sessions.HasUser)
	return n
}

// Registry returns the task registry the server submits to
func (s *Server) Registry() task.Registry {
	return s.registry
}

// Run listens on the configured address until ctx is done, then shuts
// down connections and running executors.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// requests outlive ctx so open streams can still deliver the expired summary
	base := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	logger.LogComponentStart(s.logger, "http", map[string]interface{}{
		"address": ln.Addr().String(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// streams hold their connections open, so stop executors first
	runnerErr := s.runner.Shutdown(shutdownCtx)
	srvErr := srv.Shutdown(shutdownCtx)
	<-errCh

	logger.LogComponentStop(s.logger, "http", ctx.Err().Error())
	return errors.Join(runnerErr, srvErr)
}
