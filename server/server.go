// Package server is the admin API of a pipes host.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
)

const DefaultStopTimeout = 30 * time.Second

type Server struct {
	addr        string
	pipes       Pipes
	stopTimeout time.Duration
	logger      zerolog.Logger
	httpServer  *http.Server
}

type Option func(*Server)

// WithStopTimeout bounds how long DELETE /pipes/{name} waits for a drain.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

func New(addr string, pipes Pipes, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		pipes:       pipes,
		stopTimeout: DefaultStopTimeout,
		logger:      logger.GetLogger("admin"),
	}
	for _, o := range opts {
		o(s)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)

	router.Mount("/pipes", s.PipesRouter())
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		SendError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})

	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// Start listens on the configured address and serves until Shutdown. It
// returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info().Msgf("Running the admin server on %s", ln.Addr())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("admin server stopped")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
