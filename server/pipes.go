package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tarungka/pipes/internal/pipeline"
)

const defaultDeadLetterLimit = 100

// Pipes is what the admin API needs from the pipe registry.
type Pipes interface {
	List() []pipeline.Status
	Get(name string) (*pipeline.Pipe, bool)
	Stop(ctx context.Context, name string) error
}

// PipesRouter serves the read-only pipe views and the stop operation.
func (s *Server) PipesRouter() chi.Router {
	router := chi.NewRouter()

	router.Get("/", s.listPipes())
	router.Route("/{name}", func(r chi.Router) {
		r.Get("/", s.getPipe())
		r.Get("/checkpoints", s.getCheckpoints())
		r.Get("/deadletters", s.getDeadLetters())
		r.Delete("/", s.stopPipe())
	})

	return router
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*pipeline.Pipe, bool) {
	name := chi.URLParam(r, "name")
	p, ok := s.pipes.Get(name)
	if !ok {
		SendError(w, http.StatusNotFound, "pipe not found: "+name)
	}
	return p, ok
}

func (s *Server) listPipes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := s.pipes.List()
		want := r.URL.Query().Get("state")
		if want == "" {
			SendResponse(w, all)
			return
		}
		state, ok := pipeline.ParseState(want)
		if !ok {
			SendError(w, http.StatusBadRequest, "unknown state: "+want)
			return
		}
		out := make([]pipeline.Status, 0, len(all))
		for _, st := range all {
			if st.State == state {
				out = append(out, st)
			}
		}
		SendResponse(w, out)
	}
}

func (s *Server) getPipe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.lookup(w, r)
		if !ok {
			return
		}
		SendResponse(w, p.Status())
	}
}

func (s *Server) getCheckpoints() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.lookup(w, r)
		if !ok {
			return
		}
		cps, err := p.Checkpoints(r.Context())
		if err != nil {
			s.logger.Err(err).Str("pipe", p.Name()).Msg("listing checkpoints")
			SendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		SendResponse(w, cps)
	}
}

func (s *Server) getDeadLetters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDeadLetterLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				SendError(w, http.StatusBadRequest, "limit must be a non negative integer")
				return
			}
			limit = n
		}
		p, ok := s.lookup(w, r)
		if !ok {
			return
		}
		entries, err := p.DeadLetters(r.Context(), limit)
		if err != nil {
			s.logger.Err(err).Str("pipe", p.Name()).Msg("listing dead letters")
			SendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		SendResponse(w, entries)
	}
}

// stopPipe drains the pipe within the server's stop timeout. A drain that
// times out still stops the pipe; its in-flight batches are redelivered later.
func (s *Server) stopPipe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.lookup(w, r)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.stopTimeout)
		defer cancel()

		err := s.pipes.Stop(ctx, p.Name())
		switch {
		case errors.Is(err, pipeline.ErrPipeNotFound):
			SendError(w, http.StatusNotFound, err.Error())
			return
		case err != nil && !errors.Is(err, context.DeadlineExceeded):
			SendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Info().Str("pipe", p.Name()).Bool("drained", err == nil).Msg("pipe stopped via admin api")
		SendResponse(w, StopResult{Pipe: p.Name(), State: p.State().String(), Drained: err == nil})
	}
}
