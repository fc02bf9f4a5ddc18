package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"cmdflow/internal/dispatcher"
	"cmdflow/internal/domain"
	"cmdflow/internal/events"
	"cmdflow/internal/scheduler"
	"cmdflow/internal/serializer"
)

// retryAfter is the polling interval suggested to clients, in seconds.
const retryAfter = "10"

// Builder creates fresh commands from a type name and JSON fields.
type Builder interface {
	New(typ string, body []byte) (domain.Command, error)
}

type Config struct {
	Dispatcher dispatcher.Dispatcher
	Events     events.Repository
	Builder    Builder
	// Stats is reported on /api/v1/stats when set.
	Stats     func() any
	Schedules *scheduler.Service
	Debug     bool
}

type Server struct {
	r   *chi.Mux
	cfg Config
}

func NewServer(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, cfg: cfg}

	r.Get("/health", s.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/commands/{type}", s.dispatchCommand)
		r.Get("/commands/{id}", s.commandStatus)
		r.Get("/commands/{id}/output", s.commandOutput)
		r.Get("/commands/{id}/events", s.commandEvents)
		r.Get("/schedules", s.listSchedules)
		r.Get("/stats", s.stats)
	})

	if cfg.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type dispatchResp struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

func (s *Server) dispatchCommand(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := s.cfg.Builder.New(typ, body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, serializer.ErrUnknownType) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	if err := s.cfg.Dispatcher.Dispatch(r.Context(), cmd); err != nil {
		log.Error().Err(err).Str("command_id", cmd.CommandID()).Msg("dispatch failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	location := "/api/v1/commands/" + cmd.CommandID()
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusAccepted, dispatchResp{ID: cmd.CommandID(), Type: cmd.CommandType(), Location: location})
}

// commandStatus implements the long-running operation polling pattern.
func (s *Server) commandStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, ok, err := s.cfg.Events.Latest(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch {
	case ev.Status.InFlight():
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusNoContent)
	case ev.Status == domain.StatusProcessed:
		http.Redirect(w, r, "/api/v1/commands/"+id+"/output", http.StatusSeeOther)
	default:
		writeJSON(w, http.StatusInternalServerError, toEventResp(ev))
	}
}

func (s *Server) commandOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, ok, err := s.cfg.Events.Latest(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok || ev.Status != domain.StatusProcessed {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toEventResp(ev))
}

type eventResp struct {
	CommandID   string          `json:"command_id"`
	CommandType string          `json:"command_type,omitempty"`
	Command     json.RawMessage `json:"command,omitempty"`
	Status      domain.Status   `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Error       string          `json:"error,omitempty"`
}

func toEventResp(ev domain.Event) eventResp {
	resp := eventResp{CommandID: ev.CommandID, Status: ev.Status, Timestamp: ev.Timestamp, Error: ev.Err}
	if ev.Command != nil {
		resp.CommandType = ev.Command.CommandType()
		if b, err := json.Marshal(ev.Command); err == nil {
			resp.Command = b
		}
	}
	return resp
}

func (s *Server) commandEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	all, err := s.cfg.Events.All(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(all) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	out := make([]eventResp, len(all))
	for i, ev := range all {
		out[i] = toEventResp(ev)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Schedules == nil {
		writeJSON(w, http.StatusOK, []scheduler.Info{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Schedules.List())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
