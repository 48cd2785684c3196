package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"seqwatch/internal/api"
	"seqwatch/internal/changes"
	"seqwatch/internal/config"
	"seqwatch/internal/logging"
	"seqwatch/internal/pipeline"
	"seqwatch/internal/services"
)

const (
	maxPollWait    = 25 * time.Second
	maxRequestBody = 1 << 20
	defaultLogTail = 200
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxPollWait + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware(token))

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/data", s.handleData)
	r.Get("/api/references", s.handleReferences)
	r.Route("/api/pipelines", func(r chi.Router) {
		r.Get("/", s.handlePipelines)
		r.Get("/{id}", s.handlePipeline)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Delete("/{id}", s.handleClear)
	})
	r.Post("/api/changes", s.handleChange)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/logs", s.handleLogs)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// requestContext copies the chi request id into the service context so log
// lines written while handling the request carry it.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", s.bind, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		_ = s.server.Close()
	}
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.daemon.Status()
	payload := api.DaemonStatus{
		Running:     status.Running,
		PID:         status.PID,
		WatchDir:    status.WatchDir,
		Polling:     status.Polling,
		LockPath:    status.LockPath,
		LedgerPath:  status.LedgerPath,
		Title:       status.Title,
		Records:     status.Records,
		DataVersion: status.DataVersion,
		Samples:     status.Samples,
		References:  status.References,
		Runs:        status.Runs,
	}
	if !status.Started.IsZero() {
		payload.StartedAt = status.Started.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleData(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.daemon.Store().Snapshot()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleReferences(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.ReferencesResponse{References: s.daemon.Store().References()})
}

func (s *apiServer) handlePipelines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: api.FromRuns(s.daemon.Runner().Runs())})
}

func (s *apiServer) handlePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if run, ok := s.daemon.Runner().Run(id); ok {
		s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromRun(run)})
		return
	}
	if s.daemon.ledger != nil {
		entry, err := s.daemon.ledger.Get(r.Context(), id)
		if err == nil {
			s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromEntry(entry)})
			return
		}
		if !errors.Is(err, services.ErrNotFound) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "run not found")
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.Runner().Cancel(id); err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	run, _ := s.daemon.Runner().Run(id)
	logging.WithContext(r.Context(), s.log()).Info("run cancellation requested",
		logging.String(logging.FieldEventType, "run_cancel_requested"),
		logging.String(logging.FieldRunID, id),
	)
	s.writeJSON(w, http.StatusAccepted, api.RunResponse{Run: api.FromRun(run)})
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, _ := s.daemon.Runner().Run(id)
	if err := s.daemon.Runner().Clear(id); err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	run.Status = pipeline.StatusClosed
	s.daemon.record(r.Context(), run)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleChange(w http.ResponseWriter, r *http.Request) {
	var req api.ChangeRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	change, err := changes.FromKeyValues(req.Kind, req.Values)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	if err := s.daemon.Apply(change); err != nil {
		logging.WithContext(r.Context(), s.log()).Info("change rejected",
			logging.String("kind", change.Kind()),
			logging.Error(err),
		)
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.ChangeResponse{Kind: change.Kind(), Applied: true})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	wait := parseWait(query.Get("wait"))

	ctx := r.Context()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	events, next, err := s.daemon.Hub().Fetch(ctx, since, wait > 0)
	if err != nil && !isContextError(err) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventsResponse{Events: events, Next: next})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogTail
	}
	wait := parseWait(query.Get("wait"))

	if since == 0 && wait == 0 {
		events, next := hub.Tail(limit)
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
		return
	}

	ctx := r.Context()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	events, next, err := hub.Fetch(ctx, since, limit, wait > 0)
	if err != nil && !isContextError(err) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
}

// parseWait accepts seconds ("10"), a duration ("1500ms") or a boolean; the
// result is capped at maxPollWait.
func parseWait(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	var wait time.Duration
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		wait = time.Duration(seconds * float64(time.Second))
	} else if d, err := time.ParseDuration(value); err == nil {
		wait = d
	} else if b, err := strconv.ParseBool(value); err == nil && b {
		wait = maxPollWait
	}
	if wait < 0 {
		return 0
	}
	return min(wait, maxPollWait)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRunActive), errors.Is(err, pipeline.ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Warn("api response encode failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s == nil || s.logger == nil {
		return logging.NewNop()
	}
	return s.logger
}
