package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/labeling"
	"github.com/pbaille/triage/internal/logging"
	"github.com/pbaille/triage/internal/metrics"
	"github.com/pbaille/triage/internal/mode"
	"github.com/pbaille/triage/internal/ranking"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
	defaultRunLimit = 20
)

// RulesSource returns the rules currently in force.
type RulesSource interface {
	Current() *config.RulesConfig
}

// History reads the run journal. *store.Store satisfies it.
type History interface {
	ListRuns(limit int) ([]domain.Run, error)
	GetRun(id string) (*domain.Run, error)
	RunRanking(runID string) ([]domain.RankingEntry, error)
}

// Options configures the server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	DefaultMode    string
	TimeModes      config.TimeBasedModes
}

// Deps are the server collaborators. History and Metrics are optional.
type Deps struct {
	Labeler  *labeling.Pipeline
	Reranker *ranking.Reranker
	Rules    RulesSource
	History  History
	Metrics  *metrics.Collector
}

// Server handles HTTP requests for the triage API. Labeling and ranking
// requests are served one at a time.
type Server struct {
	mu     sync.Mutex
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new API server
func New(deps Deps, opts Options, logger *zap.Logger) *Server {
	return &Server{deps: deps, opts: opts, logger: logging.OrNop(logger), now: time.Now}
}

// SetLabeler swaps the labeling pipeline, for instance after the rules
// document changed.
func (s *Server) SetLabeler(p *labeling.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.Labeler = p
}

// Handler returns the routed, instrumented handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /health", s.health)
	s.handle(mux, "POST /label", s.label)
	s.handle(mux, "POST /rank", s.rank)
	s.handle(mux, "GET /rules", s.rules)
	s.handle(mux, "GET /runs", s.listRuns)
	s.handle(mux, "GET /runs/{id}", s.getRun)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
		)
	})
}

func (s *Server) resolveMode(m string) string {
	return mode.Resolve(m, s.opts.DefaultMode, s.now(), s.opts.TimeModes)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LabelRequest is the request body for labeling a task. Content is a
// shorthand for a task with only content.
type LabelRequest struct {
	Task    domain.Task `json:"task"`
	Content string      `json:"content,omitempty"`
	Mode    string      `json:"mode,omitempty"`
}

func (s *Server) label(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Task.Content == "" {
		req.Task.Content = req.Content
	}
	if strings.TrimSpace(req.Task.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Mode != "" && !mode.Valid(req.Mode) {
		writeError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}

	s.mu.Lock()
	res := s.deps.Labeler.Run(r.Context(), req.Task, s.resolveMode(req.Mode))
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordLabels(res)
	}
	writeJSON(w, http.StatusOK, res)
}

// RankRequest is the request body for ranking tasks.
type RankRequest struct {
	Tasks []domain.Task `json:"tasks"`
	Mode  string        `json:"mode,omitempty"`
	Limit int           `json:"limit,omitempty"`
}

// RankResponse is the response for ranking tasks.
type RankResponse struct {
	Mode    string                      `json:"mode"`
	Results []domain.EnhancedScoredTask `json:"results"`
	Usage   ranking.Usage               `json:"usage"`
}

func (s *Server) rank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Mode != "" && !mode.Valid(req.Mode) {
		writeError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	m := s.resolveMode(req.Mode)
	s.mu.Lock()
	results, usage := s.deps.Reranker.RerankWithExplanations(r.Context(), req.Tasks, m, req.Limit)
	s.mu.Unlock()

	if results == nil {
		results = []domain.EnhancedScoredTask{}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRanking(results)
	}
	writeJSON(w, http.StatusOK, RankResponse{Mode: m, Results: results, Usage: usage})
}

func (s *Server) rules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeError(w, http.StatusNotFound, "no rules loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Rules.Current())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "no run journal")
		return
	}
	limit := defaultRunLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.deps.History.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"limit": limit,
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "no run journal")
		return
	}
	id := r.PathValue("id")

	run, err := s.deps.History.GetRun(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	ranked, err := s.deps.History.RunRanking(run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":     run,
		"ranking": ranked,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
