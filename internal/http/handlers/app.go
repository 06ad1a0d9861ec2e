package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"server/internal/checkpoint"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/progress"
	"server/internal/storage"
)

// App is the handler container wiring the analysis pipeline, the progress
// registry and the checkpoint cache into the HTTP layer.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Registry *progress.Registry
	Analyzer *pipeline.Analyzer
	Cache    *checkpoint.Cache
	Store    *storage.FileStore

	results resultStore
}

// NewApp assembles the handler container.
func NewApp(cfg *infra.Config, logger infra.Logger, registry *progress.Registry, analyzer *pipeline.Analyzer, cache *checkpoint.Cache, store *storage.FileStore) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Analyzer: analyzer,
		Cache:    cache,
		Store:    store,
		results:  resultStore{results: make(map[string]domain.AnalysisResult)},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"code": kind, "error": message})
}

// resultStore keeps the final result of tracked background runs until the
// client fetches it. Entries are removed on fetch to bound memory.
type resultStore struct {
	mu      sync.Mutex
	results map[string]domain.AnalysisResult
}

func (s *resultStore) put(handle string, result domain.AnalysisResult) {
	s.mu.Lock()
	s.results[handle] = result
	s.mu.Unlock()
}

func (s *resultStore) take(handle string) (domain.AnalysisResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[handle]
	if ok {
		delete(s.results, handle)
	}
	return result, ok
}
