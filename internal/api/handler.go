// Package api exposes the lineage extractor over HTTP. It is kept separate
// from cmd/lineage so tests can spin up an in-process server via
// httptest.NewServer.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// LineageProvider is the extractor surface the handler needs.
type LineageProvider interface {
	GetUpstreamLineage(ctx context.Context, target domain.TableIdentifier) *domain.UpstreamLineage
	Report() *domain.ExtractionReport
	Invalidate()
}

// Handler serves the lineage query API.
type Handler struct {
	provider LineageProvider
	logger   *slog.Logger
}

// NewHandler builds the /v1 lineage router.
func NewHandler(provider LineageProvider, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{provider: provider, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))
	r.Use(h.requestLogger)

	r.Route("/v1/lineage", func(r chi.Router) {
		r.Get("/upstream", h.getUpstream)
		r.Get("/report", h.getReport)
		r.Post("/refresh", h.postRefresh)
	})
	return r
}

// upstreamResponse is the wire shape of one lineage answer.
type upstreamResponse struct {
	Table           string            `json:"table"`
	Upstreams       []domain.Upstream `json:"upstreams"`
	ExtraProperties map[string]string `json:"extraProperties,omitempty"`
}

func (h *Handler) getUpstream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := domain.TableIdentifier{
		Project: q.Get("project"),
		Dataset: q.Get("dataset"),
		Table:   q.Get("table"),
	}
	if target.Project == "" || target.Dataset == "" || target.Table == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project, dataset and table query parameters are required",
		})
		return
	}

	lineage := h.provider.GetUpstreamLineage(r.Context(), target)
	if lineage == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no lineage recorded for table",
		})
		return
	}

	writeJSON(w, http.StatusOK, upstreamResponse{
		Table:           target.Project + "." + target.Dataset + "." + target.Table,
		Upstreams:       lineage.Upstreams,
		ExtraProperties: lineage.Properties,
	})
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Report().Snapshot())
}

func (h *Handler) postRefresh(w http.ResponseWriter, r *http.Request) {
	h.provider.Invalidate()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
