package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/metrics"
	"auto_seo_article_pipeline/pipeline"
	"auto_seo_article_pipeline/publisher"
	"auto_seo_article_pipeline/store"
)

// Publisher publishes finished articles. *publisher.Publisher implements it.
type Publisher interface {
	PublishDraft(ctx context.Context, gc *content.GeneratedContent) (publisher.Result, error)
}

// Deps are the components a Server uses. Pipeline is required.
type Deps struct {
	Pipeline  *pipeline.Orchestrator
	Store     store.Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    logger.Logger
	// Context bounds runs started over HTTP; it outlives any single request.
	Context context.Context
}

type Server struct {
	deps Deps
	log  logger.Logger
}

func New(deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("pipeline required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	return &Server{deps: deps, log: deps.Logger}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items", s.handleItemList)
	mux.HandleFunc("POST /api/items", s.handleItemCreate)
	mux.HandleFunc("GET /api/items/{id}", s.handleItemGet)
	mux.HandleFunc("POST /api/items/{id}/requeue", s.handleItemRequeue)
	mux.HandleFunc("POST /api/items/{id}/cancel", s.handleItemCancel)
	mux.HandleFunc("POST /api/items/{id}/publish", s.handleItemPublish)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/articles", s.handleArticles)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return s.logMiddleware(mux)
}

// --- Handlers ---

type itemReq struct {
	Title      string            `json:"title"`
	Variant    content.Variant   `json:"variant"`
	Format     content.Format    `json:"format"`
	Parent     string            `json:"parent"`
	SourceText string            `json:"sourceText"`
	SourceURL  string            `json:"sourceUrl"`
	Analysis   *content.Analysis `json:"analysis"`
}

type createReq struct {
	Items []itemReq `json:"items"`
	// Run starts the workers right after queueing.
	Run bool `json:"run"`
}

type statusResp struct {
	Running bool `json:"running"`
	Queued  int  `json:"queued"`
	Items   int  `json:"items"`
}

func (s *Server) handleItemList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pipeline.Items())
}

func (s *Server) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	items := make([]content.ContentItem, 0, len(req.Items))
	for i, it := range req.Items {
		if it.Variant != "" && !it.Variant.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: unknown variant %q", i, it.Variant))
			return
		}
		if it.Variant == content.VariantLinkOptimizer {
			if strings.TrimSpace(it.SourceText) == "" {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: link-optimizer needs sourceText", i))
				return
			}
		} else if strings.TrimSpace(it.Title) == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: title is required", i))
			return
		}
		items = append(items, content.ContentItem{
			Title:      strings.TrimSpace(it.Title),
			Variant:    it.Variant,
			Format:     it.Format,
			Parent:     it.Parent,
			SourceText: it.SourceText,
			SourceURL:  it.SourceURL,
			Analysis:   it.Analysis,
		})
	}
	queued := s.deps.Pipeline.Enqueue(items...)
	if req.Run {
		s.deps.Pipeline.Start(s.deps.Context)
	}
	writeJSON(w, http.StatusCreated, queued)
}

func (s *Server) handleItemGet(w http.ResponseWriter, r *http.Request) {
	item, ok := s.deps.Pipeline.Item(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleItemRequeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Pipeline.Item(id); !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err := s.deps.Pipeline.Requeue(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	item, _ := s.deps.Pipeline.Item(id)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleItemCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Pipeline.Item(id); !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if !s.deps.Pipeline.Cancel(id) {
		writeError(w, http.StatusConflict, "item is neither queued nor generating")
		return
	}
	item, _ := s.deps.Pipeline.Item(id)
	writeJSON(w, http.StatusAccepted, item)
}

func (s *Server) handleItemPublish(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		writeError(w, http.StatusNotImplemented, "publisher not configured")
		return
	}
	item, ok := s.deps.Pipeline.Item(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.Status != content.StatusDone || item.Content == nil {
		writeError(w, http.StatusConflict, "only finished articles can be published")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	res, err := s.deps.Publisher.PublishDraft(ctx, item.Content)
	if err != nil {
		s.log.Error("publish failed", logger.String("item", item.ID), logger.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Pipeline.Start(s.deps.Context) {
		writeError(w, http.StatusConflict, "pipeline already running")
		return
	}
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Pipeline.Stop()
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() statusResp {
	return statusResp{
		Running: s.deps.Pipeline.Running(),
		Queued:  s.deps.Pipeline.Queued(),
		Items:   len(s.deps.Pipeline.Items()),
	}
}

// handleEvents streams pipeline events as server-sent events until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, unsubscribe := s.deps.Pipeline.Events().Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "store not configured")
		return
	}
	items, err := s.deps.Store.List(r.Context(), content.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		s.log.Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", path),
			logger.Int("status", rec.status),
			logger.Duration("took", time.Since(start)))
	})
}
