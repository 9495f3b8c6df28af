// Package api exposes the OpenAI-compatible chat completion surface and
// routes each request to the provider its credential belongs to.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/metrics"
	"github.com/cheahjs/img-router/internal/provider"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxRequestBytes leaves room for several inline images in one request.
const maxRequestBytes = 64 << 20

type Router struct {
	router   *mux.Router
	handler  http.Handler
	registry *provider.Registry
	cfg      *config.Config
}

func NewRouter(registry *provider.Registry, cfg *config.Config, logger zerolog.Logger) *Router {
	r := mux.NewRouter()
	router := &Router{
		router:   r,
		registry: registry,
		cfg:      cfg,
	}

	r.HandleFunc("/v1/chat/completions", router.chatCompletionsHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", router.modelsHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", router.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/", router.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	router.handler = withRequestLogger(logger, recoverPanics(cors(r)))
	return router
}

func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router.handler.ServeHTTP(w, r)
}

func (router *Router) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	credential := bearerToken(r.Header.Get("Authorization"))
	if credential == "" {
		logger.Warn().Msg("Authorization header missing")
		metrics.RequestsTotal.WithLabelValues(provider.Unknown.String(), "401").Inc()
		writeError(ctx, w, http.StatusUnauthorized, "Authorization header missing", "")
		return
	}

	id := provider.Detect(credential)
	adapter, ok := router.registry.Lookup(id)
	if !ok {
		logger.Warn().Str("key_prefix", provider.KeyPrefix(credential)).Msg("Could not detect provider from credential")
		metrics.RequestsTotal.WithLabelValues(id.String(), "401").Inc()
		writeError(ctx, w, http.StatusUnauthorized, provider.ErrUnknownProvider.Error(), "")
		return
	}

	l := logger.With().Str("provider", id.String()).Logger()
	logger = &l
	ctx = logger.WithContext(ctx)
	logger.Info().Str("key_prefix", provider.KeyPrefix(credential)).Msg("Routing request")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(id.String(), "400").Inc()
		writeError(ctx, w, http.StatusBadRequest, "failed to read request body", id.String())
		return
	}
	var chatRequest ChatCompletionRequest
	if err := json.Unmarshal(body, &chatRequest); err != nil {
		metrics.RequestsTotal.WithLabelValues(id.String(), "400").Inc()
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), id.String())
		return
	}

	req := normalizeRequest(ctx, chatRequest)
	logger.Debug().Str("prompt", req.Prompt).Msg("Extracted prompt")
	logger.Info().
		Int("prompt_length", len(req.Prompt)).
		Int("images", len(req.Images)).
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Msg("Request normalized")
	for i, img := range req.Images {
		logger.Debug().Int("index", i).Str("image", img.String()).Msg("Input image")
	}

	start := time.Now()
	result, err := adapter.Generate(ctx, credential, req)
	metrics.VendorLatency.WithLabelValues(id.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		status := statusForError(err)
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Generation failed")
		metrics.RequestsTotal.WithLabelValues(id.String(), strconv.Itoa(status)).Inc()
		writeError(ctx, w, status, err.Error(), id.String())
		return
	}
	logger.Info().Int("images", len(result.Images)).Dur("duration", time.Since(start)).Msg("Generation complete")
	metrics.RequestsTotal.WithLabelValues(id.String(), "200").Inc()

	content := renderMarkdown(result.Images)
	if req.Stream {
		writeStream(ctx, w, chatRequest.Model, content)
		return
	}
	respondWithJSON(ctx, w, http.StatusOK, buildCompletion(chatRequest.Model, content))
}

// statusForError maps adapter failures onto HTTP statuses. Everything an
// adapter returns is a vendor-side failure except an unknown credential.
func statusForError(err error) int {
	if errors.Is(err, provider.ErrUnknownProvider) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (router *Router) modelsHandler(w http.ResponseWriter, r *http.Request) {
	catalogs := []struct {
		owner   string
		catalog config.Catalog
	}{
		{provider.VolcEngine.String(), router.cfg.VolcEngine.Catalog},
		{provider.Gitee.String(), router.cfg.Gitee.Catalog},
		{provider.ModelScope.String(), router.cfg.ModelScope.Catalog},
		{provider.HuggingFace.String(), router.cfg.HuggingFace.Catalog},
	}

	list := ModelList{Object: "list", Data: []Model{}}
	seen := map[string]bool{}
	add := func(id, owner string) {
		if seen[owner+"/"+id] {
			return
		}
		seen[owner+"/"+id] = true
		list.Data = append(list.Data, Model{ID: id, Object: "model", OwnedBy: owner})
	}
	for _, c := range catalogs {
		for _, m := range c.catalog.Models {
			add(m, c.owner)
		}
		for _, m := range c.catalog.EditModels {
			add(m, c.owner)
		}
	}
	for _, m := range router.cfg.Gitee.AsyncEditModels {
		add(m, provider.Gitee.String())
	}
	respondWithJSON(r.Context(), w, http.StatusOK, list)
}

func (router *Router) healthHandler(w http.ResponseWriter, r *http.Request) {
	ids := router.registry.Identities()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	respondWithJSON(r.Context(), w, http.StatusOK, HealthResponse{Status: "ok", Providers: names})
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	zerolog.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("Route not found")
	writeError(r.Context(), w, http.StatusNotFound, "Not found", "")
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path, "")
}
