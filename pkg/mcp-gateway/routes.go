package mcpgateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

func (g *Gateway) mountHandler(stream http.Handler) http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimSuffix(path, "/")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", g.handleHealth)
	if g.opts.Metrics != nil {
		r.Handle("/metrics", g.opts.Metrics.Handler())
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", g.handleServers)
		r.Get("/tools", g.handleListTools)
		r.Post("/tools/describe", g.handleDescribeTools)
		r.Post("/tools/call", g.handleCallTool)
	})
	r.Handle(path, stream)
	r.Handle(path+"/*", stream)

	return cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(r)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"states": g.manager.ServerStates(),
	})
}

func (g *Gateway) handleServers(w http.ResponseWriter, r *http.Request) {
	servers, err := g.manager.Servers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// handleListTools serves GET /api/tools?server=name.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	listing, err := g.ListTools(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (g *Gateway) handleDescribeTools(w http.ResponseWriter, r *http.Request) {
	var in DescribeInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := g.Describe(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCallTool serves POST /api/tools/call. Tool failures are part of the
// 200 response body, like use_tool.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var in UseInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.ExecuteTool(r.Context(), in.ToolName, in.ToolArgs, in.ServerName))
}

var errBadRequest = errors.New("invalid request body")

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, mcperr.ErrUnknownServer), errors.Is(err, mcperr.ErrUnknownTool):
		status = http.StatusNotFound
	case errors.Is(err, mcperr.ErrConfigNotFound), errors.Is(err, mcperr.ErrConfigParse), errors.Is(err, mcperr.ErrConfigSchema):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorEnvelope{Error: mcperr.From(err, mcperr.KindToolFailed)})
}
