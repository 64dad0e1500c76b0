package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"
)

// HTTPServer serves the same tool protocol as the stdio transport over a
// single POST /mcp endpoint: the request body is one JSON-RPC message, the
// response body is its result or error.
type HTTPServer struct {
	mcp    *MCPServer
	router chi.Router
	http   *http.Server
}

// NewHTTPServer wraps an MCPServer with a chi router exposing it over HTTP.
func NewHTTPServer(addr string, server *MCPServer) *HTTPServer {
	h := &HTTPServer{
		mcp:    server,
		router: chi.NewRouter(),
	}

	h.router.Get("/healthz", h.handleHealthz)
	h.router.Post("/mcp", h.handleMCP)

	h.http = &http.Server{
		Addr:    addr,
		Handler: h.router,
	}

	return h
}

// Start begins serving and blocks until the server stops.
func (h *HTTPServer) Start() error {
	err := h.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.http.Shutdown(ctx)
}

func (h *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleMCP decodes a single JSON-RPC message from the request body, runs
// it through the same dispatch path the stdio transport uses, and writes
// the result (or error) back as the response body.
func (h *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	var msg MCPMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(NewErrorMessage(nil, ParseError, "failed to parse request body: "+err.Error(), nil))
		return
	}

	response := h.mcp.handleMessage(&msg)
	if response == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
