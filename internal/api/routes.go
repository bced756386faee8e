package api

import (
	"net/http"

	"github.com/mfgtest/orchestrator/internal/api/middleware"
)

// setupRoutes registers the session control surface (spec.md §6, expanded
// per SPEC_FULL.md §6). /healthz is registered as a public endpoint so
// liveness probes work whether or not client-key auth is enabled
// (SPEC_FULL.md §6's "optional" ClientAuth).
func (s *Server) setupRoutes(mux *http.ServeMux) {
	middleware.RegisterPublicEndpoint("/healthz")

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/v1/sessions", s.handleStartSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", s.handleStopSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stream", s.handleStreamSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/results", s.handleListResults)
	mux.HandleFunc("GET /api/v1/sessions/{id}/report", s.handleDownloadReport)
	mux.HandleFunc("GET /api/v1/testplans/{project}/{station}", s.handleGetTestPlan)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
