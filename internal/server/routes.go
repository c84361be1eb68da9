package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /health", s.handleHealth)

	// Webhook deliveries.
	mux.HandleFunc("POST /webhook", s.handleWebhook)

	// Admin.
	mux.HandleFunc("GET /v1/state", s.withAdminToken(s.handleState))

	return mux
}
