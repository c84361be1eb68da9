package server

import (
	"fmt"
	"net/http"

	"duesync/internal/api"
	"duesync/internal/auth"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", InFlight: s.InFlight()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.dispatcher.State().Snapshot()
	s.writeJSON(w, http.StatusOK, api.StateResponse{
		TrackedSection: s.dispatcher.Rules().TrackedSection,
		Extensions:     snap.Extensions,
		Processed:      snap.Processed,
		Assignments:    snap.Assignments,
	})
}

// withAdminToken requires a bearer token matching the configured bcrypt
// hash. Without a configured hash the route is open.
func (s *Server) withAdminToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminTokenHash == "" {
			next(w, r)
			return
		}
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.writeErrorReq(w, r, http.StatusUnauthorized,
				unauthorizedCode(fmt.Errorf("admin token required"), ErrCodeUnauthorized))
			return
		}
		if !auth.VerifyToken(s.adminTokenHash, token) {
			s.writeErrorReq(w, r, http.StatusForbidden,
				makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden, fmt.Errorf("invalid admin token")))
			return
		}
		next(w, r)
	}
}
