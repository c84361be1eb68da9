package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"duesync/internal/api"
	"duesync/internal/webhook"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if secret := strings.TrimSpace(r.Header.Get(webhook.SecretHeader)); secret != "" {
		s.handleHandshake(w, r, secret)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	if s.verifySignatures {
		secret := s.currentSecret(r.Context())
		if secret != "" && !webhook.VerifySignature(secret, body, r.Header.Get(webhook.SignatureHeader)) {
			s.writeErrorReq(w, r, http.StatusUnauthorized,
				unauthorizedCode(fmt.Errorf("invalid webhook signature"), ErrCodeInvalidSignature))
			return
		}
	}

	events, err := webhook.Decode(body)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, classifyDecodeError(err))
		return
	}

	actions := webhook.Classify(events, s.dispatcher.Rules())
	deliveryID := requestIDFromContext(r.Context())
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	s.log().Debug("webhook delivery received",
		"delivery_id", deliveryID, "events", len(events), "actions", len(actions))
	if len(actions) > 0 {
		s.dispatchAsync(deliveryID, actions)
	}

	s.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "success"})
}

// handleHandshake accepts the first secret offered. Once a secret is known,
// a handshake offering a different one must be signed with the known secret.
// Clearing the stored secret (duesync webhook create does this) reopens the
// handshake for the next subscription.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request, secret string) {
	known, err := s.secrets.WebhookSecret(r.Context(), defaultSecretName)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError,
			makeAPIError(http.StatusInternalServerError, "store_failure", ErrCodeStoreFailure,
				fmt.Errorf("load webhook secret: %w", err)))
		return
	}

	if known != "" && known != secret {
		body, err := readBody(w, r)
		if err != nil {
			s.writeErrorReq(w, r, http.StatusBadRequest, err)
			return
		}
		if !webhook.VerifySignature(known, body, r.Header.Get(webhook.SignatureHeader)) {
			s.writeErrorReq(w, r, http.StatusUnauthorized,
				unauthorizedCode(fmt.Errorf("handshake would replace the webhook secret"), ErrCodeInvalidSignature))
			return
		}
		s.log().Warn("webhook secret rotated by signed handshake", "remote_addr", r.RemoteAddr)
	}

	s.secretMu.Lock()
	s.secret = secret
	s.secretMu.Unlock()

	if err := s.secrets.SaveWebhookSecret(r.Context(), defaultSecretName, secret); err != nil {
		s.log().Error("persist webhook secret", "error", err)
	}
	s.log().Info("webhook handshake completed", "remote_addr", r.RemoteAddr)

	w.Header().Set(webhook.SecretHeader, secret)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
}

// currentSecret returns the handshake secret, loading it from the secret
// store on first use.
func (s *Server) currentSecret(ctx context.Context) string {
	s.secretMu.RLock()
	secret := s.secret
	s.secretMu.RUnlock()
	if secret != "" {
		return secret
	}

	stored, err := s.secrets.WebhookSecret(ctx, defaultSecretName)
	if err != nil {
		s.log().Error("load webhook secret", "error", err)
		return ""
	}
	if stored == "" {
		return ""
	}
	s.secretMu.Lock()
	if s.secret == "" {
		s.secret = stored
	}
	secret = s.secret
	s.secretMu.Unlock()
	return secret
}

// dispatchAsync applies actions in the background under the handler timeout
// so the delivery is acknowledged before any remote call is made.
func (s *Server) dispatchAsync(deliveryID string, actions []webhook.Action) {
	s.inFlight.Add(1)
	s.inFlightN.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer s.inFlightN.Add(-1)

		ctx, cancel := context.WithTimeout(s.baseCtx, s.handlerTimeout)
		defer cancel()

		logger := s.log().With("delivery_id", deliveryID)
		start := time.Now()
		summary := s.dispatcher.Dispatch(ctx, actions)
		fields := []any{
			"actions", len(actions),
			"handled", summary.Handled,
			"failed", summary.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			logger.Error("delivery handling timed out", append(fields, "timeout", s.handlerTimeout)...)
		case summary.Failed > 0:
			logger.Warn("delivery handled with failures", fields...)
		default:
			logger.Info("delivery handled", fields...)
		}
	}()
}
