// Package server receives webhook deliveries from the task service,
// acknowledges them immediately and hands the classified actions to the
// engine in the background.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"duesync/internal/engine"
	"duesync/internal/tracking"
	"duesync/internal/webhook"
)

const (
	readHeaderTimeout     = 5 * time.Second
	readTimeout           = 30 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	defaultHandlerTimeout = 4 * time.Minute
	shutdownTimeout       = 30 * time.Second
	defaultSecretName     = "default"
)

// Dispatcher applies classified actions. *engine.Engine implements it.
type Dispatcher interface {
	Rules() webhook.Rules
	State() *tracking.State
	Dispatch(ctx context.Context, actions []webhook.Action) engine.Summary
}

// SecretStore remembers the webhook handshake secret across restarts.
type SecretStore interface {
	SaveWebhookSecret(ctx context.Context, name, secret string) error
	WebhookSecret(ctx context.Context, name string) (string, error)
}

// Options configures a Server.
type Options struct {
	Addr             string
	HandlerTimeout   time.Duration
	VerifySignatures bool
	AdminTokenHash   string
	Secrets          SecretStore
	Logger           *slog.Logger
}

// Server wraps HTTP handlers for webhook deliveries.
type Server struct {
	addr             string
	dispatcher       Dispatcher
	handlerTimeout   time.Duration
	verifySignatures bool
	adminTokenHash   string
	secrets          SecretStore
	logger           *slog.Logger

	secretMu sync.RWMutex
	secret   string

	inFlight   sync.WaitGroup
	inFlightN  atomic.Int64
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates a new server instance.
func New(dispatcher Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = &memorySecrets{}
	}
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:             opts.Addr,
		dispatcher:       dispatcher,
		handlerTimeout:   timeout,
		verifySignatures: opts.VerifySignatures,
		adminTokenHash:   opts.AdminTokenHash,
		secrets:          secrets,
		logger:           logger,
		baseCtx:          baseCtx,
		cancelBase:       cancel,
	}
}

// Handler returns the full HTTP handler, including request logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

// ListenAndServe starts the HTTP server and blocks until ctx is canceled,
// then stops accepting requests and drains in-flight deliveries.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancelBase()
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if drainErr := s.Drain(shutdownCtx); drainErr != nil {
		err = errors.Join(err, drainErr)
	}
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	return err
}

// Drain waits for background deliveries to finish. When ctx expires first,
// the remaining deliveries are canceled and Drain returns ctx's error.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log().Warn("abandoning in-flight deliveries", "in_flight", s.inFlightN.Load())
		s.cancelBase()
		<-done
		return ctx.Err()
	}
}

// InFlight reports how many deliveries are being processed.
func (s *Server) InFlight() int64 {
	return s.inFlightN.Load()
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// ResetSecret forgets the remembered handshake secret so the next handshake
// is accepted without a signature.
func ResetSecret(ctx context.Context, secrets SecretStore) error {
	return secrets.SaveWebhookSecret(ctx, defaultSecretName, "")
}

type memorySecrets struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (m *memorySecrets) SaveWebhookSecret(_ context.Context, name, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets == nil {
		m.secrets = make(map[string]string)
	}
	m.secrets[name] = secret
	return nil
}

func (m *memorySecrets) WebhookSecret(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[name], nil
}
