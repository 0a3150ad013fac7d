package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicrelay/civicrelay/internal/flow"
	"github.com/civicrelay/civicrelay/internal/messaging"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// ConversationAdmin is the engine surface the admin endpoints need.
type ConversationAdmin interface {
	Reset(ctx context.Context, userID, channel string) error
	Logout(ctx context.Context, userID, channel string) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server exposes the HTTP surface: the citizen-line webhook, a health probe,
// and admin conversation management.
type Server struct {
	admin   ConversationAdmin
	states  *flow.StateManager
	citizen *messaging.TwilioService
	httpSrv *http.Server
}

// NewServer creates an API server. The citizen adapter may be nil when the
// deployment runs the worker line only; the webhook route is then omitted.
func NewServer(admin ConversationAdmin, states *flow.StateManager, citizen *messaging.TwilioService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{admin: admin, states: states, citizen: citizen}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/conversations/reset", s.resetHandler)
	mux.HandleFunc("/conversations/logout", s.logoutHandler)
	mux.HandleFunc("/conversations/state", s.stateHandler)
	if s.citizen != nil {
		mux.HandleFunc("/webhook/twilio", s.citizen.WebhookHandler)
	}
	return mux
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("API server shutting down")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
