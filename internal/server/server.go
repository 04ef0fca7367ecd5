// Package server exposes the relay over HTTP: Twilio webhooks, the media
// stream endpoint, and the authenticated call and chat APIs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentplexus/omnivoice/callsystem"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentplexus/voicerelay"
	"github.com/agentplexus/voicerelay/relay"
	"github.com/agentplexus/voicerelay/transport"
)

// Calls places and tracks PSTN calls.
type Calls interface {
	MakeStreamCall(ctx context.Context, host, to string, opts ...callsystem.CallOption) (callsystem.Call, error)
	HandleIncomingWebhook(callSID, from, to, host string) (callsystem.Call, string, error)
	HandleStatusCallback(callSID, status string) bool
	StreamStarted(callSID string)
	HangupCall(ctx context.Context, callSID string) error
}

// Completer answers text prompts.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// EngineDialer opens a realtime engine session for one call.
type EngineDialer func(ctx context.Context) (relay.Engine, error)

// Config configures a Server.
type Config struct {
	Addr         string
	PublicHost   string
	Username     string
	Password     string
	Tunables     relay.Tunables
	PollInterval time.Duration

	Calls   Calls
	Chat    Completer
	Media   *transport.Provider
	Dial    EngineDialer
	Session relay.SessionSource
	Logger  *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
	relays *registry

	baseCtx    context.Context
	cancelBase context.CancelFunc
	httpServer *http.Server
}

// New creates a Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Calls == nil || cfg.Media == nil || cfg.Dial == nil || cfg.Session == nil {
		return nil, errors.New("server: calls, media, dial and session are required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("server: basic auth credentials are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		relays:     newRegistry(),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Get(voicerelay.IncomingCallPath, s.handleIncomingCall)
	r.Post(voicerelay.IncomingCallPath, s.handleIncomingCall)
	r.Post(voicerelay.CallStatusPath, s.handleCallStatus)
	r.Get(voicerelay.MediaStreamPath, s.handleMediaStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth("voicerelay", map[string]string{s.cfg.Username: s.cfg.Password}))
		r.Post("/call", s.handleCall)
		r.Post("/chat", s.handleChat)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// No read or write timeouts: they would cut hijacked media streams.
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, ends every live call and waits for
// the relays to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", "live_calls", s.relays.Len())

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.cancelBase()
	if werr := s.relays.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	if cerr := s.cfg.Media.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// publicHost is the host Twilio should call back on.
func (s *Server) publicHost(r *http.Request) string {
	if s.cfg.PublicHost != "" {
		return s.cfg.PublicHost
	}
	return r.Host
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
