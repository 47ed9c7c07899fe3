// Package transport hosts the dispatch core on net/http: it parses
// incoming requests, attaches the streaming body publisher, hands each
// exchange to the dispatcher, and maps the dispatcher's connection
// semantics back onto HTTP/1.1 keep-alive behavior.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/outrigger-io/keel/internal/config"
	"github.com/outrigger-io/keel/internal/dispatch"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/infrastructure"
)

// Server binds a Dispatcher to a TCP listener.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a server around the dispatcher.
func NewServer(cfg *config.Config, d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.With(slog.String("component", "transport")),
	}
}

// Start listens and serves until the context is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	control, err := s.cfg.Socket.Control(s.logger)
	if err != nil {
		return err
	}
	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Addr())
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:        s,
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}

	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down server")
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ServeHTTP runs one exchange through the dispatcher. The goroutine
// blocks until dispatch produces a response or aborts the connection, so
// net/http keeps the response writer alive for offloaded handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := httpx.NewRequest(r)
	*r = *r.WithContext(infrastructure.WithRequestID(r.Context(), req.ID()))

	if r.Body != nil && r.ContentLength != 0 {
		req.SetStream(newBodyPublisher(r.Body, s.cfg.Body.ChunkSize))
	}

	cc := newConnContext(w, r, req, s.logger)
	s.dispatcher.Dispatch(cc, req)

	if aborted := cc.wait(); aborted {
		// No response was produced; tear the connection down instead of
		// letting net/http send an empty 200.
		panic(http.ErrAbortHandler)
	}
}
