// Package server exposes the health and status of a worker over HTTP.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/River-unknown/kit/internal/attempt"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
)

// PoolStater reports the execution worker pool.
type PoolStater interface {
	Stats() pool.Stats
}

// AttemptTracker reports the attempts being executed.
type AttemptTracker interface {
	InFlight() []attempt.Status
	Capacity() int
}

// Server is the worker status server.
type Server struct {
	*echo.Echo
	config *Config
}

// NewServer returns a new Server instance.
func NewServer(opts ...Option) *Server {
	cfg := NewConfig(opts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(Logger(cfg.logger))
	e.Use(Recover(cfg.logger))

	controller := &StatusController{
		Pool:        cfg.pool,
		Attempts:    cfg.attempts,
		HealthCheck: cfg.healthCheck,
	}
	controller.Register(e)

	return &Server{Echo: e, config: cfg}
}

// Listen starts listening on the configured address.
func (server *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", server.config.Addr())
	if err != nil {
		return nil, errors.New(err)
	}

	server.Server.Addr = ln.Addr().String()

	server.config.logger.Infof("Status server is listening on %s", ln.Addr())

	return ln, nil
}

// Run serves on ln until ctx is done.
func (server *Server) Run(ctx context.Context, ln net.Listener) error {
	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.Go(func() error {
		<-ctx.Done()
		server.config.logger.Debugf("Shutting down status server")

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.config.shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return errors.New(err)
		}

		return nil
	})

	if err := server.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Errorf("error starting status server: %w", err)
	}

	return errGroup.Wait()
}
