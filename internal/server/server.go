// Package server is the long-lived serving process. Its middleware drains
// the deferred event queue at request boundaries, and its routes expose the
// tracked records, the pending queue and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/metrics"
	"github.com/blackwell-systems/addonsync/internal/queue"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Firer runs the drain at most once per arming.
type Firer interface {
	Fire(ctx context.Context) (int, error)
	Arm()
}

// RecordLister lists records of one kind.
type RecordLister interface {
	List(ctx context.Context, kind addon.Kind) ([]*addon.Record, error)
}

// QueueReader reads pending entries without consuming them.
type QueueReader interface {
	Drain(ctx context.Context) ([]queue.Entry, error)
}

// Options holds the server's collaborators.
type Options struct {
	Addr    string
	Trigger Firer
	Records RecordLister
	Queue   QueueReader
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Debug   bool
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	router *gin.Engine
	http   *http.Server
	opts   Options
	logger *zap.Logger
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(DrainEvents(opts.Trigger, opts.Logger))

	s := &Server{router: router, opts: opts, logger: opts.Logger}
	h := &handlers{records: opts.Records, queue: opts.Queue, trigger: opts.Trigger}

	router.GET("/healthz", h.health)
	router.GET("/plugins", h.listRecords(addon.KindPlugin))
	router.GET("/themes", h.listRecords(addon.KindTheme))
	router.GET("/queue", h.pendingQueue)
	router.POST("/drain", h.drain)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.opts.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// DrainEvents fires the trigger before each request is handled. Drain
// failures are logged and never fail the request.
func DrainEvents(trigger Firer, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if trigger != nil {
			if _, err := trigger.Fire(c.Request.Context()); err != nil {
				logger.Error("failed to dispatch package events", zap.Error(err))
			}
		}
		c.Next()
	}
}
