// Package dashboard serves a read-only JSON view of the open submissions.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/submission"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB         *gorm.DB
	Sessions   *session.Store // optional; reported in /api/stats
	Port       int
	StaleAfter time.Duration // defaults to 24h
	Logger     *zap.Logger
}

type server struct {
	db          *gorm.DB
	store       *submission.Store
	sessions    *session.Store
	staleAfter  time.Duration
	sseInterval time.Duration
	log         *zap.Logger
}

// NewRouter builds the gin engine with every dashboard route.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dashboard: db is required")
	}
	store, err := submission.NewStore(submission.StoreOpts{DB: opts.DB})
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{
		db:          opts.DB,
		store:       store,
		sessions:    opts.Sessions,
		staleAfter:  staleAfter,
		sseInterval: 3 * time.Second,
		log:         logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, s)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Logger != nil {
		opts.Logger.Info("dashboard: listening", zap.Int("port", opts.Port))
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
