// Package server assembles the gin router and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/api/handlers"
	"birdwatch-go/internal/api/middleware"
	"birdwatch-go/internal/locale"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const sessionCookieName = "birdwatch_session"

// Server is the HTTP front of the pipeline
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
}

// Options are the parts the router is built from
type Options struct {
	Server     config.ServerConfig
	Metrics    config.MetricsConfig
	API        *handlers.APIHandler
	Bundle     *locale.Bundle
	MetricsAPI http.Handler // served at Metrics.Path when metrics are enabled
}

// New creates the router with all routes registered
func New(opts Options) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Logger())
	engine.Use(cors.New(corsConfig(opts.Server.AllowedOrigins)))
	engine.Use(sessions.Sessions(sessionCookieName, cookie.NewStore([]byte(opts.Server.SessionSecret))))
	engine.Use(middleware.I18n(opts.Bundle))

	opts.API.RegisterRoutes(engine.Group("/api"))

	if opts.Server.CaptureURL != "" && opts.Server.CaptureDir != "" {
		engine.Static(opts.Server.CaptureURL, opts.Server.CaptureDir)
		log.Infof("Serving captures from %s under %s", opts.Server.CaptureDir, opts.Server.CaptureURL)
	}

	if opts.Metrics.Enabled && opts.MetricsAPI != nil {
		engine.GET(opts.Metrics.Path, gin.WrapH(opts.MetricsAPI))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", opts.Server.Host, opts.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done and then shuts the server down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	return cfg
}
