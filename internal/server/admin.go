package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/opcuactl/internal/auth"
	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves the admin control plane.
func (s *Server) AdminHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.RequestMetricsMiddleware(),
		observability.RequestLogger(observability.Logger("admin")),
	)
	s.registerAdminRoutes(router)
	return router
}

func (s *Server) registerAdminRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"uptime":       time.Since(s.startedAt).String(),
			"endpoint_url": s.cfg.EndpointURL,
			"sessions":     len(s.Sessions()),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": s.Sessions(),
		})
	})

	router.GET("/sessions/:id", func(c *gin.Context) {
		sess, ok := s.Session(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, sess.Info())
	})

	guarded := router.Group("/")
	if s.cfg.AdminToken != "" {
		guarded.Use(auth.RequireBearer(auth.StaticToken{Token: s.cfg.AdminToken}))
	}
	guarded.POST("/sessions/:id/abort", func(c *gin.Context) {
		id := c.Param("id")
		if !s.Abort(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.Warn().Str("session", id).Msg("server.admin session abort requested")
		c.JSON(http.StatusAccepted, gin.H{"status": "aborting", "session": id})
	})
}

func (s *Server) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("server.admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
