package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/marginalia/api/annotations"
	"github.com/killallgit/marginalia/api/health"
	"github.com/killallgit/marginalia/api/types"
	"github.com/killallgit/marginalia/api/version"
	"github.com/killallgit/marginalia/internal/services/persistence"
	"github.com/killallgit/marginalia/pkg/config"
)

// RegisterRoutes registers all API routes
func RegisterRoutes(engine *gin.Engine, deps *types.Dependencies, rateLimiters *sync.Map, cleanupStop chan struct{}, cleanupInitialized *sync.Once) error {
	// Register public routes (no rate limiting)
	health.RegisterRoutes(engine, deps)
	version.RegisterRoutes(engine)

	// Setup 404 handler
	engine.NoRoute(NotFoundHandler())

	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if deps == nil || deps.DB == nil || deps.DB.DB == nil {
		return fmt.Errorf("database is not configured")
	}

	// Initialize the annotation service if not already set
	if deps.AnnotationService == nil {
		deps.AnnotationService = persistence.NewService(persistence.NewRepository(deps.DB.DB))
	}

	// API v1 routes
	v1 := engine.Group("/api/v1")
	if cfg.RateLimiting.Enabled {
		v1.Use(PerClientRateLimit(rateLimiters, cleanupStop, cleanupInitialized, "v1",
			cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst))
	}
	annotations.RegisterRoutes(v1, deps)

	return nil
}

// NotFoundHandler handles 404 errors
func NotFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  types.StatusError,
			"message": "The requested endpoint was not found",
			"path":    c.Request.URL.Path,
		})
	}
}
