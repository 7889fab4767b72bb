package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/marginalia/api/types"
	"github.com/killallgit/marginalia/api/version"
)

// Get handles health check requests
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200 {object} types.HealthResponse "Healthy"
// @Failure      503 {object} types.HealthResponse "Database unavailable"
// @Router       /health [get]
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		database := getDatabaseStatus(deps)

		response := types.HealthResponse{
			BaseResponse: types.BaseResponse{
				Status:  types.StatusOK,
				Message: time.Now().UTC().Format(time.RFC3339),
			},
			Version:  version.Version,
			Services: map[string]interface{}{"database": database},
		}

		status := http.StatusOK
		if database["status"] == "unhealthy" {
			response.Status = types.StatusError
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, response)
	}
}

// getDatabaseStatus returns the database connection status
func getDatabaseStatus(deps *types.Dependencies) gin.H {
	if deps == nil || deps.DB == nil || deps.DB.DB == nil {
		return gin.H{"status": "not configured"}
	}

	if err := deps.DB.HealthCheck(); err != nil {
		return gin.H{"status": "unhealthy", "error": err.Error()}
	}

	return gin.H{"status": "healthy"}
}
