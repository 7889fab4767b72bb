package version

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Name and Version identify the server build
const (
	Name    = "Marginalia"
	Version = "1.0.0"
)

// Get handles version requests
// @Summary      Version
// @Tags         version
// @Produce      json
// @Success      200 {object} object{name=string,version=string,description=string,status=string}
// @Router       / [get]
func Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":        Name,
			"version":     Version,
			"description": "Annotation persistence and export API",
			"status":      "running",
		})
	}
}
