package annotations

import (
	"github.com/gin-gonic/gin"
	"github.com/killallgit/marginalia/api/types"
)

// RegisterRoutes registers annotation-related routes
func RegisterRoutes(router *gin.RouterGroup, deps *types.Dependencies) {
	// Document annotation endpoints
	documents := router.Group("/documents")
	{
		documents.POST("/:id/annotations", CreateAnnotation(deps))
		documents.GET("/:id/annotations", GetAnnotations(deps))
		documents.GET("/:id/annotations/stats", GetAnnotationStats(deps))
		documents.GET("/:id/annotations/export", ExportAnnotations(deps))
	}

	// Direct annotation endpoints (not nested under documents)
	annotationsGroup := router.Group("/annotations")
	{
		annotationsGroup.POST("/bulk", BulkAction(deps))
		annotationsGroup.GET("/:id", GetAnnotation(deps))
		annotationsGroup.PUT("/:id", UpdateAnnotation(deps))
		annotationsGroup.DELETE("/:id", DeleteAnnotation(deps))
	}
}
