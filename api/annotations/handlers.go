package annotations

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/marginalia/api/types"
	"github.com/killallgit/marginalia/internal/services/export"
	"github.com/killallgit/marginalia/internal/services/persistence"
	"github.com/killallgit/marginalia/internal/services/query"
)

// CreateAnnotation creates a new annotation on a document
// @Summary      Create annotation
// @Description  Create a highlight, note or bookmark on a document
// @Tags         annotations
// @Accept       json
// @Produce      json
// @Param        id path string true "Document ID"
// @Param        annotation body persistence.CreateRequest true "Annotation data"
// @Success      201 {object} models.WireAnnotation "Created annotation"
// @Failure      400 {object} types.ErrorResponse "Invalid request"
// @Failure      409 {object} types.ErrorResponse "Annotation id already taken"
// @Router       /api/v1/documents/{id}/annotations [post]
func CreateAnnotation(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req persistence.CreateRequest
		if !types.BindJSONOrError(c, &req) {
			return // Error response already sent by utility
		}

		created, err := deps.AnnotationService.CreateAnnotation(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			types.SendError(c, err)
			return
		}

		types.SendCreated(c, created)
	}
}

// GetAnnotations lists the annotations of a document
// @Summary      List annotations
// @Description  Filter, search, sort and page the annotations of a document
// @Tags         annotations
// @Produce      json
// @Param        id path string true "Document ID"
// @Param        query query string false "Case-insensitive text search"
// @Param        type query string false "highlight, note, bookmark or all"
// @Param        color query string false "Palette name or hex"
// @Param        tags query string false "Comma separated, all must match"
// @Param        date_from query string false "YYYY-MM-DD or RFC3339"
// @Param        date_to query string false "YYYY-MM-DD or RFC3339, inclusive"
// @Param        is_private query bool false "Privacy flag"
// @Param        sort query string false "date, type or position"
// @Param        order query string false "asc or desc"
// @Param        page query int false "Page number, enables pagination"
// @Param        per_page query int false "Page size, at most 100"
// @Success      200 {object} persistence.ListResult "Matching annotations"
// @Failure      400 {object} types.ErrorResponse "Invalid filter"
// @Router       /api/v1/documents/{id}/annotations [get]
func GetAnnotations(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := parseFilter(c)
		if !ok {
			return
		}
		page, ok := types.ParseIntQuery(c, "page", 0)
		if !ok {
			return
		}
		perPage, ok := types.ParseIntQuery(c, "per_page", 0)
		if !ok {
			return
		}

		result, err := deps.AnnotationService.ListAnnotations(c.Request.Context(), c.Param("id"), persistence.ListOptions{
			Filter:  filter,
			Page:    page,
			PerPage: perPage,
		})
		if err != nil {
			types.SendError(c, err)
			return
		}

		types.SendSuccess(c, result)
	}
}

// GetAnnotationStats summarizes the annotations of a document
// @Summary      Annotation statistics
// @Description  Counts by kind, color and month, top tags and available filter values
// @Tags         annotations
// @Produce      json
// @Param        id path string true "Document ID"
// @Success      200 {object} persistence.StatsResult "Statistics"
// @Router       /api/v1/documents/{id}/annotations/stats [get]
func GetAnnotationStats(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := deps.AnnotationService.Stats(c.Request.Context(), c.Param("id"))
		if err != nil {
			types.SendError(c, err)
			return
		}
		types.SendSuccess(c, stats)
	}
}

// ExportAnnotations downloads the annotations of a document
// @Summary      Export annotations
// @Description  Export the matching annotations of a document as JSON or CSV
// @Tags         annotations
// @Produce      json,text/csv
// @Param        id path string true "Document ID"
// @Param        format query string false "json (default) or csv"
// @Success      200 {object} export.Document "Export file"
// @Failure      400 {object} types.ErrorResponse "Unsupported format"
// @Router       /api/v1/documents/{id}/annotations/export [get]
func ExportAnnotations(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatJSON)))
		if err != nil {
			types.SendError(c, err)
			return
		}
		filter, ok := parseFilter(c)
		if !ok {
			return
		}

		documentID := c.Param("id")
		list, err := deps.AnnotationService.QueryAnnotations(c.Request.Context(), documentID, filter)
		if err != nil {
			types.SendError(c, err)
			return
		}

		c.Header("Content-Type", format.ContentType())
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-annotations.%s"`, documentID, format))
		c.Status(http.StatusOK)
		if err := export.Write(c.Writer, format, export.NewDocument(documentID, list, time.Now())); err != nil {
			log.Printf("[ERROR] Export of %s failed mid-stream: %v", documentID, err)
		}
	}
}

// GetAnnotation retrieves one annotation
// @Summary      Get annotation
// @Tags         annotations
// @Produce      json
// @Param        id path string true "Annotation ID"
// @Success      200 {object} models.WireAnnotation "Annotation"
// @Failure      404 {object} types.ErrorResponse "Annotation not found"
// @Router       /api/v1/annotations/{id} [get]
func GetAnnotation(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		annotation, err := deps.AnnotationService.GetAnnotation(c.Request.Context(), c.Param("id"))
		if err != nil {
			types.SendError(c, err)
			return
		}
		types.SendSuccess(c, annotation)
	}
}

// UpdateAnnotation updates an existing annotation
// @Summary      Update annotation
// @Description  Partially update content, color, tags or privacy of an annotation
// @Tags         annotations
// @Accept       json
// @Produce      json
// @Param        id path string true "Annotation ID"
// @Param        annotation body persistence.UpdateRequest true "Fields to change"
// @Success      200 {object} models.WireAnnotation "Updated annotation"
// @Failure      400 {object} types.ErrorResponse "Invalid request"
// @Failure      404 {object} types.ErrorResponse "Annotation not found"
// @Router       /api/v1/annotations/{id} [put]
func UpdateAnnotation(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req persistence.UpdateRequest
		if !types.BindJSONOrError(c, &req) {
			return // Error response already sent by utility
		}

		annotation, err := deps.AnnotationService.UpdateAnnotation(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			types.SendError(c, err)
			return
		}

		types.SendSuccess(c, annotation)
	}
}

// DeleteAnnotation deletes an annotation
// @Summary      Delete annotation
// @Tags         annotations
// @Produce      json
// @Param        id path string true "Annotation ID"
// @Success      200 {object} object{message=string} "Annotation deleted successfully"
// @Failure      404 {object} types.ErrorResponse "Annotation not found"
// @Router       /api/v1/annotations/{id} [delete]
func DeleteAnnotation(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.AnnotationService.DeleteAnnotation(c.Request.Context(), c.Param("id")); err != nil {
			types.SendError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Annotation deleted successfully"})
	}
}

// BulkAction applies one action to many annotations
// @Summary      Bulk annotation action
// @Description  delete, update_tags, update_color or toggle_private on up to 100 annotations
// @Tags         annotations
// @Accept       json
// @Produce      json
// @Param        request body persistence.BulkRequest true "Action and ids"
// @Success      200 {object} persistence.BulkResponse "Aggregate result"
// @Failure      400 {object} types.ErrorResponse "Invalid request"
// @Router       /api/v1/annotations/bulk [post]
func BulkAction(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req persistence.BulkRequest
		if !types.BindJSONOrError(c, &req) {
			return // Error response already sent by utility
		}

		resp, err := deps.AnnotationService.BulkAction(c.Request.Context(), req)
		if err != nil {
			types.SendError(c, err)
			return
		}

		types.SendSuccess(c, resp)
	}
}

// parseFilter reads the list filter from the query string
func parseFilter(c *gin.Context) (query.Filter, bool) {
	filter := query.Filter{
		Query: c.Query("query"),
		Kind:  c.Query("type"),
		Color: c.Query("color"),
	}

	for _, raw := range c.QueryArray("tags") {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}

	sortBy, ok := query.ParseSortField(c.Query("sort"))
	if !ok {
		types.SendBadRequest(c, "Invalid sort field")
		return query.Filter{}, false
	}
	filter.SortBy = sortBy

	switch strings.ToLower(c.DefaultQuery("order", "asc")) {
	case "asc":
	case "desc":
		filter.Descending = true
	default:
		types.SendBadRequest(c, "Invalid sort order")
		return query.Filter{}, false
	}

	if raw := c.Query("is_private"); raw != "" {
		private, err := strconv.ParseBool(raw)
		if err != nil {
			types.SendBadRequest(c, "Invalid is_private")
			return query.Filter{}, false
		}
		filter.IsPrivate = &private
	}

	if raw := c.Query("date_from"); raw != "" {
		from, err := parseDate(raw, false)
		if err != nil {
			types.SendBadRequest(c, "Invalid date_from")
			return query.Filter{}, false
		}
		filter.DateFrom = &from
	}
	if raw := c.Query("date_to"); raw != "" {
		to, err := parseDate(raw, true)
		if err != nil {
			types.SendBadRequest(c, "Invalid date_to")
			return query.Filter{}, false
		}
		filter.DateTo = &to
	}

	return filter, true
}

// parseDate accepts RFC3339 or a bare day. A bare day used as an upper
// bound covers the whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}
