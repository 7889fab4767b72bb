package annotations_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/marginalia/api/annotations"
	"github.com/killallgit/marginalia/api/types"
	"github.com/killallgit/marginalia/internal/database"
	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/export"
	"github.com/killallgit/marginalia/internal/services/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type AnnotationTestSuite struct {
	t      *testing.T
	db     *gorm.DB
	deps   *types.Dependencies
	router *gin.Engine
}

func setupAnnotationTestSuite(t *testing.T) *AnnotationTestSuite {
	// Set Gin to test mode
	gin.SetMode(gin.TestMode)

	// Create in-memory database
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.AnnotationRecord{})
	require.NoError(t, err, "Failed to migrate test database")

	deps := &types.Dependencies{
		DB:                &database.DB{DB: db},
		AnnotationService: persistence.NewService(persistence.NewRepository(db)),
	}

	router := gin.New()
	annotations.RegisterRoutes(router.Group("/api/v1"), deps)

	return &AnnotationTestSuite{
		t:      t,
		db:     db,
		deps:   deps,
		router: router,
	}
}

func (suite *AnnotationTestSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(suite.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *AnnotationTestSuite) create(body map[string]interface{}) models.WireAnnotation {
	w := suite.do(http.MethodPost, "/api/v1/documents/meditations/annotations", body)
	require.Equal(suite.t, http.StatusCreated, w.Code, w.Body.String())

	var created models.WireAnnotation
	require.NoError(suite.t, json.Unmarshal(w.Body.Bytes(), &created))
	return created
}

func (suite *AnnotationTestSuite) seed() {
	suite.create(map[string]interface{}{
		"id": "h1", "type": "highlight", "start_position": 300, "end_position": 320,
		"selected_text": "The impediment to action advances action", "color": "yellow",
		"tags": []string{"stoicism", "ethics"},
	})
	suite.create(map[string]interface{}{
		"id": "n1", "type": "note", "start_position": 120, "end_position": 150,
		"selected_text": "what stands in the way", "content": "Compare with Epictetus",
		"color": "blue", "tags": []string{"stoicism"}, "is_private": false,
	})
	suite.create(map[string]interface{}{
		"id": "b1", "type": "bookmark", "start_position": 10, "end_position": 10,
		"tags": []string{"chapter-one"},
	})
}

func listIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result persistence.ListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	ids := make([]string, 0, len(result.Annotations))
	for _, a := range result.Annotations {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestCreateAnnotation(t *testing.T) {
	suite := setupAnnotationTestSuite(t)

	t.Run("creates with tagged locator", func(t *testing.T) {
		created := suite.create(map[string]interface{}{
			"id":             "h-loc",
			"type":           "highlight",
			"start_position": 5,
			"end_position":   9,
			"selected_text":  "word",
			"color":          "green",
			"locator":        models.EnvelopeOf(models.TextOffsetLocator{StartOffset: 5, EndOffset: 9}),
		})

		assert.Equal(t, "h-loc", created.ID)
		assert.Equal(t, "meditations", created.BookID)
		assert.True(t, created.IsPrivate)
		require.NotNil(t, created.Locator)
		assert.False(t, created.CreatedAt.IsZero())
	})

	tests := []struct {
		name           string
		body           map[string]interface{}
		expectedStatus int
	}{
		{"missing type", map[string]interface{}{"content": "x"}, http.StatusBadRequest},
		{"unknown type", map[string]interface{}{"type": "scribble"}, http.StatusBadRequest},
		{"note without content", map[string]interface{}{"type": "note", "start_position": 1, "end_position": 2}, http.StatusBadRequest},
		{"bad color", map[string]interface{}{"type": "highlight", "color": "#12", "start_position": 1, "end_position": 2}, http.StatusBadRequest},
		{"duplicate id", map[string]interface{}{"id": "h-loc", "type": "bookmark"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := suite.do(http.MethodPost, "/api/v1/documents/meditations/annotations", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			var resp types.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, types.StatusError, resp.Status)
		})
	}
}

func TestGetAnnotations(t *testing.T) {
	suite := setupAnnotationTestSuite(t)
	suite.seed()

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"by type", "?type=note", []string{"n1"}},
		{"type all", "?type=all&sort=type", []string{"b1", "h1", "n1"}},
		{"by color name", "?color=yellow", []string{"h1"}},
		{"tags must all match", "?tags=stoicism,ethics", []string{"h1"}},
		{"repeated tags", "?tags=stoicism&tags=ethics", []string{"h1"}},
		{"text search covers content", "?query=epictetus", []string{"n1"}},
		{"privacy", "?is_private=false", []string{"n1"}},
		{"by position", "?sort=position", []string{"b1", "n1", "h1"}},
		{"by position descending", "?sort=position&order=desc", []string{"h1", "n1", "b1"}},
		{"date range excludes", "?date_to=2000-01-01", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations"+tt.query, nil)
			assert.Equal(t, tt.expected, listIDs(t, w))
		})
	}

	t.Run("other document is empty", func(t *testing.T) {
		w := suite.do(http.MethodGet, "/api/v1/documents/letters/annotations", nil)
		assert.Empty(t, listIDs(t, w))
	})

	t.Run("pagination", func(t *testing.T) {
		w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations?sort=position&page=2&per_page=2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result persistence.ListResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		require.NotNil(t, result.Pagination)
		assert.Equal(t, 3, result.Pagination.Total)
		assert.Equal(t, 2, result.Pagination.TotalPages)
		assert.False(t, result.Pagination.HasNext)
		assert.True(t, result.Pagination.HasPrev)
		require.Len(t, result.Annotations, 1)
		assert.Equal(t, "h1", result.Annotations[0].ID)
	})

	badQueries := []string{"?sort=colour", "?order=sideways", "?is_private=maybe", "?date_from=yesterday", "?page=x"}
	for _, q := range badQueries {
		t.Run("rejects "+q, func(t *testing.T) {
			w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations"+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetAnnotationStats(t *testing.T) {
	suite := setupAnnotationTestSuite(t)
	suite.seed()

	w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result persistence.StatsResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Stats.Total)
	assert.Contains(t, result.Filters.Tags, "stoicism")
}

func TestExportAnnotations(t *testing.T) {
	suite := setupAnnotationTestSuite(t)
	suite.seed()

	t.Run("json document", func(t *testing.T) {
		w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations/export?tags=stoicism", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="meditations-annotations.json"`)

		doc, err := export.Read(w.Body, export.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "meditations", doc.DocumentID)
		assert.Equal(t, 2, doc.Count)
	})

	t.Run("csv document", func(t *testing.T) {
		w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations/export?format=csv", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))

		rows, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})

	t.Run("unsupported format", func(t *testing.T) {
		w := suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations/export?format=xml", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetUpdateDeleteAnnotation(t *testing.T) {
	suite := setupAnnotationTestSuite(t)
	suite.seed()

	t.Run("get", func(t *testing.T) {
		w := suite.do(http.MethodGet, "/api/v1/annotations/n1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got models.WireAnnotation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "Compare with Epictetus", got.Content)
	})

	t.Run("update", func(t *testing.T) {
		w := suite.do(http.MethodPut, "/api/v1/annotations/h1", map[string]interface{}{
			"color": "pink",
			"tags":  []string{"revisit"},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var got models.WireAnnotation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, []string{"revisit"}, got.Tags)
		assert.Equal(t, "The impediment to action advances action", got.SelectedText)
	})

	t.Run("update missing", func(t *testing.T) {
		w := suite.do(http.MethodPut, "/api/v1/annotations/nope", map[string]interface{}{"color": "pink"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := suite.do(http.MethodDelete, "/api/v1/annotations/b1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Annotation deleted successfully")

		w = suite.do(http.MethodGet, "/api/v1/annotations/b1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = suite.do(http.MethodDelete, "/api/v1/annotations/b1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBulkAction(t *testing.T) {
	suite := setupAnnotationTestSuite(t)
	suite.seed()

	t.Run("partial failure is reported per id", func(t *testing.T) {
		w := suite.do(http.MethodPost, "/api/v1/annotations/bulk", map[string]interface{}{
			"action":         "update_color",
			"annotation_ids": []string{"h1", "missing"},
			"parameters":     map[string]interface{}{"color": "green"},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp persistence.BulkResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Requested)
		assert.Equal(t, 1, resp.Succeeded)
		assert.Equal(t, 1, resp.Failed)
		assert.Contains(t, resp.Errors, "missing")
	})

	t.Run("delete", func(t *testing.T) {
		w := suite.do(http.MethodPost, "/api/v1/annotations/bulk", map[string]interface{}{
			"action":         "delete",
			"annotation_ids": []string{"h1", "n1"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		w = suite.do(http.MethodGet, "/api/v1/documents/meditations/annotations", nil)
		assert.Equal(t, []string{"b1"}, listIDs(t, w))
	})

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown action", map[string]interface{}{"action": "archive", "annotation_ids": []string{"b1"}}},
		{"missing ids", map[string]interface{}{"action": "delete"}},
		{"missing action", map[string]interface{}{"annotation_ids": []string{"b1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := suite.do(http.MethodPost, "/api/v1/annotations/bulk", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
