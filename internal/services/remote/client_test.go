package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apiannotations "github.com/killallgit/marginalia/api/annotations"
	"github.com/killallgit/marginalia/api/types"
	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/annotations"
	"github.com/killallgit/marginalia/internal/services/persistence"
	"github.com/killallgit/marginalia/pkg/config"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupAPI serves the real annotation handlers over an in-memory database
func setupAPI(t *testing.T) *httptest.Server {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.AnnotationRecord{}))

	deps := &types.Dependencies{
		AnnotationService: persistence.NewService(persistence.NewRepository(db)),
	}
	router := gin.New()
	apiannotations.RegisterRoutes(router.Group("/api/v1"), deps)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(baseURL string, renderer models.RendererKind) *Client {
	return NewClient(Config{
		BaseURL:           baseURL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
		Renderer:          renderer,
	})
}

func highlight(id string, start, end int) models.Annotation {
	return models.Annotation{
		ID:           id,
		DocumentID:   "meditations",
		Kind:         models.KindHighlight,
		Locator:      models.TextOffsetLocator{StartOffset: start, EndOffset: end},
		SelectedText: "what stands in the way",
		Color:        "#fef3c7",
		Tags:         models.NewTags("stoicism"),
		IsPrivate:    true,
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.RemoteConfig{
		BaseURL:           "http://annotations.internal:9000",
		Timeout:           3 * time.Second,
		RequestsPerSecond: 5,
		Burst:             2,
		UserAgent:         "marginalia-test",
	}, models.RendererReflow, []string{"intro.xhtml"})

	assert.Equal(t, "http://annotations.internal:9000", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.RequestsPerSecond)
	assert.Equal(t, 2, cfg.Burst)
	assert.Equal(t, "marginalia-test", cfg.UserAgent)
	assert.Equal(t, models.RendererReflow, cfg.Renderer)
	assert.Equal(t, []string{"intro.xhtml"}, cfg.FragmentCatalog)
}

func TestClient_CRUD(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(setupAPI(t).URL, models.RendererFlatText)

	created, err := client.Create(ctx, highlight("h1", 120, 150))
	require.NoError(t, err)
	assert.Equal(t, "h1", created.ID)
	assert.Equal(t, models.TextOffsetLocator{StartOffset: 120, EndOffset: 150}, created.Locator)
	assert.False(t, created.CreatedAt.IsZero())

	region := models.Annotation{
		ID:         "p1",
		DocumentID: "meditations",
		Kind:       models.KindBookmark,
		Locator: models.PageRegionLocator{
			PageNumber: 4,
			Rects:      []models.Rect{{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.05}},
		},
		IsPrivate: true,
	}
	_, err = client.Create(ctx, region)
	require.NoError(t, err)

	t.Run("list decodes every locator variant", func(t *testing.T) {
		list, err := client.List(ctx, "meditations")
		require.NoError(t, err)
		require.Len(t, list, 2)

		byID := map[string]models.Annotation{}
		for _, a := range list {
			byID[a.ID] = a
		}
		assert.Equal(t, region.Locator, byID["p1"].Locator)
		assert.Equal(t, models.Tags{"stoicism"}, byID["h1"].Tags)
	})

	t.Run("update", func(t *testing.T) {
		edited := created.Clone()
		edited.Color = "#d1fae5"
		edited.Tags = models.NewTags("revisit", "stoicism")

		saved, err := client.Update(ctx, edited)
		require.NoError(t, err)
		assert.Equal(t, "#d1fae5", saved.Color)
		assert.Equal(t, models.Tags{"revisit", "stoicism"}, saved.Tags)
	})

	t.Run("delete then not found", func(t *testing.T) {
		require.NoError(t, client.Delete(ctx, "p1"))

		err := client.Delete(ctx, "p1")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

		_, err = client.Update(ctx, region)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	})
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(setupAPI(t).URL, models.RendererFlatText)

	_, err := client.Create(ctx, highlight("dup", 1, 2))
	require.NoError(t, err)

	t.Run("conflict", func(t *testing.T) {
		_, err := client.Create(ctx, highlight("dup", 1, 2))
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict))
		assert.False(t, apperrors.IsRetryable(err))
	})

	t.Run("validation", func(t *testing.T) {
		note := highlight("n1", 1, 2)
		note.Kind = models.KindNote
		_, err := client.Create(ctx, note)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	})

	t.Run("server failure is retryable", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error","message":"maintenance"}`))
		}))
		defer failing.Close()

		err := newTestClient(failing.URL, models.RendererFlatText).Delete(ctx, "x")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
		assert.True(t, apperrors.IsRetryable(err))
		assert.Contains(t, err.Error(), "transport failure during delete")
	})

	t.Run("network failure is retryable", func(t *testing.T) {
		gone := httptest.NewServer(http.NotFoundHandler())
		url := gone.URL
		gone.Close()

		_, err := newTestClient(url, models.RendererFlatText).List(ctx, "meditations")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.List(cancelled, "meditations")
		assert.Error(t, err)
	})
}

func TestClient_DrivesStore(t *testing.T) {
	ctx := context.Background()
	baseURL := setupAPI(t).URL

	store := annotations.NewService("meditations", newTestClient(baseURL, models.RendererFlatText))
	defer store.Close()

	created, err := store.Create(ctx, annotations.Draft{
		Kind:         models.KindHighlight,
		Locator:      models.TextOffsetLocator{StartOffset: 120, EndOffset: 150},
		SelectedText: "what stands in the way",
		Color:        "blue",
		Tags:         []string{"stoicism"},
	})
	require.NoError(t, err)
	assert.Empty(t, store.Unsynced())

	// A second store over the same server sees the confirmed record
	reader := annotations.NewService("meditations", newTestClient(baseURL, models.RendererFlatText))
	defer reader.Close()
	require.NoError(t, reader.Load(ctx))

	loaded, err := reader.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Locator, loaded.Locator)
	assert.Equal(t, "#dbeafe", loaded.Color)

	require.NoError(t, store.Delete(ctx, created.ID))
	require.NoError(t, reader.Load(ctx))
	assert.Empty(t, reader.List())
}
