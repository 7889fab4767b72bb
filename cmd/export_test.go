package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/killallgit/marginalia/internal/database"
	"github.com/killallgit/marginalia/internal/services/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase migrates path and stores two annotations of "meditations"
func seedDatabase(t *testing.T, path string) {
	t.Helper()
	db, err := database.Initialize(path, false)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	service := persistence.NewService(persistence.NewRepository(db.DB))
	ctx := context.Background()
	_, err = service.CreateAnnotation(ctx, "meditations", persistence.CreateRequest{
		ID:            "h1",
		Type:          "highlight",
		StartPosition: 120,
		EndPosition:   150,
		SelectedText:  "what stands in the way becomes",
		Color:         "yellow",
		Tags:          []string{"stoicism"},
	})
	require.NoError(t, err)
	_, err = service.CreateAnnotation(ctx, "meditations", persistence.CreateRequest{
		ID:            "b1",
		Type:          "bookmark",
		StartPosition: 10,
		EndPosition:   10,
	})
	require.NoError(t, err)
}

func TestExportCommand(t *testing.T) {
	path := useTempDatabase(t)
	seedDatabase(t, path)

	t.Run("json to stdout", func(t *testing.T) {
		output, err := execute(t, "export", "--document", "meditations", "--format", "json", "--sort", "position")
		require.NoError(t, err)

		var doc struct {
			DocumentID  string `json:"document_id"`
			Annotations []struct {
				ID string `json:"id"`
			} `json:"annotations"`
		}
		require.NoError(t, json.Unmarshal([]byte(output), &doc))
		assert.Equal(t, "meditations", doc.DocumentID)
		require.Len(t, doc.Annotations, 2)
		assert.Equal(t, "b1", doc.Annotations[0].ID)
		assert.Equal(t, "h1", doc.Annotations[1].ID)
	})

	t.Run("filtered csv to file", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "notes.csv")
		_, err := execute(t, "export", "-d", "meditations", "-f", "csv", "--tag", "stoicism", "-o", out)
		require.NoError(t, err)

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		rows, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "id", rows[0][0])
		assert.Equal(t, "h1", rows[1][0])
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{"missing document", []string{"export"}},
			{"unknown format", []string{"export", "-d", "meditations", "-f", "xml"}},
			{"unknown sort", []string{"export", "-d", "meditations", "--sort", "color"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := execute(t, tt.args...)
				assert.Error(t, err)
			})
		}
	})
}
