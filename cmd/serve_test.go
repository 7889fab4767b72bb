package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		output, err := execute(t, "serve", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "Start the Marginalia annotation API server")
	})

	t.Run("invalid port", func(t *testing.T) {
		_, err := execute(t, "serve", "--port", "invalid")
		assert.Error(t, err)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		useTempDatabase(t)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		cmd := NewRootCmd()
		cmd.SetArgs([]string{"serve", "--host", "127.0.0.1", "--port", "18473"})
		require.NoError(t, cmd.ExecuteContext(ctx))
	})
}
