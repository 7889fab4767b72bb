package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/killallgit/marginalia/api"
	"github.com/killallgit/marginalia/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation API server",
		Long: `Start the Marginalia annotation API server with the configured settings.

The schema is migrated on startup. The server stops gracefully on
SIGINT or SIGTERM.

Example:
  marginalia serve
  marginalia serve --port 9090
  marginalia serve --host 127.0.0.1 --port 8080`,
		RunE: runServer,
	}

	cmd.Flags().String("host", "", "server host (overrides config)")
	cmd.Flags().Int("port", 0, "server port (overrides config)")
	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		viper.Set("server.host", host)
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		viper.Set("server.port", port)
	}

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	server := api.NewServer(*cfg)
	server.SetDatabase(db)
	if err := server.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server error: %w", err)
		}
		close(serverErr)
	}()

	log.Printf("[INFO] Marginalia listening on %s", server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("[INFO] Shutting down server...")
	case runErr = <-serverErr:
		log.Printf("[ERROR] %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Server forced to shutdown: %v", err)
		return err
	}
	// Drain so the listener goroutine has exited before returning
	for range serverErr {
	}

	log.Printf("[INFO] Server gracefully stopped")
	return runErr
}
