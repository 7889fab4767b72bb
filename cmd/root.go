package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/killallgit/marginalia/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd is the command tree used by Execute
var rootCmd = NewRootCmd()

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds a fresh command tree. Tests build their own so flag
// values never leak between runs.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "marginalia",
		Short: "Marginalia annotation server",
		Long: `Marginalia - annotation persistence and export for document readers

Marginalia stores highlights, notes and bookmarks made in a reader and
serves them back to every renderer of the same document.

Features:
  • Annotation API with filtering, sorting and pagination
  • Bulk tag, color, privacy and delete actions
  • JSON and CSV export`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newExportCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the dotenv file and initializes configuration for
// every command that needs it
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	envFile, _ := cmd.Flags().GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	if err := config.Init(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		viper.Set("logging.level", flag.Value.String())
	}
	return nil
}
