// Command sessionctl inspects and manages stored sessions, and can serve a
// demo application backed by the configured session store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/swfrench/aerospike-session/internal/config"
	"golang.org/x/exp/slog"
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Inspect and manage stored sessions",
	Long: `sessionctl talks to the configured session store (Aerospike by default).

Settings are read from an optional YAML file and then from AEROSPIKE_SESSION_*
environment variables, which may be supplied through a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("env-file", "", "File of KEY=value environment overrides")
	rootCmd.PersistentFlags().String("log-level", "info", "Minimum log level (debug, info, warn, error)")
}

func setupLogging(cmd *cobra.Command) error {
	name, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", name, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig reads the settings selected by the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		// Variables already set in the environment take precedence.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path, os.Environ())
}
