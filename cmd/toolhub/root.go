package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/toolhub/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "toolhub",
	Short: "Multi-tenant JSON-RPC tool server",
	Long: `toolhub hosts independent tool-sets (sequential reasoning, scripted
browser automation and natural-language browser automation) behind a
JSON-RPC endpoint reachable over Server-Sent Events and WebSocket.

Configuration is read from the environment; a .env file is loaded first
when present.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

// loadConfig loads the dotenv file, then the configuration.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger returns the JSON logger used by the server.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
