package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/settle/pkg/client"
)

var (
	apiURL    string
	storePath string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Buy a file from a settle server",
	Long:  "An interactive checkout client. It keeps the intent reference of an unfinished purchase on disk and retries failed gateway calls on its own.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// a missing .env is fine
		_ = godotenv.Load()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("SETTLE_API_URL", "http://localhost:8888"), "settle API base URL")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", defaultStorePath(), "file holding unfinished checkout sessions")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client decisions to stderr")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".settle-intents.json"
	}
	return filepath.Join(dir, "settle", "intents.json")
}

func newLogger() *zap.SugaredLogger {
	if !verbose {
		return zap.NewNop().Sugar()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func newClient() *client.Client {
	return client.New(apiURL)
}
