package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/config"
	logpkg "github.com/kailas-cloud/protoquery/internal/logger"
)

var (
	cfgFile string
	env     string
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "protoquery",
	Short: "Semantic retrieval over emergency care protocols",
	Long: `protoquery embeds a clinical question, searches the protocol knowledge base
and returns the most relevant snippets.

Example usage:
  protoquery serve                                # Start the HTTP (and NATS) server
  protoquery query -q "chest pain" -s acls -k 3   # Run one query and print JSON
  protoquery version`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		// .env is optional; real environment variables win.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		env = config.GetEnv()

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
		} else {
			cfg, err = config.Load(env)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err = logpkg.NewLogger(env, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		otel.SetLogger(logpkg.Logr(logger.Named("otel")))
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is config/<ENV>.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
