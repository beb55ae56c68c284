// Package main implements dbrelease, the CI entrypoint that builds, validates
// and publishes a downloader database.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dbrelease/internal/config"
	"github.com/fyrsmithlabs/dbrelease/internal/fetch"
	"github.com/fyrsmithlabs/dbrelease/internal/logging"
	"github.com/fyrsmithlabs/dbrelease/internal/release"
	"github.com/fyrsmithlabs/dbrelease/internal/runner"
)

var (
	// dryRun builds without validating, publishing or tracking
	dryRun bool
	// version information
	version = "dev"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(runner.ExitCode(err))
}

var rootCmd = &cobra.Command{
	Use:   "dbrelease",
	Short: "Build, validate and publish the downloader database",
	Long: `dbrelease runs the database release for the repository named by
GITHUB_REPOSITORY.

It downloads the database operator, builds db.json from the work tree,
validates it with a real downloader run, force-pushes db.json.zip to the
db branch and records the published commit on the db-releases branch.

Environment:
  GITHUB_REPOSITORY    owner/name slug (default theypsilon/test)
  DB_ID                database id (default GITHUB_REPOSITORY)
  FINDER_IGNORE        extra ignore entries for the operator
  BROKEN_MRAS_IGNORE   passed to the operator (default true)
  TRACK_RELEASE        set to "false" to skip release tracking
  LOG_LEVEL, LOG_FORMAT  logging (default info, console)
  DBRELEASE_CONFIG     optional YAML file with the same keys

Examples:
  # Full release
  dbrelease

  # Build only
  dbrelease -d`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	Version:      version,
	RunE:         runRelease,
}

func init() {
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Build the database but skip cleanup, validation, publish and tracking")
}

// newLogger builds the process logger from resolved config.
func newLogger(cfg config.LogConfig, out io.Writer) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Format
	logCfg.Output = out
	return logging.NewLogger(logCfg)
}

func runRelease(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg, err := config.Load(config.Options{
		WorkDir: workDir,
		DryRun:  dryRun,
		File:    os.Getenv(config.FileEnv),
	})
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := logging.WithRunID(cmd.Context(), uuid.NewString())

	orchestrator := release.New(cfg, release.Deps{
		Runner:  runner.NewExecRunner(workDir, cmd.OutOrStdout(), logger.Named("exec")),
		Fetcher: fetch.NewHTTPFetcher(&http.Client{}, cmd.ErrOrStderr(), logger.Named("fetch")),
		Logger:  logger,
	})

	if err := orchestrator.Run(ctx); err != nil {
		logger.Error(ctx, "release failed", zap.Error(err))
		return err
	}
	logger.Info(ctx, "release finished")
	return nil
}
