// Package release builds, validates and publishes the downloader database.
//
// The flow is a fixed sequence of external invocations:
//
//	hygiene -> fetch operator -> prepare workspace -> build
//	        -> validate -> publish -> track release
//
// Every step up to publish aborts the run on failure. Release tracking is
// best effort: its failure is reported in a TrackResult and logged, never
// returned. Hygiene, validation, publish and tracking are skipped in dry runs.
package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dbrelease/internal/config"
	"github.com/fyrsmithlabs/dbrelease/internal/fetch"
	"github.com/fyrsmithlabs/dbrelease/internal/logging"
	"github.com/fyrsmithlabs/dbrelease/internal/runner"
	"github.com/fyrsmithlabs/dbrelease/pkg/git"
)

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Runner  runner.Runner
	Fetcher fetch.Fetcher
	Logger  *logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// TempDir holds the downloaded operator and the validation sandbox.
	// Defaults to os.TempDir().
	TempDir string
}

// Orchestrator runs one release.
type Orchestrator struct {
	cfg     config.Config
	run     runner.Runner
	git     *git.Client
	fetcher fetch.Fetcher
	logger  *logging.Logger
	now     func() time.Time
	tempDir string
}

// New creates an orchestrator for cfg.
func New(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TempDir == "" {
		deps.TempDir = os.TempDir()
	}
	return &Orchestrator{
		cfg:     cfg,
		run:     deps.Runner,
		git:     git.NewClient(deps.Runner, cfg.WorkDir),
		fetcher: deps.Fetcher,
		logger:  deps.Logger,
		now:     deps.Now,
		tempDir: deps.TempDir,
	}
}

// StepError reports the step that aborted the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Step, e.Err.Error())
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type step struct {
	name string
	run  func(context.Context) error
}

// runSteps runs steps in order and stops at the first failure.
func (o *Orchestrator) runSteps(ctx context.Context, steps ...step) error {
	for _, s := range steps {
		sctx := logging.WithStep(ctx, s.name)
		o.logger.Debug(sctx, "step started")
		if err := s.run(sctx); err != nil {
			return &StepError{Step: s.name, Err: err}
		}
	}
	return nil
}

// Run performs the release. A nil error means success; release tracking
// failures never surface here.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info(ctx, "building database",
		zap.String("repository", o.cfg.Repository),
		zap.String("db_id", o.cfg.DBID),
		zap.Bool("dry_run", o.cfg.DryRun),
	)
	if o.cfg.DryRun {
		o.logger.Warn(ctx, "dry run: hygiene, validation, publish and release tracking are skipped")
	}

	var steps []step
	if !o.cfg.DryRun {
		steps = append(steps,
			step{name: "configure identity", run: o.configureIdentity},
			step{name: "legacy cleanup", run: o.cleanupLegacy},
		)
	}
	steps = append(steps,
		step{name: "fetch operator", run: o.fetchOperator},
		step{name: "prepare workspace", run: o.prepareWorkspace},
		step{name: "build", run: o.build},
	)
	if err := o.runSteps(ctx, steps...); err != nil {
		return err
	}

	if o.cfg.DryRun {
		o.logger.Info(ctx, "dry run finished")
		return nil
	}

	exists, err := o.artifactExists()
	if err != nil {
		return err
	}
	if !exists {
		// TODO: decide with database maintainers whether a build that exits
		// zero without writing db.json should fail the run.
		o.logger.Warn(ctx, "build produced no database, skipping validation and publish",
			zap.String("path", o.workPath(DBJSONName)))
		return nil
	}

	if err := o.runSteps(ctx,
		step{name: "validate", run: o.validate},
		step{name: "publish", run: o.publish},
	); err != nil {
		return err
	}

	if !o.cfg.TrackRelease {
		o.logger.Info(ctx, "release tracking disabled")
		return nil
	}

	// Best effort: a tracking failure leaves the published database in place
	// and does not change the outcome of the run.
	if res := o.trackRelease(logging.WithStep(ctx, "track release")); res.Err != nil {
		o.logger.Warn(ctx, "failed to track release",
			zap.Error(res.Err),
			zap.String("trace", res.Trace()),
		)
	}
	return nil
}

func (o *Orchestrator) workPath(name string) string {
	return filepath.Join(o.cfg.WorkDir, name)
}

func (o *Orchestrator) artifactExists() (bool, error) {
	_, err := os.Stat(o.workPath(DBJSONName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", DBJSONName, err)
}
