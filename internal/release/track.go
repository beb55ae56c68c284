package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// TrackResult is the outcome of release tracking. Err is set when any part
// of it failed and is a *StepError naming the failed operation; Hash is the
// commit being tracked once resolved. Stack holds the goroutine stack when
// tracking panicked.
type TrackResult struct {
	Hash  string
	Err   error
	Stack string
}

// Trace describes where tracking failed.
func (r TrackResult) Trace() string {
	if r.Stack != "" {
		return r.Stack
	}
	var se *StepError
	if errors.As(r.Err, &se) {
		return "track release > " + se.Step
	}
	return ""
}

// trackRelease appends the published commit to the release log on
// ReleasesBranch. It reports failures instead of returning them so the
// caller can ignore them; panics are converted too.
func (o *Orchestrator) trackRelease(ctx context.Context) (res TrackResult) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic while tracking release: %v", r)
			res.Stack = string(debug.Stack())
		}
	}()

	o.logger.Info(ctx, "tracking release")

	hash, err := o.git.HeadHash()
	if err != nil {
		res.Err = &StepError{Step: "resolve HEAD", Err: err}
		return res
	}
	res.Hash = hash

	exists, err := o.git.RemoteBranchExists(ctx, ReleasesBranch)
	if err != nil {
		o.logger.Warn(ctx, "could not check releases branch, creating it", zap.Error(err))
		exists = false
	}

	checkout := step{name: "create " + ReleasesBranch, run: func(ctx context.Context) error {
		return o.git.CheckoutOrphan(ctx, ReleasesBranch)
	}}
	if exists {
		checkout = step{name: "checkout " + ReleasesBranch, run: func(ctx context.Context) error {
			if err := o.git.Fetch(ctx, ReleasesBranch); err != nil {
				return err
			}
			return o.git.Checkout(ctx, ReleasesBranch)
		}}
	}

	if err := o.runSteps(ctx,
		checkout,
		step{name: "reset", run: o.git.ResetHard},
		step{name: "append " + ReleasesLog, run: func(context.Context) error {
			return o.appendRelease(hash)
		}},
		step{name: "commit", run: func(ctx context.Context) error {
			if err := o.git.Add(ctx, ReleasesLog); err != nil {
				return err
			}
			return o.git.Commit(ctx, "Track release "+hash)
		}},
		step{name: "push " + ReleasesBranch, run: func(ctx context.Context) error {
			return o.git.PushBranch(ctx, ReleasesBranch)
		}},
	); err != nil {
		res.Err = err
		return res
	}

	o.logger.Info(ctx, "release tracked", zap.String("commit", hash))
	return res
}

// releaseLine formats one release log entry.
func releaseLine(hash string, at time.Time) string {
	return at.UTC().Format(releaseTimeLayout) + " UTC: " + hash + "\n"
}

func (o *Orchestrator) appendRelease(hash string) error {
	f, err := os.OpenFile(o.workPath(ReleasesLog), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", ReleasesLog, err)
	}
	if _, err := f.WriteString(releaseLine(hash, o.now())); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", ReleasesLog, err)
	}
	return f.Close()
}
