package release

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

func (o *Orchestrator) configureIdentity(ctx context.Context) error {
	if err := o.git.ConfigGlobal(ctx, "user.email", botEmail); err != nil {
		return err
	}
	return o.git.ConfigGlobal(ctx, "user.name", botName)
}

// cleanupLegacy removes old copies of the build script from the default
// branch. It never runs in the template repository, which still ships them.
func (o *Orchestrator) cleanupLegacy(ctx context.Context) error {
	if o.cfg.IsTemplateRepository() {
		o.logger.Info(ctx, "skipping legacy cleanup in template repository",
			zap.String("repository", o.cfg.Repository))
		return nil
	}

	removed := 0
	for _, path := range legacyScripts {
		_, err := os.Stat(o.workPath(path))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("checking %s: %w", path, err)
		}
		if err := o.git.Remove(ctx, path); err != nil {
			return err
		}
		removed++
	}

	if removed == 0 {
		return nil
	}

	o.logger.Info(ctx, "removed legacy build scripts", zap.Int("count", removed))
	if err := o.git.Commit(ctx, cleanupCommitMessage); err != nil {
		return err
	}
	return o.git.Push(ctx)
}
