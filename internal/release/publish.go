package release

import (
	"context"

	"github.com/fyrsmithlabs/dbrelease/internal/archive"
)

// publish replaces the db branch with a single commit holding the zipped
// database.
func (o *Orchestrator) publish(ctx context.Context) error {
	o.logger.Info(ctx, "pushing database")

	if err := archive.ZipFile(o.workPath(DBJSONName), o.workPath(DBZipName)); err != nil {
		return err
	}
	if err := o.git.CheckoutOrphan(ctx, DBBranch); err != nil {
		return err
	}
	if err := o.git.Reset(ctx); err != nil {
		return err
	}
	if err := o.git.Add(ctx, DBZipName); err != nil {
		return err
	}
	if err := o.git.Commit(ctx, publishCommitMessage); err != nil {
		return err
	}
	return o.git.PushForce(ctx, DBBranch)
}
