package release

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dbrelease/internal/runner"
)

func (o *Orchestrator) operatorPath() string {
	return filepath.Join(o.tempDir, operatorFile)
}

func (o *Orchestrator) fetchOperator(ctx context.Context) error {
	return o.fetcher.Fetch(ctx, OperatorURL, o.operatorPath())
}

// prepareWorkspace drops stray shell scripts from the work tree and installs
// the operator's Python dependency. Only the install can fail the run.
func (o *Orchestrator) prepareWorkspace(ctx context.Context) error {
	scripts, _ := filepath.Glob(o.workPath("*.sh"))
	for _, s := range scripts {
		if err := os.Remove(s); err != nil {
			o.logger.Warn(ctx, "could not remove shell script", zap.String("path", s), zap.Error(err))
		}
	}

	return o.run.Run(ctx, runner.Cmd("python3", "-m", "pip", "install", "Pillow").In(o.cfg.WorkDir))
}

// fileLists returns the space-joined CSV names handed to the operator. The
// list from ExternalFilesBranch is checked out and included when that branch
// exists on the remote.
func (o *Orchestrator) fileLists(ctx context.Context) (string, error) {
	lists := []string{PrimaryFileList}

	exists, err := o.git.RemoteBranchExists(ctx, ExternalFilesBranch)
	if err != nil {
		o.logger.Warn(ctx, "could not check external files branch, assuming absent", zap.Error(err))
		exists = false
	}
	if !exists {
		return strings.Join(lists, " "), nil
	}

	if err := o.git.Fetch(ctx, ExternalFilesBranch); err != nil {
		return "", err
	}
	if err := o.git.CheckoutFileFrom(ctx, "FETCH_HEAD", ExternalFileList); err != nil {
		return "", err
	}
	o.logger.Info(ctx, "added external file list",
		zap.String("file", ExternalFileList),
		zap.String("branch", ExternalFilesBranch))

	lists = append(lists, ExternalFileList)
	return strings.Join(lists, " "), nil
}

// operatorEnv is the environment the operator's build command reads.
func (o *Orchestrator) operatorEnv(lists string) map[string]string {
	return map[string]string{
		"DB_ID":              o.cfg.DBID,
		"DB_URL":             o.cfg.DBURL(),
		"DB_JSON_NAME":       DBJSONName,
		"BASE_FILES_URL":     o.cfg.BaseFilesURL(),
		"FINDER_IGNORE":      o.cfg.FinderIgnore + " " + lists,
		"BROKEN_MRAS_IGNORE": o.cfg.BrokenMRAsIgnore,
		"EXTERNAL_FILES":     lists,
	}
}

func (o *Orchestrator) build(ctx context.Context) error {
	lists, err := o.fileLists(ctx)
	if err != nil {
		return err
	}

	cmd := runner.Cmd("python3", o.operatorPath(), "build", ".").
		In(o.cfg.WorkDir).
		WithEnv(o.operatorEnv(lists))
	return o.run.Run(ctx, cmd)
}
