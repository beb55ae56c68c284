package release

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/fyrsmithlabs/dbrelease/internal/runner"
)

func init() {
	// Unaligned "key = value" lines, as the downloader's own examples use.
	ini.PrettyFormat = false
	ini.PrettyEqual = true
}

type downloaderConfig struct {
	BaseDir string
	DBID    string
	DBPath  string
}

// newDownloaderFile builds the config for a downloader that installs into a
// sandbox and reads the database straight from the local build output.
func newDownloaderFile(cfg downloaderConfig) (*ini.File, error) {
	f := ini.Empty()

	mister, err := f.NewSection("MiSTer")
	if err != nil {
		return nil, err
	}
	for _, kv := range [][2]string{
		{"base_path", cfg.BaseDir + "/"},
		{"base_system_path", cfg.BaseDir + "/"},
		{"update_linux", "false"},
		{"allow_reboot", "0"},
		{"verbose", "false"},
		{"downloader_retries", "0"},
	} {
		if _, err := mister.NewKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}

	db, err := f.NewSection(cfg.DBID)
	if err != nil {
		return nil, fmt.Errorf("database section %q: %w", cfg.DBID, err)
	}
	if _, err := db.NewKey("db_url", cfg.DBPath); err != nil {
		return nil, err
	}
	return f, nil
}

func renderDownloaderINI(f *ini.File) (string, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("rendering %s: %w", downloaderINI, err)
	}
	return buf.String(), nil
}

// validate runs the real downloader against the freshly built database in a
// throwaway directory. Any downloader failure fails the run.
func (o *Orchestrator) validate(ctx context.Context) error {
	o.logger.Info(ctx, "testing database")

	dbPath, err := filepath.Abs(o.workPath(DBJSONName))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", DBJSONName, err)
	}

	dir, err := os.MkdirTemp(o.tempDir, "dbrelease-validate-")
	if err != nil {
		return fmt.Errorf("creating validation dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			o.logger.Warn(ctx, "could not remove validation dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	script := filepath.Join(dir, downloaderFile)
	if err := o.fetcher.Fetch(ctx, DownloaderURL, script); err != nil {
		return err
	}
	if err := os.Chmod(script, 0o755); err != nil {
		return fmt.Errorf("making %s executable: %w", downloaderFile, err)
	}

	iniFile, err := newDownloaderFile(downloaderConfig{BaseDir: dir, DBID: o.cfg.DBID, DBPath: dbPath})
	if err != nil {
		return fmt.Errorf("building %s: %w", downloaderINI, err)
	}
	content, err := renderDownloaderINI(iniFile)
	if err != nil {
		return err
	}
	o.logger.Info(ctx, "downloader config", zap.String("content", content))
	if err := iniFile.SaveTo(filepath.Join(dir, downloaderINI)); err != nil {
		return fmt.Errorf("writing %s: %w", downloaderINI, err)
	}

	cmd := runner.Cmd("./"+downloaderFile).
		In(dir).
		WithEnv(map[string]string{
			"DEBUG":    "true",
			"LOGLEVEL": "debug",
			"CURL_SSL": "",
		})
	if err := o.run.Run(ctx, cmd); err != nil {
		return err
	}

	o.logger.Info(ctx, "database test passed")
	return nil
}
