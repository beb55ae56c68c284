package release

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/dbrelease/internal/config"
	"github.com/fyrsmithlabs/dbrelease/internal/logging"
	"github.com/fyrsmithlabs/dbrelease/internal/runner"
	"github.com/fyrsmithlabs/dbrelease/pkg/git"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// fakeFetcher writes a stub script to every destination it is asked for.
type fakeFetcher struct {
	urls []string
	fail map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string) error {
	f.urls = append(f.urls, url)
	if err := f.fail[url]; err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("#!/bin/sh\n"), 0o644)
}

type harness struct {
	cfg     config.Config
	rec     *runner.Recorder
	fetcher *fakeFetcher
	log     *logging.TestLogger
	tempDir string
	head    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	workDir := t.TempDir()
	return &harness{
		cfg: config.Config{
			Repository:       "owner/db_mister",
			DBID:             "owner/db_mister",
			BrokenMRAsIgnore: "true",
			TrackRelease:     true,
			WorkDir:          workDir,
			Log:              config.LogConfig{Level: "info", Format: "console"},
		},
		rec:     runner.NewRecorder(),
		fetcher: &fakeFetcher{fail: map[string]error{}},
		log:     logging.NewTestLogger(),
		tempDir: t.TempDir(),
		head:    git.InitTestRepo(t, workDir),
	}
}

// buildsDatabase makes the operator write db.json like the real one does.
func (h *harness) buildsDatabase() *harness {
	h.rec.Hook("python3 /", func(c runner.Command) error {
		return os.WriteFile(filepath.Join(c.Dir, DBJSONName), []byte(`{"db_id":"owner/db_mister"}`), 0o644)
	})
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.cfg, Deps{
		Runner:  h.rec,
		Fetcher: h.fetcher,
		Logger:  h.log.Logger,
		Now:     func() time.Time { return fixedNow },
		TempDir: h.tempDir,
	})
}

func (h *harness) run(t *testing.T) error {
	t.Helper()
	return h.orchestrator().Run(context.Background())
}

func (h *harness) operatorLine() string {
	return "python3 " + filepath.Join(h.tempDir, operatorFile) + " build ."
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.cfg.WorkDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRun_FullRelease(t *testing.T) {
	h := newHarness(t).buildsDatabase()

	require.NoError(t, h.run(t))

	assert.Equal(t, []string{
		"git config --global user.email theypsilon@gmail.com",
		"git config --global user.name The CI/CD Bot",
		"python3 -m pip install Pillow",
		"git ls-remote --heads origin external_repos_files",
		h.operatorLine(),
		"./downloader.sh",
		"git checkout --orphan db",
		"git reset",
		"git add db.json.zip",
		"git commit -m Creating database",
		"git push --force origin db",
		"git ls-remote --heads origin db-releases",
		"git checkout --orphan db-releases",
		"git reset --hard",
		"git add commits.txt",
		"git commit -m Track release " + h.head,
		"git push origin db-releases",
	}, h.rec.Lines())

	assert.Equal(t, []string{OperatorURL, DownloaderURL}, h.fetcher.urls)
	assert.FileExists(t, filepath.Join(h.cfg.WorkDir, DBZipName))

	log, err := os.ReadFile(filepath.Join(h.cfg.WorkDir, ReleasesLog))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06 07:08:09 UTC: "+h.head+"\n", string(log))

	assert.Equal(t, 1, h.rec.Count("git push --force origin db"))
	assert.Equal(t, 1, h.rec.Count("git push origin db-releases"))
}

func TestRun_DryRunInTemplateRepository(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.cfg.DryRun = true
	h.cfg.Repository = "theypsilon/DB-Template_MiSTer"
	h.write(t, "build_db.py", "legacy")

	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.rec.Count(h.operatorLine()))
	assert.Equal(t, 0, h.rec.Count("git push"))
	assert.Equal(t, 0, h.rec.Count("git config"))
	assert.Equal(t, 0, h.rec.Count("git rm"))
	assert.Equal(t, 0, h.rec.Count("git commit"))
	assert.Equal(t, 0, h.rec.Count("./downloader.sh"))
	assert.Equal(t, []string{OperatorURL}, h.fetcher.urls)
	assert.NoFileExists(t, filepath.Join(h.cfg.WorkDir, DBZipName))
	h.log.AssertLogged(t, zapcore.WarnLevel, "dry run")
}

func TestRun_DryRunSkipsCleanupEverywhere(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.cfg.DryRun = true
	h.write(t, "build_db.py", "legacy")

	require.NoError(t, h.run(t))

	assert.Equal(t, 0, h.rec.Count("git rm"))
	assert.Equal(t, 0, h.rec.Count("git push"))
	assert.Equal(t, 1, h.rec.Count(h.operatorLine()))
}

func TestRun_LegacyCleanup(t *testing.T) {
	tests := []struct {
		name       string
		repository string
		files      []string
		wantRemove []string
		wantCommit int
	}{
		{
			name:       "template repository keeps its scripts",
			repository: "THEYPSILON/db-template_mister",
			files:      []string{"build_db.py", ".github/build_db.py"},
		},
		{
			name:       "no legacy scripts",
			repository: "owner/db_mister",
		},
		{
			name:       "root script only",
			repository: "owner/db_mister",
			files:      []string{"build_db.py"},
			wantRemove: []string{"git rm build_db.py"},
			wantCommit: 1,
		},
		{
			name:       "both scripts",
			repository: "owner/db_mister",
			files:      []string{"build_db.py", ".github/build_db.py"},
			wantRemove: []string{"git rm build_db.py", "git rm .github/build_db.py"},
			wantCommit: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Repository = tt.repository
			for _, f := range tt.files {
				h.write(t, f, "legacy")
			}

			require.NoError(t, h.orchestrator().cleanupLegacy(context.Background()))

			var removed []string
			for _, line := range h.rec.Lines() {
				if strings.HasPrefix(line, "git rm") {
					removed = append(removed, line)
				}
			}
			assert.Equal(t, tt.wantRemove, removed)
			assert.Equal(t, tt.wantCommit, h.rec.Count("git commit -m BOT: Cleaning build_db.py"))
			assert.Equal(t, tt.wantCommit, h.rec.Count("git push"))
		})
	}
}

func TestRun_OperatorEnvironment(t *testing.T) {
	tests := []struct {
		name      string
		auxBranch bool
		wantLists string
	}{
		{name: "primary list only", wantLists: "external_files.csv"},
		{name: "with external repos branch", auxBranch: true, wantLists: "external_files.csv external_repos_files.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t).buildsDatabase()
			h.cfg.DryRun = true
			h.cfg.DBID = "custom_db"
			h.cfg.FinderIgnore = "docs"
			if tt.auxBranch {
				h.rec.Stub("git ls-remote --heads origin external_repos_files", "1a2b3c\trefs/heads/external_repos_files")
			}

			require.NoError(t, h.run(t))

			build, ok := h.rec.Find(h.operatorLine())
			require.True(t, ok)
			assert.Equal(t, h.cfg.WorkDir, build.Dir)
			assert.Equal(t, map[string]string{
				"DB_ID":              "custom_db",
				"DB_URL":             "https://raw.githubusercontent.com/owner/db_mister/db/db.json.zip",
				"DB_JSON_NAME":       "db.json",
				"BASE_FILES_URL":     "https://raw.githubusercontent.com/owner/db_mister/%s/",
				"FINDER_IGNORE":      "docs " + tt.wantLists,
				"BROKEN_MRAS_IGNORE": "true",
				"EXTERNAL_FILES":     tt.wantLists,
			}, build.Env)

			if tt.auxBranch {
				assert.Equal(t, 1, h.rec.Count("git fetch origin external_repos_files"))
				assert.Equal(t, 1, h.rec.Count("git checkout FETCH_HEAD -- external_repos_files.csv"))
			} else {
				assert.Equal(t, 0, h.rec.Count("git fetch"))
			}
		})
	}
}

func TestRun_ExternalBranchCheckFailureMeansAbsent(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.cfg.DryRun = true
	h.rec.Fail("git ls-remote --heads origin external_repos_files", 128)

	require.NoError(t, h.run(t))

	build, ok := h.rec.Find(h.operatorLine())
	require.True(t, ok)
	assert.Equal(t, "external_files.csv", build.Env["EXTERNAL_FILES"])
	h.log.AssertLogged(t, zapcore.WarnLevel, "could not check external files branch")
}

func TestRun_ValidationUsesLocalArtifact(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	var ini, sandbox string
	var mode os.FileMode
	h.rec.Hook("./downloader.sh", func(c runner.Command) error {
		sandbox = c.Dir
		content, err := os.ReadFile(filepath.Join(c.Dir, downloaderINI))
		if err != nil {
			return err
		}
		ini = string(content)
		info, err := os.Stat(filepath.Join(c.Dir, downloaderFile))
		if err != nil {
			return err
		}
		mode = info.Mode().Perm()
		return nil
	})

	require.NoError(t, h.run(t))

	dbPath, err := filepath.Abs(filepath.Join(h.cfg.WorkDir, DBJSONName))
	require.NoError(t, err)
	assert.Contains(t, ini, "[owner/db_mister]\ndb_url = "+dbPath+"\n")
	assert.Contains(t, ini, "base_path = "+sandbox+"/\n")
	assert.Contains(t, ini, "downloader_retries = 0\n")
	assert.NotContains(t, ini, h.cfg.DBURL())
	assert.NotContains(t, ini, "https://")
	assert.Equal(t, os.FileMode(0o755), mode)

	assert.NoDirExists(t, sandbox, "validation dir is removed")

	dl, ok := h.rec.Find("./downloader.sh")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"DEBUG": "true", "LOGLEVEL": "debug", "CURL_SSL": ""}, dl.Env)
}

func TestRun_ValidationFailureAbortsBeforePublish(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.rec.Fail("./downloader.sh", 2)

	err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, 2, runner.ExitCode(err))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "validate", stepErr.Step)

	assert.Equal(t, 0, h.rec.Count("git push"))
	assert.Equal(t, 0, h.rec.Count("git checkout --orphan"))
	assert.NoFileExists(t, filepath.Join(h.cfg.WorkDir, DBZipName))

	leftovers, err := filepath.Glob(filepath.Join(h.tempDir, "dbrelease-validate-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "validation dir is removed on failure")
}

func TestRun_DownloaderFetchFailure(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.fetcher.fail[DownloaderURL] = errors.New("connection reset")

	err := h.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, h.rec.Count("./downloader.sh"))
	assert.Equal(t, 0, h.rec.Count("git push"))
}

func TestRun_MissingArtifactIsNotAnError(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.rec.Count(h.operatorLine()))
	assert.Equal(t, 0, h.rec.Count("./downloader.sh"))
	assert.Equal(t, 0, h.rec.Count("git push"))
	assert.Equal(t, []string{OperatorURL}, h.fetcher.urls)
	h.log.AssertLogged(t, zapcore.WarnLevel, "build produced no database")
}

func TestRun_FatalFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		wantStep string
		wantCode int
	}{
		{
			name:     "identity",
			setup:    func(h *harness) { h.rec.Fail("git config", 5) },
			wantStep: "configure identity",
			wantCode: 5,
		},
		{
			name:     "operator download",
			setup:    func(h *harness) { h.fetcher.fail[OperatorURL] = errors.New("404") },
			wantStep: "fetch operator",
			wantCode: 1,
		},
		{
			name:     "pip install",
			setup:    func(h *harness) { h.rec.Fail("python3 -m pip", 1) },
			wantStep: "prepare workspace",
			wantCode: 1,
		},
		{
			name: "external list fetch",
			setup: func(h *harness) {
				h.rec.Stub("git ls-remote --heads origin external_repos_files", "x\trefs/heads/external_repos_files")
				h.rec.Fail("git fetch", 128)
			},
			wantStep: "build",
			wantCode: 128,
		},
		{
			name:     "operator build",
			setup:    func(h *harness) { h.rec.Fail("python3 /", 3) },
			wantStep: "build",
			wantCode: 3,
		},
		{
			name:     "publish push",
			setup:    func(h *harness) { h.rec.Fail("git push --force", 128) },
			wantStep: "publish",
			wantCode: 128,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			h.buildsDatabase()

			err := h.run(t)
			require.Error(t, err)

			var stepErr *StepError
			require.True(t, errors.As(err, &stepErr))
			assert.Equal(t, tt.wantStep, stepErr.Step)
			assert.Equal(t, tt.wantCode, runner.ExitCode(err))
			assert.Equal(t, 0, h.rec.Count("git push origin db-releases"), "tracking never runs after a fatal failure")
		})
	}
}

func TestRun_RemovesStrayShellScripts(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.cfg.DryRun = true
	h.write(t, "update.sh", "#!/bin/sh")
	h.write(t, "nested/keep.sh", "#!/bin/sh")

	require.NoError(t, h.run(t))

	assert.NoFileExists(t, filepath.Join(h.cfg.WorkDir, "update.sh"))
	assert.FileExists(t, filepath.Join(h.cfg.WorkDir, "nested", "keep.sh"))
}

func TestRun_TrackingFailureIsNotFatal(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.rec.Fail("git push origin db-releases", 1)

	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.rec.Count("git push --force origin db"))
	h.log.AssertLogged(t, zapcore.WarnLevel, "failed to track release")
	assert.True(t, h.log.HasField("failed to track release", "error"))
	h.log.AssertField(t, "failed to track release", "trace", "track release > push db-releases")

	res := h.orchestrator().trackRelease(context.Background())
	var se *StepError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, "push db-releases", se.Step)
	assert.Empty(t, res.Stack)
}

func TestRun_TrackingDisabled(t *testing.T) {
	h := newHarness(t).buildsDatabase()
	h.cfg.TrackRelease = false

	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.rec.Count("git push --force origin db"))
	assert.Equal(t, 0, h.rec.Count("git ls-remote --heads origin db-releases"))
	assert.NoFileExists(t, filepath.Join(h.cfg.WorkDir, ReleasesLog))
}

func TestTrackRelease_ExistingBranch(t *testing.T) {
	h := newHarness(t)
	h.rec.Stub("git ls-remote --heads origin db-releases", "abc\trefs/heads/db-releases")
	h.write(t, ReleasesLog, "2024-01-01 00:00:00 UTC: previous\n")

	res := h.orchestrator().trackRelease(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, h.head, res.Hash)

	assert.Equal(t, []string{
		"git ls-remote --heads origin db-releases",
		"git fetch origin db-releases",
		"git checkout db-releases",
		"git reset --hard",
		"git add commits.txt",
		"git commit -m Track release " + h.head,
		"git push origin db-releases",
	}, h.rec.Lines())

	log, err := os.ReadFile(filepath.Join(h.cfg.WorkDir, ReleasesLog))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01 00:00:00 UTC: previous\n2024-05-06 07:08:09 UTC: "+h.head+"\n", string(log))
}

func TestTrackRelease_RecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.rec.Hook("git reset --hard", func(runner.Command) error {
		panic("index.lock exists")
	})

	res := h.orchestrator().trackRelease(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "index.lock exists")
	assert.Equal(t, h.head, res.Hash)
	assert.Contains(t, res.Stack, "TestTrackRelease_RecoversPanic.func1", "trace names the panicking frame")
	assert.Contains(t, res.Stack, "(*Recorder).Output")
	assert.Equal(t, res.Stack, res.Trace())
}

func TestTrackRelease_NotARepository(t *testing.T) {
	h := newHarness(t)
	h.cfg.WorkDir = t.TempDir()

	res := h.orchestrator().trackRelease(context.Background())
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, git.ErrNotGitRepo)
	assert.Empty(t, h.rec.Commands)
}

func TestRenderDownloaderINI(t *testing.T) {
	f, err := newDownloaderFile(downloaderConfig{
		BaseDir: "/tmp/sandbox",
		DBID:    "owner/db_mister",
		DBPath:  "/work/db.json",
	})
	require.NoError(t, err)
	got, err := renderDownloaderINI(f)
	require.NoError(t, err)
	assert.Equal(t, `[MiSTer]
base_path = /tmp/sandbox/
base_system_path = /tmp/sandbox/
update_linux = false
allow_reboot = 0
verbose = false
downloader_retries = 0

[owner/db_mister]
db_url = /work/db.json
`, strings.TrimRight(got, "\n")+"\n")
}

func TestReleaseLine(t *testing.T) {
	at := time.Date(2025, 12, 31, 23, 59, 58, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-12-31 22:59:58 UTC: deadbeef\n", releaseLine("deadbeef", at))
}
