package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// InitTestRepo creates a repository in dir with one commit holding a README
// and returns that commit's hash.
func InitTestRepo(tb testing.TB, dir string) string {
	tb.Helper()

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		tb.Fatalf("init repository: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# db\n"), 0o644); err != nil {
		tb.Fatalf("write README: %v", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		tb.Fatalf("open worktree: %v", err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		tb.Fatalf("stage README: %v", err)
	}
	hash, err := wt.Commit("Initial commit", &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	})
	if err != nil {
		tb.Fatalf("commit: %v", err)
	}
	return hash.String()
}
