// Package git drives the git CLI for the release flow.
//
// Mutating operations shell out to git so they pick up the credentials and
// identity the CI job configured. Read-only HEAD resolution uses go-git
// against the same work tree.
package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/fyrsmithlabs/dbrelease/internal/runner"
)

// DefaultRemote is the remote every push and fetch targets.
const DefaultRemote = "origin"

// ErrNotGitRepo indicates the work dir is not inside a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// Client runs git commands in one work tree.
type Client struct {
	run    runner.Runner
	dir    string
	remote string
}

// NewClient creates a client for the work tree at dir.
func NewClient(r runner.Runner, dir string) *Client {
	return &Client{run: r, dir: dir, remote: DefaultRemote}
}

// Dir returns the work tree the client operates on.
func (c *Client) Dir() string {
	return c.dir
}

func (c *Client) git(ctx context.Context, args ...string) error {
	return c.run.Run(ctx, runner.Cmd("git", args...).In(c.dir))
}

// ConfigGlobal sets a global git config value.
func (c *Client) ConfigGlobal(ctx context.Context, key, value string) error {
	return c.git(ctx, "config", "--global", key, value)
}

// Remove stages the removal of path.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.git(ctx, "rm", path)
}

// Add stages paths.
func (c *Client) Add(ctx context.Context, paths ...string) error {
	return c.git(ctx, append([]string{"add"}, paths...)...)
}

// Commit records the index with message.
func (c *Client) Commit(ctx context.Context, message string) error {
	return c.git(ctx, "commit", "-m", message)
}

// Push pushes the current branch to its upstream.
func (c *Client) Push(ctx context.Context) error {
	return c.git(ctx, "push")
}

// PushBranch pushes branch to the remote.
func (c *Client) PushBranch(ctx context.Context, branch string) error {
	return c.git(ctx, "push", c.remote, branch)
}

// PushForce force-pushes branch, replacing the remote history.
func (c *Client) PushForce(ctx context.Context, branch string) error {
	return c.git(ctx, "push", "--force", c.remote, branch)
}

// Fetch fetches branch from the remote into FETCH_HEAD.
func (c *Client) Fetch(ctx context.Context, branch string) error {
	return c.git(ctx, "fetch", c.remote, branch)
}

// CheckoutFileFrom writes path from ref into the work tree.
func (c *Client) CheckoutFileFrom(ctx context.Context, ref, path string) error {
	return c.git(ctx, "checkout", ref, "--", path)
}

// Checkout switches to branch.
func (c *Client) Checkout(ctx context.Context, branch string) error {
	return c.git(ctx, "checkout", branch)
}

// CheckoutOrphan starts branch with no parent commit.
func (c *Client) CheckoutOrphan(ctx context.Context, branch string) error {
	return c.git(ctx, "checkout", "--orphan", branch)
}

// Reset unstages everything, keeping the work tree.
func (c *Client) Reset(ctx context.Context) error {
	return c.git(ctx, "reset")
}

// ResetHard discards index and work tree changes to tracked files.
func (c *Client) ResetHard(ctx context.Context) error {
	return c.git(ctx, "reset", "--hard")
}

// RemoteBranchExists reports whether branch exists on the remote.
func (c *Client) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	out, err := c.run.Output(ctx, runner.Cmd("git", "ls-remote", "--heads", c.remote, branch).In(c.dir))
	if err != nil {
		return false, fmt.Errorf("probing remote branch %s: %w", branch, err)
	}
	return strings.Contains(out, "refs/heads/"+branch), nil
}

// HeadHash returns the commit hash HEAD points at.
func (c *Client) HeadHash() (string, error) {
	repo, err := gogit.PlainOpenWithOptions(c.dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, c.dir)
		}
		return "", fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}
