// Package runner executes external processes for the release flow.
//
// Every git, pip, operator and downloader invocation goes through a Runner so
// the orchestration can be exercised without spawning real processes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/dbrelease/internal/logging"
	"go.uber.org/zap"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the runner's default.
	Dir string
	// Env is merged over the inherited process environment.
	Env map[string]string
}

// Cmd builds a Command from a program name and arguments.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// In returns a copy of c that runs in dir.
func (c Command) In(dir string) Command {
	c.Dir = dir
	return c
}

// WithEnv returns a copy of c with env merged over the process environment.
func (c Command) WithEnv(env map[string]string) Command {
	c.Env = env
	return c
}

// String renders the command line the way it is logged.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands. Both methods block until the process exits.
type Runner interface {
	// Run executes the command, streaming its combined output.
	Run(ctx context.Context, cmd Command) error
	// Output executes the command and returns its trimmed stdout.
	Output(ctx context.Context, cmd Command) (string, error)
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit code of the first failing process from err.
// It returns 0 for nil and 1 for errors that did not come from a process.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	dir    string
	out    io.Writer
	logger *logging.Logger
}

// NewExecRunner creates a runner whose commands default to dir and stream
// their output to out.
func NewExecRunner(dir string, out io.Writer, logger *logging.Logger) *ExecRunner {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ExecRunner{dir: dir, out: out, logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := r.prepare(ctx, c)
	cmd.Stdout = r.out
	cmd.Stderr = r.out
	return r.wrap(c, cmd.Run(), "")
}

// Output implements Runner.
func (r *ExecRunner) Output(ctx context.Context, c Command) (string, error) {
	cmd := r.prepare(ctx, c)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	r.logger.Trace(ctx, "command output", zap.String("cmd", c.String()), zap.String("stdout", out))
	if err != nil {
		r.logger.Debug(ctx, "command stderr", zap.String("stderr", stderr.String()))
	}
	return out, r.wrap(c, err, stderr.String())
}

func (r *ExecRunner) prepare(ctx context.Context, c Command) *exec.Cmd {
	fields := []zap.Field{zap.String("cmd", c.String())}
	if len(c.Env) > 0 {
		fields = append(fields, zap.Strings("env", envPairs(c.Env)))
	}
	if c.Dir != "" {
		fields = append(fields, zap.String("cwd", c.Dir))
	}
	r.logger.Info(ctx, "run", fields...)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" {
		cmd.Dir = r.dir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envPairs(c.Env)...)
	}
	return cmd
}

func (r *ExecRunner) wrap(c Command, err error, output string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: c.String(), Code: exitErr.ExitCode(), Output: output, Err: err}
	}
	return fmt.Errorf("%s: %w", c.String(), err)
}

// envPairs renders env as sorted KEY=VALUE pairs.
func envPairs(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}
