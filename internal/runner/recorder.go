package runner

import (
	"context"
	"strings"
)

// Recorder is a scriptable Runner for tests. It records every command and
// answers from rules matched against the rendered command line by prefix.
// The first matching rule wins; unmatched commands succeed with no output.
type Recorder struct {
	Commands []Command
	rules    []rule
}

type rule struct {
	prefix string
	output string
	code   int
	hook   func(Command) error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Stub makes commands starting with prefix print output.
func (r *Recorder) Stub(prefix, output string) *Recorder {
	r.rules = append(r.rules, rule{prefix: prefix, output: output})
	return r
}

// Fail makes commands starting with prefix exit with code.
func (r *Recorder) Fail(prefix string, code int) *Recorder {
	r.rules = append(r.rules, rule{prefix: prefix, code: code})
	return r
}

// Hook runs fn for commands starting with prefix, letting tests emulate a
// process' side effects on disk. A non-nil error is returned as-is.
func (r *Recorder) Hook(prefix string, fn func(Command) error) *Recorder {
	r.rules = append(r.rules, rule{prefix: prefix, hook: fn})
	return r
}

// Run implements Runner.
func (r *Recorder) Run(ctx context.Context, c Command) error {
	_, err := r.Output(ctx, c)
	return err
}

// Output implements Runner.
func (r *Recorder) Output(ctx context.Context, c Command) (string, error) {
	r.Commands = append(r.Commands, c)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line := c.String()
	for _, rl := range r.rules {
		if !strings.HasPrefix(line, rl.prefix) {
			continue
		}
		if rl.hook != nil {
			if err := rl.hook(c); err != nil {
				return "", err
			}
		}
		if rl.code != 0 {
			return "", &ExitError{Command: line, Code: rl.code}
		}
		return rl.output, nil
	}
	return "", nil
}

// Lines returns the recorded command lines in order.
func (r *Recorder) Lines() []string {
	lines := make([]string, 0, len(r.Commands))
	for _, c := range r.Commands {
		lines = append(lines, c.String())
	}
	return lines
}

// Count returns how many recorded commands start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, c := range r.Commands {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}

// Find returns the first recorded command starting with prefix.
func (r *Recorder) Find(prefix string) (Command, bool) {
	for _, c := range r.Commands {
		if strings.HasPrefix(c.String(), prefix) {
			return c, true
		}
	}
	return Command{}, false
}
