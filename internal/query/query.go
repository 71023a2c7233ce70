// Package query runs external commands under a deadline and reports their
// exit code and output. Log scanners depend on the Runner interface only.
package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a query when the command does not set one.
const DefaultTimeout = 5 * time.Second

// maxOutput caps captured stdout; count queries print a few bytes.
const maxOutput = 64 << 10

// Command describes one bounded external query.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is what a query produced. ExitCode is -1 when the process never
// exited on its own (timeout or kill).
type Result struct {
	ExitCode int
	Stdout   string
	TimedOut bool
}

// Runner executes bounded queries.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
}

// NewExecRunner returns a runner that forces the C locale so numeric output
// parses the same everywhere.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Env: []string{"LC_ALL=C"}}
}

// Run starts cmd and waits for it or its deadline. A non-zero exit is not an
// error; the code is reported in Result. Hitting the command's own timeout sets
// TimedOut and returns a nil error. Failing to start, or cancellation of the
// parent context, returns an error.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	res := Result{ExitCode: -1}

	if cmd.Name == "" {
		return res, errors.New("empty command")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(qctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), r.Env...)
	c.WaitDelay = time.Second

	stdout := &limitedBuffer{max: maxOutput}
	c.Stdout = stdout

	err := c.Run()
	res.Stdout = stdout.String()

	if ctx.Err() != nil {
		return res, fmt.Errorf("query %q cancelled: %w", cmd.Name, ctx.Err())
	}
	if errors.Is(qctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to run %q: %w", cmd.Name, err)
	}

	res.ExitCode = 0
	return res, nil
}

// limitedBuffer drops writes beyond max bytes while reporting them consumed,
// so a chatty child never blocks on a full pipe.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
