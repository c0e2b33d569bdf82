package engine

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Invocation is one tool run.
type Invocation struct {
	Strategy string
	Argv     []string // arguments after the binary
}

// Runner executes the media tool. Implementations must honor ctx by killing
// the process.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (stdout, stderr []byte, err error)
}

// ExecRunner runs a local binary with an argument vector, never a shell.
type ExecRunner struct {
	Path string
	// WaitDelay bounds how long pipes may stay open after the process is
	// killed.
	WaitDelay time.Duration
}

// NewExecRunner returns a runner for the binary at path.
func NewExecRunner(path string) *ExecRunner {
	return &ExecRunner{Path: path, WaitDelay: 5 * time.Second}
}

// Run executes the tool and collects both output streams.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, r.Path, inv.Argv...)
	cmd.WaitDelay = r.WaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), ctx.Err()
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
