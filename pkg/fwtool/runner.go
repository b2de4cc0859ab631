package fwtool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// CommandResult is the outcome of one tool invocation that ran to completion.
type CommandResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs an external command.
//
// A non-nil error means the process did not run to completion: it could not
// be started, or ctx expired. A process that exits non-zero is reported
// through CommandResult.Success instead.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*CommandResult, error)
}

// waitDelay bounds how long we wait for output pipes after the process is
// killed. A grandchild holding stdout open would otherwise block Run.
const waitDelay = time.Second

// ExecRunner runs commands as OS processes.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Check for timeout first, regardless of exit code.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, pkgerrors.Wrapf(ErrToolTimeout, "%s did not finish in time", name)
		}
		return nil, pkgerrors.Wrapf(ctxErr, "%s canceled", name)
	}

	res := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, pkgerrors.Wrapf(ErrToolInvocation, "failed to start %s: %v", name, err)
	}

	res.Success = true
	return res, nil
}
