package backup

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
)

// CommandSpec describes one external process invocation: arguments in,
// optional stdin/stdout file redirection, extra environment variables.
type CommandSpec struct {
	Name       string
	Args       []string
	Env        []string // appended to the parent environment
	Dir        string
	StdinFile  string // when set, the process reads stdin from this file
	StdoutFile string // when set, process stdout is redirected to this file
}

// CommandResult captures the outcome of an external process.
type CommandResult struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// CommandRunner abstracts external-process invocation so dump, restore and
// archive steps are mockable in tests without invoking real binaries.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a CommandRunner backed by os/exec.
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ExecRunner{logger: logger}
}

// Run executes the command, blocking until it exits. A non-zero exit code is
// returned in the result, not as an error; errors are reserved for failures
// to start the process or to open the redirection files.
func (r *ExecRunner) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if spec.StdinFile != "" {
		in, err := os.Open(spec.StdinFile)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to open command input file", err).
				WithContext("path", spec.StdinFile)
		}
		defer in.Close()
		cmd.Stdin = in
	}

	if spec.StdoutFile != "" {
		out, err := os.Create(spec.StdoutFile)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to create command output file", err).
				WithContext("path", spec.StdoutFile)
		}
		defer out.Close()
		cmd.Stdout = out
	}

	err := cmd.Run()
	result := &CommandResult{
		ExitCode: 0,
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, apperrors.NewProcessError(spec.Name, -1, stderr.String()).
				WithContext("start_error", err.Error())
		}
	}

	r.logger.LogExternalCommand(spec.Name, spec.Args, result.ExitCode, result.Duration)

	return result, nil
}
