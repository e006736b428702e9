package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"go.uber.org/zap"
)

// RunShellTool runs a shell command within the work path. The allowlist,
// operator, and path-escape gates run in the dispatcher before execution.
type RunShellTool struct {
	guard  *domaintool.PolicyGuard
	logger *zap.Logger
}

// NewRunShellTool creates the run_shell tool.
func NewRunShellTool(guard *domaintool.PolicyGuard, logger *zap.Logger) *RunShellTool {
	return &RunShellTool{guard: guard, logger: logger}
}

func (t *RunShellTool) Name() string        { return "run_shell" }
func (t *RunShellTool) Description() string { return "Run a shell command within the work path." }
func (t *RunShellTool) Kind() domaintool.Kind {
	return domaintool.KindExecute
}

func (t *RunShellTool) Parameters() []domaintool.Parameter {
	return []domaintool.Parameter{
		{Name: "command", Type: "string", Description: "Shell command to run.", Required: true},
		{Name: "cwd", Type: "string", Description: "Working directory (relative to the work path)."},
		{Name: "timeout_sec", Type: "number", Description: "Timeout in seconds."},
		{Name: "max_output", Type: "number", Description: "Max output characters."},
	}
}

func (t *RunShellTool) Execute(ctx context.Context, tc domaintool.Context, args domaintool.Args) (string, error) {
	command := args.String("command", true)
	if command == "" {
		return "", domaintool.ErrMissingParameter("command")
	}

	shellCfg := t.guard.Config().Shell()
	workdir, _ := t.guard.ResolvePath(tc, ".", "read")
	if cwd := args.String("cwd", false); cwd != "" {
		workdir, _ = t.guard.ResolvePath(tc, cwd, "read")
	}

	timeoutSec := args.Int("timeout_sec", shellCfg.TimeoutSec)
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	maxOutput := args.Int("max_output", shellCfg.MaxOutput)

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(execCtx, shell, "-c", command)
	cmd.Dir = workdir

	// stdout and stderr are captured concatenated.
	outputBytes, err := cmd.CombinedOutput()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return "Command timed out.", nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("run command: %w", err)
		}
	}

	output := string(outputBytes)
	if output == "" {
		output = "(no output)"
	}
	if maxOutput > 0 && len(output) > maxOutput {
		output = output[:maxOutput] + "\n... (truncated)"
	}

	return fmt.Sprintf("[exit_code=%d]\n%s", exitCode, output), nil
}
