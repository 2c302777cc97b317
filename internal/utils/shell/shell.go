package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

// Result is the outcome of a finished external command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs external commands to completion. Implementations return
// errkind.ErrToolMissing when the binary cannot be found and a
// *errkind.ToolError (with the populated Result) on a non-zero exit.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
	LookPath(name string) (string, error)
}

// HostExecutor runs commands on the host through os/exec.
type HostExecutor struct {
	// Env is appended to the inherited environment when non-empty.
	Env []string
}

// Default is the executor used by packages that are not handed one
// explicitly. Tests replace it with a MockExecutor.
var Default Executor = &HostExecutor{}

// ExecCmd runs name with args through the Default executor.
func ExecCmd(ctx context.Context, name string, args ...string) (*Result, error) {
	return Default.Run(ctx, name, args...)
}

// CmdString renders a command line for logs.
func CmdString(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

func (h *HostExecutor) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errkind.Missing(name)
	}
	return path, nil
}

func (h *HostExecutor) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	log := logger.Logger()

	path, err := h.LookPath(name)
	if err != nil {
		return nil, err
	}

	log.Debugf("Exec: [%s]", CmdString(name, args...))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(h.Env) > 0 {
		cmd.Env = append(cmd.Environ(), h.Env...)
	}

	runErr := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if res.Stderr != "" {
				log.Debugf("%s stderr: %s", name, res.Stderr)
			}
			return res, &errkind.ToolError{
				Tool:     name,
				Args:     args,
				ExitCode: res.ExitCode,
				Stdout:   res.Stdout,
				Stderr:   res.Stderr,
			}
		}
		return res, fmt.Errorf("failed to exec %s: %w", CmdString(name, args...), runErr)
	}

	if res.Stdout != "" {
		log.Debugf("%s stdout: %s", name, strings.TrimSpace(res.Stdout))
	}
	return res, nil
}
