package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
)

// checkShellAvailable skips when the host has no POSIX shell utilities.
func checkShellAvailable(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"sh", "echo"} {
		if !(&HostExecutor{}).exists(tool) {
			t.Skipf("%s not available in test environment", tool)
		}
	}
}

func (h *HostExecutor) exists(name string) bool {
	_, err := h.LookPath(name)
	return err == nil
}

func TestCmdString(t *testing.T) {
	if got := CmdString("mksquashfs", "/tmp/a", "/tmp/b.squashfs", "-noappend"); got != "mksquashfs /tmp/a /tmp/b.squashfs -noappend" {
		t.Errorf("CmdString = %q", got)
	}
	if got := CmdString("true"); got != "true" {
		t.Errorf("CmdString without args = %q", got)
	}
}

func TestHostExecutorRun(t *testing.T) {
	checkShellAvailable(t)

	res, err := (&HostExecutor{}).Run(context.Background(), "echo", "test-exec-cmd")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(res.Stdout, "test-exec-cmd") {
		t.Errorf("Expected output to contain 'test-exec-cmd', got: %s", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestHostExecutorNonZeroExit(t *testing.T) {
	checkShellAvailable(t)

	res, err := (&HostExecutor{}).Run(context.Background(), "sh", "-c", "echo diag >&2; exit 3")
	if err == nil {
		t.Fatal("expected an error for exit status 3")
	}
	var toolErr *errkind.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *errkind.ToolError, got %T", err)
	}
	if toolErr.ExitCode != 3 || res.ExitCode != 3 {
		t.Errorf("exit code = %d/%d, want 3", toolErr.ExitCode, res.ExitCode)
	}
	if !strings.Contains(toolErr.Stderr, "diag") {
		t.Errorf("stderr not captured: %q", toolErr.Stderr)
	}
	if !errors.Is(err, errkind.ErrToolFailed) {
		t.Error("ToolError should match ErrToolFailed")
	}
}

func TestHostExecutorMissingTool(t *testing.T) {
	_, err := (&HostExecutor{}).Run(context.Background(), "retros-definitely-not-a-tool")
	if !errors.Is(err, errkind.ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
}

func TestHostExecutorEnv(t *testing.T) {
	checkShellAvailable(t)

	h := &HostExecutor{Env: []string{"RETROS_SHELL_TEST=present"}}
	res, err := h.Run(context.Background(), "sh", "-c", "echo $RETROS_SHELL_TEST")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "present" {
		t.Errorf("env not passed, got %q", res.Stdout)
	}
}

func TestExecCmdUsesDefault(t *testing.T) {
	original := Default
	defer func() { Default = original }()

	mock := NewMockExecutor([]MockCommand{
		{Pattern: "^echo 'test-exec-cmd-override'$", Output: "override-test\n"},
	})
	Default = mock

	res, err := ExecCmd(context.Background(), "echo", "'test-exec-cmd-override'")
	if err != nil {
		t.Fatalf("ExecCmd with override failed: %v", err)
	}
	if !strings.Contains(res.Stdout, "override-test") {
		t.Errorf("Expected output to contain 'override-test', got: %s", res.Stdout)
	}
	if len(mock.Calls()) != 1 {
		t.Errorf("expected 1 recorded call, got %d", len(mock.Calls()))
	}
}

func TestMockExecutor(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.img")

	mock := NewMockExecutor([]MockCommand{
		{Pattern: "^mksquashfs ", Effect: func(args []string) error {
			return os.WriteFile(args[1], []byte("hsqs"), 0644)
		}},
		{Pattern: "^fusermount -u", ExitCode: 1, Stderr: "fusermount: failed to unmount: Device or resource busy\n"},
		{Pattern: "^lutris", Error: errors.New("boom")},
	}).SetMissing("squashfuse")

	ctx := context.Background()

	if _, err := mock.Run(ctx, "mksquashfs", dir, out, "-noappend"); err != nil {
		t.Fatalf("mksquashfs mock failed: %v", err)
	}
	if data, err := os.ReadFile(out); err != nil || string(data) != "hsqs" {
		t.Errorf("effect did not run: %q %v", data, err)
	}

	_, err := mock.Run(ctx, "fusermount", "-u", dir)
	var toolErr *errkind.ToolError
	if !errors.As(err, &toolErr) || toolErr.ExitCode != 1 {
		t.Errorf("expected ToolError with exit 1, got %v", err)
	}

	if _, err := mock.Run(ctx, "lutris", "lutris://rungame/x"); err == nil || err.Error() != "boom" {
		t.Errorf("expected canned error, got %v", err)
	}

	if _, err := mock.Run(ctx, "squashfuse", out, dir); !errors.Is(err, errkind.ErrToolMissing) {
		t.Errorf("expected ErrToolMissing, got %v", err)
	}
	if _, err := mock.LookPath("squashfuse"); !errors.Is(err, errkind.ErrToolMissing) {
		t.Errorf("LookPath should report missing tool, got %v", err)
	}

	if _, err := mock.Run(ctx, "unknown"); err == nil || !strings.Contains(err.Error(), "unexpected command") {
		t.Errorf("expected unexpected command error, got %v", err)
	}

	if got := len(mock.Calls()); got != 4 {
		t.Errorf("expected 4 recorded calls (missing tools are not recorded), got %d", got)
	}
}
