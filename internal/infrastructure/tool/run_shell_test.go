package tool

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/config"
	"go.uber.org/zap"
)

// newShellFixture backs the guard with a store-less permission broker; the
// gates are not under test here.
func newShellFixture(t *testing.T) (*RunShellTool, domaintool.Context) {
	t.Helper()
	dir := t.TempDir()
	store, err := config.NewToolStore(filepath.Join(dir, "tools_config.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	guard := domaintool.NewPolicyGuard(store, domaintool.NewPermissionBroker(nil, zap.NewNop()), zap.NewNop())
	return NewRunShellTool(guard, zap.NewNop()), domaintool.Context{WorkPath: dir, AgentMode: domaintool.ModeSuper}
}

func TestRunShellExitCodePrefix(t *testing.T) {
	tool, tc := newShellFixture(t)

	out, err := tool.Execute(context.Background(), tc, domaintool.ParseArgs(`{"command": "echo hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "[exit_code=0]") {
		t.Errorf("output = %q, want exit code prefix", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output = %q, want stdout captured", out)
	}
}

func TestRunShellNonZeroExit(t *testing.T) {
	tool, tc := newShellFixture(t)

	out, err := tool.Execute(context.Background(), tc, domaintool.ParseArgs(`{"command": "exit 3"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "[exit_code=3]") {
		t.Errorf("output = %q, want exit code 3", out)
	}
	if !strings.Contains(out, "(no output)") {
		t.Errorf("output = %q, want no-output placeholder", out)
	}
}

func TestRunShellOutputCap(t *testing.T) {
	tool, tc := newShellFixture(t)

	out, err := tool.Execute(context.Background(), tc,
		domaintool.ParseArgs(`{"command": "yes x 2>/dev/null | head -c 5000; true", "max_output": 100}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(truncated)") {
		t.Errorf("output = %q, want truncation marker", out)
	}
}

func TestRunShellTimeout(t *testing.T) {
	tool, tc := newShellFixture(t)

	out, err := tool.Execute(context.Background(), tc,
		domaintool.ParseArgs(`{"command": "sleep 5", "timeout_sec": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if out != "Command timed out." {
		t.Errorf("output = %q, want timeout message", out)
	}
}
