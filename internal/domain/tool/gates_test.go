package tool

import (
	"context"
	"sync"
	"testing"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"go.uber.org/zap"
)

// memPermissions is an in-memory PermissionRepository whose requests can be
// pre-decided for gate tests.
type memPermissions struct {
	mu       sync.Mutex
	requests map[int64]*entity.PermissionRequest
	nextID   int64
	// decideOnCreate transitions new requests immediately.
	decideOnCreate string
}

func newMemPermissions() *memPermissions {
	return &memPermissions{requests: map[int64]*entity.PermissionRequest{}}
}

func (m *memPermissions) Create(ctx context.Context, req *entity.PermissionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	stored := *req
	if m.decideOnCreate != "" {
		stored.Status = m.decideOnCreate
	}
	m.requests[req.ID] = &stored
	return nil
}

func (m *memPermissions) Get(ctx context.Context, id int64) (*entity.PermissionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := *m.requests[id]
	return &record, nil
}

func (m *memPermissions) UpdateStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req, ok := m.requests[id]; ok && req.Status == entity.PermissionPending {
		req.Status = status
	}
	return nil
}

func (m *memPermissions) ListPending(ctx context.Context, sessionID string) ([]*entity.PermissionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PermissionRequest
	for _, req := range m.requests {
		if req.Status == entity.PermissionPending {
			record := *req
			out = append(out, &record)
		}
	}
	return out, nil
}

// memConfig is an in-memory ConfigView.
type memConfig struct {
	mu    sync.Mutex
	shell ShellSettings
	files FilesSettings
}

func (c *memConfig) Shell() ShellSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.shell
	out.Allowlist = append([]string(nil), c.shell.Allowlist...)
	return out
}

func (c *memConfig) Files() FilesSettings { return c.files }

func (c *memConfig) AppendShellAllowlist(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shell.Allowlist = append(c.shell.Allowlist, name)
	return nil
}

func newTestGuard(cfg *memConfig, perms *memPermissions) *PolicyGuard {
	broker := NewPermissionBroker(perms, zap.NewNop())
	return NewPolicyGuard(cfg, broker, zap.NewNop())
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"ls -la", "ls"},
		{"/usr/bin/git status", "git"},
		{`"python.exe" script.py`, "python"},
		{"NPM.CMD install", "npm"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := commandName(tt.command); got != tt.want {
			t.Errorf("commandName(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestContainsShellOperators(t *testing.T) {
	for _, cmd := range []string{"ls | wc", "echo a > b", "a && b", "a; b", "cat < f"} {
		if !containsShellOperators(cmd) {
			t.Errorf("%q should be flagged", cmd)
		}
	}
	if containsShellOperators("git log --oneline") {
		t.Error("plain command should pass")
	}
}

func TestCommandTargetsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		command string
		want    bool
	}{
		{"cat notes.txt", false},
		{"cat ../secrets", true},
		{"cat /etc/passwd", true},
		{"cp sub/dir/a.txt other.txt", false},
		{"env FILE=/etc/hosts printenv", true},
	}
	for _, tt := range tests {
		if got := commandTargetsOutsideRoot(tt.command, root); got != tt.want {
			t.Errorf("commandTargetsOutsideRoot(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestResolvePathContainment(t *testing.T) {
	root := t.TempDir()
	guard := newTestGuard(&memConfig{}, newMemPermissions())

	tc := Context{WorkPath: root}
	if _, violated := guard.ResolvePath(tc, "inside.txt", "read"); violated {
		t.Error("path under root must pass")
	}
	if _, violated := guard.ResolvePath(tc, "/outside/else.txt", "write"); !violated {
		t.Error("absolute path outside root must trip the gate")
	}

	super := Context{WorkPath: root, AgentMode: ModeSuper}
	if _, violated := guard.ResolvePath(super, "/outside/else.txt", "write"); violated {
		t.Error("super mode bypasses containment")
	}

	safeRead := Context{WorkPath: root, AgentMode: ModeShellSafe}
	if _, violated := guard.ResolvePath(safeRead, "/outside/else.txt", "read"); violated {
		t.Error("shell_safe mode allows outside reads")
	}
	if _, violated := guard.ResolvePath(safeRead, "/outside/else.txt", "write"); !violated {
		t.Error("shell_safe mode still gates writes")
	}
}

func TestGateShellAllowlistApproval(t *testing.T) {
	root := t.TempDir()
	cfg := &memConfig{shell: ShellSettings{Allowlist: nil, PermissionTimeoutSec: 5}}
	perms := newMemPermissions()
	perms.decideOnCreate = entity.PermissionApproved
	guard := newTestGuard(cfg, perms)

	decision := guard.GateShell(context.Background(), Context{SessionID: "s1", WorkPath: root}, "run_shell", "ls")
	if !decision.Ok() {
		t.Fatalf("approved request must allow execution, got %+v", decision)
	}

	// The approved command's basename lands in the allowlist.
	found := false
	for _, name := range cfg.Shell().Allowlist {
		if name == "ls" {
			found = true
		}
	}
	if !found {
		t.Error("approved allowlist miss must append the command")
	}

	req, _ := perms.Get(context.Background(), decision.RequestID)
	if req.Reason == "" || req.ToolName != "run_shell" {
		t.Errorf("request = %+v", req)
	}
}

func TestGateShellDenied(t *testing.T) {
	root := t.TempDir()
	cfg := &memConfig{shell: ShellSettings{PermissionTimeoutSec: 5}}
	perms := newMemPermissions()
	perms.decideOnCreate = entity.PermissionDenied
	guard := newTestGuard(cfg, perms)

	decision := guard.GateShell(context.Background(), Context{WorkPath: root}, "run_shell", "rm file")
	if decision.State != DecisionPolicyDenied {
		t.Fatalf("state = %v, want denied", decision.State)
	}
	if decision.Message != MsgPermissionDenied {
		t.Errorf("message = %q, want %q", decision.Message, MsgPermissionDenied)
	}
	if len(cfg.Shell().Allowlist) != 0 {
		t.Error("denied command must not extend the allowlist")
	}
}

func TestGateShellTimeout(t *testing.T) {
	root := t.TempDir()
	cfg := &memConfig{shell: ShellSettings{PermissionTimeoutSec: 1}}
	perms := newMemPermissions()
	// A request already in timeout state is what the poller observes after
	// the deadline transition.
	perms.decideOnCreate = entity.PermissionTimeout
	guard := newTestGuard(cfg, perms)

	decision := guard.GateShell(context.Background(), Context{WorkPath: root}, "run_shell", "curl example.com")
	if decision.State != DecisionPolicyTimeout {
		t.Fatalf("state = %v, want timeout", decision.State)
	}
	if decision.Message != MsgPermissionTimedOut {
		t.Errorf("message = %q", decision.Message)
	}
}

func TestGateShellSuperAndUnrestricted(t *testing.T) {
	root := t.TempDir()
	cfg := &memConfig{shell: ShellSettings{PermissionTimeoutSec: 5}}
	guard := newTestGuard(cfg, newMemPermissions())

	if d := guard.GateShell(context.Background(), Context{WorkPath: root, AgentMode: ModeSuper}, "run_shell", "anything | at all"); !d.Ok() {
		t.Error("super mode bypasses the shell gates")
	}

	// Unrestricted skips the allowlist but operators still gate.
	perms := newMemPermissions()
	perms.decideOnCreate = entity.PermissionDenied
	guard = newTestGuard(cfg, perms)
	d := guard.GateShell(context.Background(), Context{WorkPath: root, ShellUnrestricted: true}, "run_shell", "ls | wc")
	if d.Ok() {
		t.Error("operators still require approval with shell_unrestricted")
	}
	if d = guard.GateShell(context.Background(), Context{WorkPath: root, ShellUnrestricted: true}, "run_shell", "somebinary"); !d.Ok() {
		t.Error("shell_unrestricted skips the allowlist gate")
	}
}
