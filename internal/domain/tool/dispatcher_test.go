package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"go.uber.org/zap"
)

// echoTool returns its parsed arguments for assertions.
type echoTool struct {
	name   string
	kind   Kind
	params []Parameter
	got    Args
}

func (t *echoTool) Name() string            { return t.name }
func (t *echoTool) Description() string     { return "echo" }
func (t *echoTool) Kind() Kind              { return t.kind }
func (t *echoTool) Parameters() []Parameter { return t.params }
func (t *echoTool) Execute(ctx context.Context, tc Context, args Args) (string, error) {
	t.got = args
	return "ok", nil
}

func newTestDispatcher(t *testing.T, tools ...Tool) (*Dispatcher, *memConfig, *memPermissions) {
	t.Helper()
	registry := NewRegistry()
	for _, tl := range tools {
		if err := registry.Register(tl); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &memConfig{shell: ShellSettings{PermissionTimeoutSec: 5, TimeoutSec: 5, MaxOutput: 1000}}
	perms := newMemPermissions()
	guard := NewPolicyGuard(cfg, NewPermissionBroker(perms, zap.NewNop()), zap.NewNop())
	return NewDispatcher(registry, guard, zap.NewNop()), cfg, perms
}

func TestDispatchUnknownTool(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), "banana", "x", Context{})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestDispatchCaseInsensitiveResolution(t *testing.T) {
	tool := &echoTool{name: "Calc", kind: KindCompute,
		params: []Parameter{{Name: "expression", Type: "string", Required: true}}}
	d, _, _ := newTestDispatcher(t, tool)

	out, err := d.Dispatch(context.Background(), "CALC", "1+1", Context{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
}

func TestDispatchFoldsScalarInput(t *testing.T) {
	tool := &echoTool{name: "calc", kind: KindCompute,
		params: []Parameter{{Name: "expression", Type: "string", Required: true}}}
	d, _, _ := newTestDispatcher(t, tool)

	if _, err := d.Dispatch(context.Background(), "calc", "2+2", Context{}); err != nil {
		t.Fatal(err)
	}
	if tool.got.String("expression", false) != "2+2" {
		t.Errorf("folded expression = %q", tool.got.String("expression", false))
	}
}

func TestDispatchValidatesRequired(t *testing.T) {
	tool := &echoTool{name: "writer", kind: KindCompute, params: []Parameter{
		{Name: "path", Type: "string", Required: true},
		{Name: "content", Type: "string", Required: true},
	}}
	d, _, _ := newTestDispatcher(t, tool)

	_, err := d.Dispatch(context.Background(), "writer", `{"path": "a.txt"}`, Context{})
	if err == nil || !strings.Contains(err.Error(), "content") {
		t.Fatalf("err = %v, want missing content", err)
	}
}

func TestDispatchShellGateDenied(t *testing.T) {
	tool := &echoTool{name: "run_shell", kind: KindExecute,
		params: []Parameter{{Name: "command", Type: "string", Required: true}}}
	d, _, perms := newTestDispatcher(t, tool)
	perms.decideOnCreate = entity.PermissionDenied

	out, err := d.Dispatch(context.Background(), "run_shell",
		`{"command": "something"}`, Context{WorkPath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if out != MsgPermissionDenied {
		t.Errorf("out = %q, want %q", out, MsgPermissionDenied)
	}
	if tool.got.Raw != "" {
		t.Error("denied tool must not execute")
	}
}

func TestDispatchFileGatePassesInsideRoot(t *testing.T) {
	tool := &echoTool{name: "read_file", kind: KindRead,
		params: []Parameter{{Name: "path", Type: "string", Required: true}}}
	d, _, _ := newTestDispatcher(t, tool)

	out, err := d.Dispatch(context.Background(), "read_file",
		`{"path": "notes.txt"}`, Context{WorkPath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
}

func TestDefinitionSchema(t *testing.T) {
	tool := &echoTool{name: "demo", kind: KindCompute, params: []Parameter{
		{Name: "q", Type: "string", Description: "query", Required: true},
		{Name: "n", Type: "number", Default: 5},
		{Name: "tags", Type: "array"},
	}}
	def := DefinitionFor(tool)

	if def.Name != "demo" {
		t.Errorf("name = %q", def.Name)
	}
	props, _ := def.Parameters["properties"].(map[string]interface{})
	if len(props) != 3 {
		t.Fatalf("properties = %v", props)
	}
	required, _ := def.Parameters["required"].([]string)
	if len(required) != 1 || required[0] != "q" {
		t.Errorf("required = %v", required)
	}
	tags, _ := props["tags"].(map[string]interface{})
	if tags["items"] == nil {
		t.Error("array parameter must carry items")
	}
}
