package tool

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"go.uber.org/zap"
)

// DecisionState is the outcome of a policy gate.
type DecisionState int

const (
	DecisionOk DecisionState = iota
	DecisionPolicyRequired
	DecisionPolicyDenied
	DecisionPolicyTimeout
	DecisionFailure
)

// Canonical gate messages returned as tool observations.
const (
	MsgPermissionDenied   = "Permission denied."
	MsgPermissionTimedOut = "Permission request timed out."
	MsgPermissionRequired = "Permission required."
)

// Decision carries a gate outcome plus its user-visible message.
type Decision struct {
	State   DecisionState
	Message string
	// RequestID is set when a permission request was filed.
	RequestID int64
}

// Ok reports whether execution may proceed.
func (d Decision) Ok() bool { return d.State == DecisionOk }

// ShellSettings is the live shell gate configuration.
type ShellSettings struct {
	Allowlist            []string
	TimeoutSec           int
	MaxOutput            int
	PermissionTimeoutSec int
}

// FilesSettings is the live file tool configuration.
type FilesSettings struct {
	MaxBytes int
}

// ConfigView exposes the copy-on-write tools configuration to the gates.
// Readers always see a consistent snapshot.
type ConfigView interface {
	Shell() ShellSettings
	Files() FilesSettings
	// AppendShellAllowlist adds a command basename to the allowlist,
	// persisting the updated config.
	AppendShellAllowlist(name string) error
}

// PolicyGuard evaluates the policy gates of spec'd tool classes before
// execution and blocks on the permission broker when a gate trips.
type PolicyGuard struct {
	cfg    ConfigView
	broker *PermissionBroker
	logger *zap.Logger
}

// NewPolicyGuard creates a guard over the given config view and broker.
func NewPolicyGuard(cfg ConfigView, broker *PermissionBroker, logger *zap.Logger) *PolicyGuard {
	return &PolicyGuard{cfg: cfg, broker: broker, logger: logger}
}

// Config returns the guard's config view, shared with the builtin tools.
func (g *PolicyGuard) Config() ConfigView { return g.cfg }

// ResolvePath resolves a raw path against the work path and checks
// containment. Mode super always passes; mode shell_safe passes read-only
// actions. Returns the absolute path and whether the gate tripped.
func (g *PolicyGuard) ResolvePath(tc Context, raw string, action string) (string, bool) {
	root := g.rootPath(tc)
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	if pathWithinRoot(path, root) {
		return path, false
	}
	switch tc.Mode() {
	case ModeSuper:
		return path, false
	case ModeShellSafe:
		if action == "read" {
			return path, false
		}
	}
	return path, true
}

// GateFileAccess applies the path containment gate. On violation it files a
// permission request and awaits a terminal status.
func (g *PolicyGuard) GateFileAccess(ctx context.Context, tc Context, toolName, rawPath, action string) (string, Decision) {
	path, violated := g.ResolvePath(tc, rawPath, action)
	if !violated {
		return path, Decision{State: DecisionOk}
	}
	return path, g.awaitApproval(ctx, tc, toolName, action, path, "Path outside work path.")
}

// GateShell applies the shell gates: allowlist membership, shell operators,
// and path escapes in the command line. On violation it files a permission
// request, awaits a terminal status, and on approval auto-appends the
// command basename to the allowlist for default-mode allowlist misses.
func (g *PolicyGuard) GateShell(ctx context.Context, tc Context, toolName, command string) Decision {
	mode := tc.Mode()
	if mode == ModeSuper {
		return Decision{State: DecisionOk}
	}

	root := g.rootPath(tc)
	cmdName := commandName(command)
	allowset := make(map[string]bool)
	for _, item := range g.cfg.Shell().Allowlist {
		allowset[strings.ToLower(item)] = true
	}

	var reasons []string
	allowlistMiss := false
	if mode == ModeDefault {
		if containsShellOperators(command) {
			reasons = append(reasons, "Shell operators detected.")
		}
		if !tc.ShellUnrestricted && !allowset[cmdName] {
			reasons = append(reasons, "Command not in allowlist.")
			allowlistMiss = true
		}
		if commandTargetsOutsideRoot(command, root) {
			reasons = append(reasons, "Command may access paths outside work path.")
		}
	} else { // shell_safe
		if commandTargetsOutsideRoot(command, root) {
			reasons = append(reasons, "Command may access paths outside work path.")
		}
	}
	if len(reasons) == 0 {
		return Decision{State: DecisionOk}
	}

	decision := g.awaitApproval(ctx, tc, toolName, "execute", command, strings.Join(reasons, " "))
	if decision.Ok() && allowlistMiss {
		if err := g.cfg.AppendShellAllowlist(cmdName); err != nil {
			g.logger.Warn("Failed to extend shell allowlist",
				zap.String("command", cmdName), zap.Error(err))
		}
	}
	return decision
}

func (g *PolicyGuard) awaitApproval(ctx context.Context, tc Context, toolName, action, path, reason string) Decision {
	req := &entity.PermissionRequest{
		SessionID: tc.SessionID,
		ToolName:  toolName,
		Action:    action,
		Path:      path,
		Reason:    reason,
	}
	id, err := g.broker.Create(ctx, req)
	if err != nil {
		return Decision{State: DecisionFailure, Message: MsgPermissionRequired}
	}

	timeout := time.Duration(g.cfg.Shell().PermissionTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	status := g.broker.Await(ctx, id, timeout)
	switch status {
	case entity.PermissionApproved:
		return Decision{State: DecisionOk, RequestID: id}
	case entity.PermissionDenied:
		return Decision{State: DecisionPolicyDenied, Message: MsgPermissionDenied, RequestID: id}
	case entity.PermissionTimeout:
		return Decision{State: DecisionPolicyTimeout, Message: MsgPermissionTimedOut, RequestID: id}
	}
	return Decision{State: DecisionPolicyRequired, Message: MsgPermissionRequired, RequestID: id}
}

func (g *PolicyGuard) rootPath(tc Context) string {
	root := tc.WorkPath
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Clean(root)
	}
	return abs
}

func pathWithinRoot(path, root string) bool {
	p := strings.ToLower(filepath.Clean(path))
	r := strings.ToLower(filepath.Clean(root))
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(filepath.Separator))
}

// commandName extracts the basename of the command's first token, stripped
// of executable suffixes.
func commandName(command string) string {
	parts := splitCommand(command)
	if len(parts) == 0 {
		return ""
	}
	first := strings.Trim(parts[0], `"'`)
	base := strings.ToLower(filepath.Base(first))
	for _, suffix := range []string{".exe", ".cmd", ".bat"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

func containsShellOperators(command string) bool {
	for _, op := range []string{"&", "|", ">", "<", ";"} {
		if strings.Contains(command, op) {
			return true
		}
	}
	return false
}

// commandTargetsOutsideRoot reports whether any token that resembles a
// filesystem path resolves outside the work path. ".." anywhere is a
// violation.
func commandTargetsOutsideRoot(command string, root string) bool {
	if strings.Contains(command, "..") {
		return true
	}
	for _, candidate := range pathCandidates(command) {
		if !looksLikePath(candidate) {
			continue
		}
		path := candidate
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if !pathWithinRoot(filepath.Clean(path), root) {
			return true
		}
	}
	return false
}

func pathCandidates(command string) []string {
	var candidates []string
	for _, part := range splitCommand(command) {
		item := strings.Trim(part, `"'`)
		if item == "" {
			continue
		}
		candidates = append(candidates, item)
		if idx := strings.Index(item, "="); idx >= 0 {
			value := strings.Trim(item[idx+1:], `"'`)
			if value != "" {
				candidates = append(candidates, value)
			}
		}
	}
	return candidates
}

func looksLikePath(candidate string) bool {
	if candidate == "" {
		return false
	}
	if strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, `\\`) {
		return true
	}
	if len(candidate) > 2 && candidate[1] == ':' {
		return true
	}
	return strings.ContainsAny(candidate, `\/`)
}

// splitCommand splits a command line on whitespace while keeping quoted
// segments intact.
func splitCommand(command string) []string {
	var parts []string
	var current strings.Builder
	var quote rune

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			current.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return parts
}

// ErrMissingParameter is returned when a required argument is absent.
func ErrMissingParameter(name string) error {
	return fmt.Errorf("missing required parameter %q", name)
}
