package tool

import (
	"encoding/json"
	"strings"
)

// Agent modes select which policy gates apply to tool invocations.
const (
	ModeDefault   = "default"
	ModeShellSafe = "shell_safe"
	ModeSuper     = "super"
)

// Context is the bag of turn-scoped state carried through every tool
// invocation.
type Context struct {
	SessionID         string
	WorkPath          string
	AgentMode         string
	ShellUnrestricted bool
}

// Mode returns the normalized agent mode, defaulting to ModeDefault.
func (c Context) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(c.AgentMode))
	if mode == "" {
		return ModeDefault
	}
	return mode
}

// Args holds parsed tool arguments plus the raw input string.
type Args struct {
	Raw    string
	Values map[string]interface{}
}

// ParseArgs parses tool input leniently: a JSON object is decoded as-is; any
// other input is kept raw and later treated as the sole required scalar
// parameter.
func ParseArgs(input string) Args {
	args := Args{Raw: input, Values: map[string]interface{}{}}
	text := strings.TrimSpace(input)
	if text == "" {
		return args
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err == nil && decoded != nil {
		args.Values = decoded
	}
	return args
}

// String returns the named string argument, falling back to the raw input
// when the argument is absent and fallback is requested.
func (a Args) String(name string, rawFallback bool) string {
	if v, ok := a.Values[name]; ok {
		switch s := v.(type) {
		case string:
			return s
		case json.Number:
			return s.String()
		}
	}
	if rawFallback && len(a.Values) == 0 {
		return strings.TrimSpace(a.Raw)
	}
	return ""
}

// Int returns the named numeric argument, or def when absent or invalid.
func (a Args) Int(name string, def int) int {
	v, ok := a.Values[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// Has reports whether the named argument was provided.
func (a Args) Has(name string) bool {
	_, ok := a.Values[name]
	return ok
}
