package tool

import "testing"

func TestParseArgs(t *testing.T) {
	t.Run("json object", func(t *testing.T) {
		args := ParseArgs(`{"path": "a.txt", "max_bytes": 100}`)
		if args.String("path", false) != "a.txt" {
			t.Errorf("path = %q", args.String("path", false))
		}
		if args.Int("max_bytes", 0) != 100 {
			t.Errorf("max_bytes = %d", args.Int("max_bytes", 0))
		}
	})

	t.Run("plain string keeps raw", func(t *testing.T) {
		args := ParseArgs("2+2")
		if len(args.Values) != 0 {
			t.Errorf("plain input must not decode: %v", args.Values)
		}
		if args.String("expression", true) != "2+2" {
			t.Error("raw fallback must return the input")
		}
	})

	t.Run("invalid json keeps raw", func(t *testing.T) {
		args := ParseArgs(`{"broken`)
		if args.String("command", true) != `{"broken` {
			t.Error("undecodable input falls back to raw")
		}
	})

	t.Run("empty", func(t *testing.T) {
		args := ParseArgs("   ")
		if args.String("x", true) != "" {
			t.Error("whitespace input has no value")
		}
	})
}

func TestArgsInt(t *testing.T) {
	args := ParseArgs(`{"n": 7, "s": "x"}`)
	if args.Int("n", 0) != 7 {
		t.Error("numeric argument must decode")
	}
	if args.Int("s", 3) != 3 {
		t.Error("non-numeric argument falls back to default")
	}
	if args.Int("missing", 9) != 9 {
		t.Error("missing argument falls back to default")
	}
}

func TestContextMode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ModeDefault},
		{"DEFAULT", ModeDefault},
		{"Super", ModeSuper},
		{" shell_safe ", ModeShellSafe},
	}
	for _, tt := range tests {
		tc := Context{AgentMode: tt.in}
		if got := tc.Mode(); got != tt.want {
			t.Errorf("Mode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
