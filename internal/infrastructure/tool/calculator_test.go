package tool

import (
	"context"
	"testing"

	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculatorTool()

	tests := []struct {
		expr string
		want string
	}{
		{"2+2", "4"},
		{"15*23+100", "445"},
		{"(10-5)/2", "2"}, // untyped integer constants divide as integers
		{"(10.0-5)/2", "2.5"},
		{"2*(3+4)", "14"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := calc.Execute(context.Background(), domaintool.Context{}, domaintool.ParseArgs(tt.expr))
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.expr, out, tt.want)
			}
		})
	}
}

func TestCalculatorRejectsNonMath(t *testing.T) {
	calc := NewCalculatorTool()
	for _, expr := range []string{"", "len(x)", `"str"`, "os.Exit(1)", "x+1"} {
		if _, err := calc.Execute(context.Background(), domaintool.Context{}, domaintool.ParseArgs(expr)); err == nil {
			t.Errorf("Execute(%q) should fail", expr)
		}
	}
}
