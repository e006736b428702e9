package tool

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"strings"

	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
)

// CalculatorTool evaluates arithmetic expressions as untyped constants, so
// no identifiers or calls are reachable.
type CalculatorTool struct{}

// NewCalculatorTool creates the calculator tool.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }
func (t *CalculatorTool) Description() string {
	return "Execute mathematical calculations. Input is an expression like '2+3*4' or '(10-5)/2'."
}
func (t *CalculatorTool) Kind() domaintool.Kind {
	return domaintool.KindCompute
}

func (t *CalculatorTool) Parameters() []domaintool.Parameter {
	return []domaintool.Parameter{
		{Name: "expression", Type: "string", Description: "Mathematical expression to evaluate", Required: true},
	}
}

func (t *CalculatorTool) Execute(ctx context.Context, tc domaintool.Context, args domaintool.Args) (string, error) {
	expr := args.String("expression", true)
	if expr == "" {
		return "", domaintool.ErrMissingParameter("expression")
	}
	if strings.ContainsAny(expr, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_\"'`") {
		return "", fmt.Errorf("invalid mathematical expression: %s", expr)
	}

	fset := token.NewFileSet()
	result, err := types.Eval(fset, nil, token.NoPos, expr)
	if err != nil {
		return "", fmt.Errorf("invalid mathematical expression: %v", err)
	}
	if result.Value == nil {
		return "", fmt.Errorf("expression did not evaluate to a value: %s", expr)
	}
	return result.Value.String(), nil
}
