package builtin

import (
	"context"
	"strings"

	"github.com/soyeahso/shopagent/internal/calc"
	"github.com/soyeahso/shopagent/internal/tools"
)

func calculate() tools.Metadata {
	return tools.Metadata{
		Name:        ToolCalculate,
		Description: "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, sqrt, abs, floor, ceil, round, min, max and the constants pi and e.",
		Category:    "utility",
		Schema: tools.Schema{
			{Name: "expression", Kind: tools.KindString, Description: "the expression to evaluate, e.g. 123*456", Required: true},
		},
		Execute: func(_ context.Context, args tools.Args) (tools.Result, error) {
			expr := strings.TrimSpace(args.String("expression", ""))
			result, err := calc.Evaluate(expr)
			if err != nil {
				return tools.Fail("cannot evaluate %q: %v", expr, err), nil
			}
			return tools.OK(map[string]any{"expression": expr, "result": result}), nil
		},
	}
}
