package manifest

import (
	"fmt"
	"strings"

	"github.com/flanksource/gomplate/v3"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

const defaultExpect = "exitCode == 0"

func expectation(expr string) string {
	if strings.TrimSpace(expr) == "" {
		return defaultExpect
	}
	return expr
}

// expect evaluates a CEL expectation with gomplate's function library. The
// command result shadows fixtures of the same name.
func expect(expr string, result Result, fixtures map[string]any) (bool, error) {
	data := make(map[string]any, len(fixtures)+5)
	for k, v := range templateData(fixtures) {
		data[k] = v
	}
	for k, v := range result.AsMap() {
		data[k] = v
	}

	output, err := gomplate.RunExpression(data, gomplate.Template{Expression: expectation(expr)})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression %q: %w", expr, err)
	}
	return toBool(output)
}

// when evaluates a fixture gate. Only fixtures (a map of the values resolved
// so far) and env are visible.
func when(expr string, fixtures map[string]any, env map[string]string) (bool, error) {
	if expr == "" || expr == "true" {
		return true, nil
	}

	celEnv, err := cel.NewEnv(
		cel.Variable("fixtures", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
		cel.StdLib(),
		ext.Strings(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression %q: %w", expr, issues.Err())
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	if env == nil {
		env = map[string]string{}
	}
	out, _, err := prg.Eval(map[string]any{"fixtures": templateData(fixtures), "env": env})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression %q: %w", expr, err)
	}
	return toBool(out.Value())
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("CEL expression did not return a boolean: got %T(%v)", v, v)
}
