// Package scoring provides the CEL-Go based segment scoring engine.
package scoring

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine scores segment centroids with a compiled CEL expression over the
// standardized recency, frequency and monetary axes. The expression is
// compiled once at construction; a fitted engine is read-only and safe for
// concurrent Score calls.
type Engine struct {
	expr    string
	program cel.Program
}

// New compiles the given scoring expression. An expression that fails to
// compile, or that does not yield a numeric or boolean value, is a
// ConfigurationError.
func New(expr string) (*Engine, error) {
	if expr == "" {
		expr = domain.DefaultSegmentScoreExpr
	}

	env, err := cel.NewEnv(
		cel.Variable("recency", cel.DoubleType),
		cel.Variable("frequency", cel.DoubleType),
		cel.Variable("monetary", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("invalid segment score expression %q: %v", expr, issues.Err()),
		}
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("failed to build program for %q: %v", expr, err),
		}
	}

	return &Engine{expr: expr, program: program}, nil
}

// Expr returns the compiled expression source.
func (e *Engine) Expr() string { return e.expr }

// Score evaluates the expression on one centroid's standardized axes. The
// highest-scoring centroid marks the high-risk segment.
func (e *Engine) Score(recency, frequency, monetary float64) (float64, error) {
	out, _, err := e.program.Eval(map[string]any{
		"recency":   recency,
		"frequency": frequency,
		"monetary":  monetary,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate segment score: %w", err)
	}
	return toScore(out)
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	case types.Uint:
		return float64(v), nil
	default:
		return 0, &domain.ConfigurationError{
			Reason: fmt.Sprintf("segment score expression yielded non-numeric %T", val),
		}
	}
}
