// Package celquery implements service.QueryEvaluator with CEL, so
// ListAudit callers can filter audit entries with an arbitrary boolean
// expression instead of the fixed AuditFilter fields alone.
package celquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

// maxExpressionLength bounds the size of a caller-supplied filter
// expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing a pathological
// expression from burning unbounded CPU during evaluation.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting in a filter
// expression.
const maxNestingDepth = 50

// evalTimeout bounds a single expression evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Evaluator implements service.QueryEvaluator by compiling and running CEL
// expressions against gateway.AuditEntry. Each call to Matches compiles the
// expression fresh; ListAudit calls are infrequent admin operations, not a
// hot path, so no program cache is kept.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds the CEL environment used to evaluate audit filter
// expressions.
func NewEvaluator() (*Evaluator, error) {
	env, err := newAuditEnvironment()
	if err != nil {
		return nil, fmt.Errorf("celquery: build environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Matches reports whether expr evaluates to true against entry. An
// expression that fails to compile, fails to type-check, times out, or
// does not evaluate to a bool is reported as an error rather than treated
// as a non-match.
func (e *Evaluator) Matches(expr string, entry gateway.AuditEntry) (bool, error) {
	if err := e.validate(expr); err != nil {
		return false, err
	}

	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activationFor(entry))
	if err != nil {
		return false, fmt.Errorf("celquery: evaluation failed: %w", err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("celquery: expression did not return a bool, got %T", result.Value())
	}
	return b, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celquery: compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("celquery: program creation failed: %w", err)
	}
	return prg, nil
}

func (e *Evaluator) validate(expr string) error {
	if expr == "" {
		return errors.New("celquery: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("celquery: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if depth := nestingDepth(expr); depth > maxNestingDepth {
		return fmt.Errorf("celquery: expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}
	return nil
}

func nestingDepth(expr string) int {
	var depth, max int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	return max
}
