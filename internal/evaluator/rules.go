package evaluator

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ruleCache compiles targeting rules on first use and keeps the programs in
// a bounded ristretto cache keyed by rule source.
type ruleCache struct {
	cache *ristretto.Cache
}

func newRuleCache() (*ruleCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ruleCache{cache: c}, nil
}

func (r *ruleCache) close() {
	r.cache.Close()
}

// match evaluates a rule expression against the request attributes. Rules
// must produce a boolean.
func (r *ruleCache) match(rule string, attrs map[string]any) (bool, error) {
	program, err := r.program(rule)
	if err != nil {
		return false, err
	}

	env := attrs
	if env == nil {
		env = map[string]any{}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}

	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule returned non-boolean: %T", out)
	}

	return matched, nil
}

func (r *ruleCache) program(rule string) (*vm.Program, error) {
	if cached, ok := r.cache.Get(rule); ok {
		if p, ok := cached.(*vm.Program); ok {
			return p, nil
		}
	}

	program, err := expr.Compile(rule,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule: %w", err)
	}

	r.cache.Set(rule, program, 1)
	return program, nil
}
