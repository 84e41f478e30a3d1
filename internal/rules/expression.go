package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/xela07ax/dropwatch/internal/domain"
)

// exprCostLimit не дает выражению из конфига съесть тик монитора
const exprCostLimit = 100000

// program: скомпилированное CEL-выражение над срезом сигналов.
// Доступные переменные: signals (map), quality (double), domain (string).
type program struct {
	prg cel.Program
}

// eval возвращает (условие, данных достаточно). Любая ошибка вычисления —
// чаще всего отсутствующий ключ в signals — считается нехваткой данных.
func (p program) eval(snap domain.Snapshot) (bool, bool) {
	out, _, err := p.prg.Eval(map[string]any{
		"signals": snap.Values(),
		"quality": snap.Quality,
		"domain":  snap.Domain,
	})
	if err != nil {
		return false, false
	}
	matched, ok := out.Value().(bool)
	if !ok {
		// Не-bool выражения трактуются как несработавшие
		return false, true
	}
	return matched, true
}

type expressionCache struct {
	env   *cel.Env
	mu    sync.RWMutex
	items map[string]program
}

func newExpressionCache() (*expressionCache, error) {
	env, err := cel.NewEnv(
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("quality", cel.DoubleType),
		cel.Variable("domain", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: failed to create CEL environment: %w", err)
	}
	return &expressionCache{env: env, items: make(map[string]program)}, nil
}

func (c *expressionCache) get(expr string) (program, error) {
	c.mu.RLock()
	p, ok := c.items[expr]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := c.compile(expr)
	if err != nil {
		return program{}, err
	}
	c.mu.Lock()
	c.items[expr] = p
	c.mu.Unlock()
	return p, nil
}

func (c *expressionCache) compile(expr string) (program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return program{}, fmt.Errorf("compile error: %w", issues.Err())
	}
	// dyn допускается (signals.flag): тип проверяется при вычислении
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return program{}, fmt.Errorf("expression must return bool, got %s", out)
	}
	prg, err := c.env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		return program{}, fmt.Errorf("program creation error: %w", err)
	}
	return program{prg: prg}, nil
}
