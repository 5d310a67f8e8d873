// Package rule 用 CEL 评估加价规则和优惠码上的可选条件
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// 条件表达式可以引用的顶层变量
var factVariables = []string{"product", "user", "order"}

// CELEvaluator 实现 port.ConditionEvaluator，编译结果按表达式缓存
type CELEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewCELEvaluator() (*CELEvaluator, error) {
	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, v := range factVariables {
		opts = append(opts, cel.Variable(v, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("rule: create cel env: %w", err)
	}
	return &CELEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile 校验表达式能编译且结果为 bool
func (e *CELEvaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate 实现了 port.ConditionEvaluator 接口。fact 中缺少的顶层变量按空 map 处理。
func (e *CELEvaluator) Evaluate(expr string, fact map[string]interface{}) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	vars := make(map[string]interface{}, len(factVariables))
	for _, v := range factVariables {
		if val, ok := fact[v]; ok && val != nil {
			vars[v] = val
		} else {
			vars[v] = map[string]interface{}{}
		}
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("rule: evaluate %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule: %q returned %T, want bool", expr, out.Value())
	}
	return b, nil
}

func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("rule: compile %q: %w", expr, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("rule: %q has type %v, want bool", expr, t)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule: build program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
