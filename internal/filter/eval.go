package filter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// Evaluator compiles where clauses to CEL and caches the programs by source.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: cel env: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Matches reports whether order satisfies where. A clause that compiles but
// fails at evaluation (missing field, non-numeric price) does not match.
func (e *Evaluator) Matches(where map[string]any, order *model.Order) (bool, error) {
	src, err := Compile(where)
	if err != nil {
		return false, err
	}
	if src == "true" {
		return true, nil
	}
	prg, err := e.program(src)
	if err != nil {
		return false, err
	}
	act, err := Activation(order)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"order": act})
	if err != nil {
		return false, nil
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok, nil
}

func (e *Evaluator) program(src string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[src]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", src, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: program: %w", err)
	}
	e.cache[src] = prg
	return prg, nil
}

// Activation exposes an order to CEL under its JSON field names. Cart items
// are left out; link filters only see the order and its line items.
func Activation(order *model.Order) (map[string]any, error) {
	o := *order
	o.CartItems = nil
	b, err := json.Marshal(&o)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if _, ok := m["lineItems"]; !ok {
		m["lineItems"] = []any{}
	}
	if _, ok := m["shopId"]; !ok {
		m["shopId"] = ""
	}
	return m, nil
}
