// Package expressions evaluates JMESPath predicates used by list filters.
package expressions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/jmespath/go-jmespath"
)

// Evaluator compiles JMESPath expressions once and caches them
type Evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Evaluate evaluates a JMESPath expression against data
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid expression %q: %s", expression, err)).
			AddMetaValue("expression", expression)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// EvaluateBool evaluates an expression with JMESPath truthiness
func (e *Evaluator) EvaluateBool(expression string, data any) (bool, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return false, err
	}
	return truthy(result), nil
}

func truthy(result any) bool {
	switch v := result.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// Validate checks if an expression compiles
func (e *Evaluator) Validate(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Where keeps the items for which expression is truthy. Items are matched on their JSON form,
// so field names are the json tags.
func Where[T any](e *Evaluator, expression string, items []T) ([]T, error) {
	if expression == "" {
		return items, nil
	}
	if _, err := e.getOrCompile(expression); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid where expression: %s", err)).
			AddMetaValue("expression", expression)
	}

	matched := make([]T, 0, len(items))
	for _, item := range items {
		doc, err := toDocument(item)
		if err != nil {
			return nil, err
		}
		ok, err := e.EvaluateBool(expression, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func toDocument(item any) (any, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Evaluator) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}
