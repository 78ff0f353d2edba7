package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-bexpr"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
)

const filterCacheSize = 256

// filterCache keeps the most recently used compiled evaluators, keyed by expression.
var filterCache = mustFilterCache()

func mustFilterCache() *lru.Cache[string, *bexpr.Evaluator] {
	cache, err := lru.New[string, *bexpr.Evaluator](filterCacheSize)
	if err != nil {
		panic(err)
	}
	return cache
}

func compileFilter(expr string) (*bexpr.Evaluator, error) {
	if cached, ok := filterCache.Get(expr); ok {
		return cached, nil
	}
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", errs.ErrInvalidInput, err)
	}
	filterCache.Add(expr, evaluator)
	return evaluator, nil
}

// applyFilter narrows items with the ?filter= expression, evaluated against
// each item's JSON form, so selectors use the response field names
// (e.g. `user_name == "jdoe" and status != 0`). Items the expression cannot
// be evaluated against, such as those missing a selected field, are dropped.
func applyFilter[T any](r *http.Request, items []T) ([]T, error) {
	expr := strings.TrimSpace(r.URL.Query().Get("filter"))
	if expr == "" {
		return items, nil
	}
	evaluator, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		fields, err := toFields(item)
		if err != nil {
			return nil, err
		}
		matches, err := evaluator.Evaluate(fields)
		if err != nil || !matches {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func toFields(item any) (map[string]any, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode filter item: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode filter item: %w", err)
	}
	return fields, nil
}
