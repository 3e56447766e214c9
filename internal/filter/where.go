// Package filter turns Link filters into a where clause and evaluates that
// clause against an order. Where clauses use the Keystone shape stored on
// links ({"country": {"equals": "US"}, "AND": [...]}) and are compiled to CEL.
package filter

import (
	"fmt"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// Filter types accepted from the admin UI, mapped to where operators.
// The "_i" variants compare case-insensitively.
var filterOps = map[string]struct {
	op          string
	negate      bool
	insensitive bool
}{
	"is":             {op: "equals"},
	"not":            {op: "equals", negate: true},
	"is_i":           {op: "equals", insensitive: true},
	"not_i":          {op: "equals", negate: true, insensitive: true},
	"in":             {op: "in"},
	"not_in":         {op: "notIn"},
	"lt":             {op: "lt"},
	"lte":            {op: "lte"},
	"gt":             {op: "gt"},
	"gte":            {op: "gte"},
	"contains":       {op: "contains"},
	"not_contains":   {op: "contains", negate: true},
	"contains_i":     {op: "contains", insensitive: true},
	"not_contains_i": {op: "contains", negate: true, insensitive: true},
	"starts_with":    {op: "startsWith"},
	"starts_with_i":  {op: "startsWith", insensitive: true},
	"ends_with":      {op: "endsWith"},
	"ends_with_i":    {op: "endsWith", insensitive: true},
	"some":           {op: "some"},
	"every":          {op: "every"},
	"none":           {op: "none"},
}

// BuildWhere converts UI filters into the where clause stored on a Link.
// All filters must hold. An empty filter list yields an empty clause, which
// matches every order.
func BuildWhere(filters []model.Filter) (map[string]any, error) {
	if len(filters) == 0 {
		return map[string]any{}, nil
	}
	and := make([]any, 0, len(filters))
	for _, f := range filters {
		cond, err := filterCondition(f)
		if err != nil {
			return nil, err
		}
		and = append(and, cond)
	}
	return map[string]any{"AND": and}, nil
}

func filterCondition(f model.Filter) (map[string]any, error) {
	if f.Field == "" {
		return nil, fmt.Errorf("filter without field")
	}
	spec, ok := filterOps[f.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported filter type %q on %s", f.Type, f.Field)
	}

	ops := map[string]any{spec.op: f.Value}
	if spec.insensitive {
		ops["mode"] = "insensitive"
	}
	cond := map[string]any{f.Field: ops}
	if spec.negate {
		return map[string]any{"NOT": []any{cond}}, nil
	}
	return cond, nil
}

// WhereFor returns the clause to evaluate for a link: its stored dynamic
// clause when present, otherwise one built from its filters.
func WhereFor(l *model.Link) (map[string]any, error) {
	if len(l.DynamicWhereClause) > 0 {
		return l.DynamicWhereClause, nil
	}
	return BuildWhere(l.Filters)
}
