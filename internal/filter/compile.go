package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// relations are list-valued order fields that take some/every/none.
var relations = map[string]bool{"lineItems": true}

// Compile translates a where clause into a CEL expression over the variable
// "order". An empty clause compiles to "true".
func Compile(where map[string]any) (string, error) {
	c := &compiler{}
	return c.where(where, "order")
}

type compiler struct {
	depth int
}

func (c *compiler) where(where map[string]any, scope string) (string, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		v := where[k]
		var (
			expr string
			err  error
		)
		switch k {
		case "AND":
			expr, err = c.combine(v, scope, " && ", "true")
		case "OR":
			expr, err = c.combine(v, scope, " || ", "false")
		case "NOT":
			expr, err = c.combine(v, scope, " && ", "true")
			expr = "!(" + expr + ")"
		default:
			ops, ok := v.(map[string]any)
			if !ok {
				return "", fmt.Errorf("field %s: expected operator object, got %T", k, v)
			}
			if relations[k] {
				expr, err = c.relation(scope+"."+k, ops)
			} else {
				expr, err = c.field(scope+"."+k, ops)
			}
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	if len(parts) == 0 {
		return "true", nil
	}
	return strings.Join(parts, " && "), nil
}

// combine joins a list (or single object) of sub-clauses.
func (c *compiler) combine(v any, scope, sep, empty string) (string, error) {
	var clauses []any
	switch t := v.(type) {
	case []any:
		clauses = t
	case []map[string]any:
		for _, m := range t {
			clauses = append(clauses, m)
		}
	case map[string]any:
		clauses = []any{t}
	default:
		return "", fmt.Errorf("logical operator: expected list, got %T", v)
	}
	if len(clauses) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(clauses))
	for _, cl := range clauses {
		m, ok := cl.(map[string]any)
		if !ok {
			return "", fmt.Errorf("logical operator: expected object, got %T", cl)
		}
		expr, err := c.where(m, scope)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+expr+")")
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *compiler) relation(path string, ops map[string]any) (string, error) {
	c.depth++
	defer func() { c.depth-- }()
	v := "x" + strconv.Itoa(c.depth)

	var parts []string
	for _, op := range sortedKeys(ops) {
		sub, ok := ops[op].(map[string]any)
		if !ok {
			return "", fmt.Errorf("%s.%s: expected object, got %T", path, op, ops[op])
		}
		body, err := c.where(sub, v)
		if err != nil {
			return "", err
		}
		switch op {
		case "some":
			parts = append(parts, fmt.Sprintf("%s.exists(%s, %s)", path, v, body))
		case "every":
			parts = append(parts, fmt.Sprintf("%s.all(%s, %s)", path, v, body))
		case "none":
			parts = append(parts, fmt.Sprintf("!%s.exists(%s, %s)", path, v, body))
		default:
			return "", fmt.Errorf("%s: unsupported relation operator %q", path, op)
		}
	}
	if len(parts) == 0 {
		return "true", nil
	}
	return strings.Join(parts, " && "), nil
}

func (c *compiler) field(path string, ops map[string]any) (string, error) {
	insensitive := ops["mode"] == "insensitive"
	subject := path
	if insensitive {
		subject = "string(" + path + ").lowerAscii()"
	}

	var parts []string
	for _, op := range sortedKeys(ops) {
		if op == "mode" {
			continue
		}
		val := ops[op]
		if insensitive {
			if s, ok := val.(string); ok {
				val = strings.ToLower(s)
			}
		}

		var (
			expr string
			err  error
		)
		switch op {
		case "equals":
			expr, err = compare(subject, "==", val)
		case "not":
			if nested, ok := val.(map[string]any); ok {
				var inner string
				inner, err = c.field(path, nested)
				expr = "!(" + inner + ")"
			} else {
				expr, err = compare(subject, "!=", val)
			}
		case "lt":
			expr, err = compare(subject, "<", val)
		case "lte":
			expr, err = compare(subject, "<=", val)
		case "gt":
			expr, err = compare(subject, ">", val)
		case "gte":
			expr, err = compare(subject, ">=", val)
		case "in", "notIn":
			expr, err = membership(subject, val)
			if op == "notIn" {
				expr = "!(" + expr + ")"
			}
		case "contains", "startsWith", "endsWith":
			s, ok := val.(string)
			if !ok {
				return "", fmt.Errorf("%s.%s: expected string, got %T", path, op, val)
			}
			expr = fmt.Sprintf("string(%s).%s(%s)", subject, op, strconv.Quote(s))
		default:
			return "", fmt.Errorf("%s: unsupported operator %q", path, op)
		}
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", path, op, err)
		}
		parts = append(parts, expr)
	}
	if len(parts) == 0 {
		return "true", nil
	}
	return strings.Join(parts, " && "), nil
}

// compare emits a comparison. Numeric values compare as doubles so that
// string-typed money fields ("12.50") compare numerically.
func compare(subject, op string, val any) (string, error) {
	lit, numeric, err := literal(val)
	if err != nil {
		return "", err
	}
	if numeric {
		return fmt.Sprintf("double(%s) %s %s", subject, op, lit), nil
	}
	return fmt.Sprintf("%s %s %s", subject, op, lit), nil
}

func membership(subject string, val any) (string, error) {
	list, ok := val.([]any)
	if !ok {
		if ss, isStrings := val.([]string); isStrings {
			for _, s := range ss {
				list = append(list, s)
			}
		} else {
			return "", fmt.Errorf("expected list, got %T", val)
		}
	}
	lits := make([]string, 0, len(list))
	numeric := false
	for _, item := range list {
		lit, num, err := literal(item)
		if err != nil {
			return "", err
		}
		numeric = numeric || num
		lits = append(lits, lit)
	}
	if numeric {
		subject = "double(" + subject + ")"
	}
	return fmt.Sprintf("%s in [%s]", subject, strings.Join(lits, ", ")), nil
}

// literal renders a JSON value as a CEL literal. Numbers are always doubles.
func literal(val any) (lit string, numeric bool, err error) {
	switch v := val.(type) {
	case string:
		return strconv.Quote(v), false, nil
	case bool:
		return strconv.FormatBool(v), false, nil
	case nil:
		return "null", false, nil
	case float64:
		return floatLiteral(v), true, nil
	case float32:
		return floatLiteral(float64(v)), true, nil
	case int:
		return floatLiteral(float64(v)), true, nil
	case int64:
		return floatLiteral(float64(v)), true, nil
	}
	return "", false, fmt.Errorf("unsupported literal %T", val)
}

func floatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
