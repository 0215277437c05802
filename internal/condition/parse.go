// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package condition

import (
	"encoding/json"
	"sort"

	"gopkg.in/errgo.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
)

// ParseJSON unmarshals raw JSON holding a predicate tree (spec.md §4.1)
// into a Node. A nil/empty input yields a nil Node, which Eval and
// RenderMongo both treat as "always matches".
func ParseJSON(raw []byte) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errgo.Notef(err, "cannot parse condition")
	}
	return Parse(v)
}

// Parse turns an already-decoded JSON value (as produced by
// encoding/json into interface{}) into a Node.
func Parse(v interface{}) (Node, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, ecounters.New(ecounters.ErrInvalidPredicate, "condition must be a JSON object, got %T", v)
	}
	return parseTopLevel(obj)
}

func parseTopLevel(obj map[string]interface{}) (Node, error) {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var clauses []Node
	for _, key := range keys {
		value := obj[key]
		switch key {
		case "$and":
			n, err := parseNodeArray(value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, And{Children: n})
		case "$or":
			n, err := parseNodeArray(value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, Or{Children: n})
		case "$nor":
			n, err := parseNodeArray(value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, Nor{Children: n})
		case "$expr":
			n, err := parseExpr(value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, n)
		default:
			n, err := parseFieldClause(key, value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, n)
		}
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return And{Children: clauses}, nil
}

func parseNodeArray(v interface{}) ([]Node, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, ecounters.New(ecounters.ErrInvalidPredicate, "expected an array, got %T", v)
	}
	nodes := make([]Node, 0, len(arr))
	for _, e := range arr {
		obj, ok := e.(map[string]interface{})
		if !ok {
			return nil, ecounters.New(ecounters.ErrInvalidPredicate, "expected a condition object, got %T", e)
		}
		n, err := parseTopLevel(obj)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// parseFieldClause parses one "field: value" or "field: {op...}" entry.
func parseFieldClause(field string, value interface{}) (Node, error) {
	opObj, ok := value.(map[string]interface{})
	if !ok {
		// Bare equality: any non-object value, arrays included, is
		// compared as a literal.
		return Equal{Field: field, Value: value}, nil
	}
	// A map that isn't built from recognised operator keys is still
	// treated as a literal to compare for equality against (e.g. a
	// sub-document value); but since every key here is attacker/author
	// controlled config, we require operator keys to start with "$".
	if !looksLikeOperatorObject(opObj) {
		return Equal{Field: field, Value: value}, nil
	}
	var parts []Node
	if pattern, ok := opObj["$regex"]; ok {
		ps, ok := pattern.(string)
		if !ok {
			return nil, ecounters.New(ecounters.ErrInvalidPredicate, "$regex expects a string, got %T", pattern)
		}
		opts, _ := opObj["$options"].(string)
		parts = append(parts, Regex{Field: field, Pattern: ps, Options: opts})
	}
	ops := make([]string, 0, len(opObj))
	for op := range opObj {
		if op == "$regex" || op == "$options" {
			continue
		}
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		n, err := parseFieldOperator(field, op, opObj[op])
		if err != nil {
			return nil, err
		}
		parts = append(parts, n)
	}
	if len(parts) == 0 {
		return nil, ecounters.New(ecounters.ErrInvalidPredicate, "empty operator object for field %q", field)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return And{Children: parts}, nil
}

func looksLikeOperatorObject(m map[string]interface{}) bool {
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return len(m) > 0
}

func parseFieldOperator(field, op string, arg interface{}) (Node, error) {
	switch CompareOp(op) {
	case OpEq:
		return Equal{Field: field, Value: arg}, nil
	case OpNe:
		return Not{Child: Equal{Field: field, Value: arg}}, nil
	case OpGt, OpGte, OpLt, OpLte:
		return Compare{Field: field, Op: CompareOp(op), Value: arg}, nil
	}
	switch op {
	case "$in":
		vals, err := toSlice(arg)
		if err != nil {
			return nil, err
		}
		return In{Field: field, Values: vals}, nil
	case "$nin":
		vals, err := toSlice(arg)
		if err != nil {
			return nil, err
		}
		return NotIn{Field: field, Values: vals}, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return nil, ecounters.New(ecounters.ErrInvalidPredicate, "$exists expects a bool, got %T", arg)
		}
		return Exists{Field: field, Want: want}, nil
	case "$not":
		sub, ok := arg.(map[string]interface{})
		if !ok {
			return nil, ecounters.New(ecounters.ErrInvalidPredicate, "$not expects an operator object, got %T", arg)
		}
		n, err := parseFieldClause(field, sub)
		if err != nil {
			return nil, err
		}
		return Not{Child: n}, nil
	case "$or":
		arr, ok := arg.([]interface{})
		if !ok {
			return nil, ecounters.New(ecounters.ErrInvalidPredicate, "$or expects an array, got %T", arg)
		}
		var children []Node
		for _, e := range arr {
			sub, ok := e.(map[string]interface{})
			if !ok {
				return nil, ecounters.New(ecounters.ErrInvalidPredicate, "$or element must be an operator object, got %T", e)
			}
			n, err := parseFieldClause(field, sub)
			if err != nil {
				return nil, err
			}
			children = append(children, n)
		}
		return Or{Children: children}, nil
	}
	return nil, ecounters.New(ecounters.ErrInvalidPredicate, "unknown operator %q", op)
}

func toSlice(v interface{}) ([]interface{}, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, ecounters.New(ecounters.ErrInvalidPredicate, "expected an array, got %T", v)
	}
	return arr, nil
}

// parseExpr parses the body of a top-level $expr clause:
// { $op: [operandA, operandB] }.
func parseExpr(v interface{}) (Node, error) {
	obj, ok := v.(map[string]interface{})
	if !ok || len(obj) != 1 {
		return nil, ecounters.New(ecounters.ErrInvalidPredicate, "$expr expects a single-key operator object")
	}
	for op, arg := range obj {
		switch CompareOp(op) {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			arr, ok := arg.([]interface{})
			if !ok || len(arr) != 2 {
				return nil, ecounters.New(ecounters.ErrInvalidPredicate, "%s expects a 2-element array", op)
			}
			left, err := parseOperand(arr[0])
			if err != nil {
				return nil, err
			}
			right, err := parseOperand(arr[1])
			if err != nil {
				return nil, err
			}
			return Expr{Op: CompareOp(op), Left: left, Right: right}, nil
		}
		return nil, ecounters.New(ecounters.ErrInvalidPredicate, "unknown $expr operator %q", op)
	}
	panic("unreachable")
}

func parseOperand(v interface{}) (Operand, error) {
	switch val := v.(type) {
	case string:
		if len(val) > 1 && val[0] == '$' {
			return Operand{Field: val[1:]}, nil
		}
		return Operand{Literal: val, IsLiteral: true}, nil
	case map[string]interface{}:
		if arg, ok := val["$dateAdd"]; ok {
			return parseDateArith(arg, false)
		}
		if arg, ok := val["$dateSubtract"]; ok {
			return parseDateArith(arg, true)
		}
		return Operand{}, ecounters.New(ecounters.ErrInvalidPredicate, "unsupported operand object")
	default:
		return Operand{Literal: val, IsLiteral: true}, nil
	}
}

func parseDateArith(v interface{}, subtract bool) (Operand, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return Operand{}, ecounters.New(ecounters.ErrInvalidPredicate, "$dateAdd/$dateSubtract expects an object")
	}
	baseRaw, ok := obj["startDate"]
	if !ok {
		return Operand{}, ecounters.New(ecounters.ErrInvalidPredicate, "$dateAdd/$dateSubtract requires startDate")
	}
	base, err := parseOperand(baseRaw)
	if err != nil {
		return Operand{}, err
	}
	unit, _ := obj["unit"].(string)
	amount, err := toInt64(obj["amount"])
	if err != nil {
		return Operand{}, err
	}
	return Operand{DateArith: &DateArith{
		Base:     base,
		Unit:     DateUnit(unit),
		Amount:   amount,
		Subtract: subtract,
	}}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	}
	return 0, ecounters.New(ecounters.ErrInvalidPredicate, "expected a numeric amount, got %T", v)
}
