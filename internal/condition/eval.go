// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
)

// Source is anything a condition tree can read dotted field paths from.
// model.Fact implements it so that Eval can run against a fact without
// this package importing the model package back.
type Source interface {
	Attribute(path string) (value interface{}, present bool)
}

// Eval evaluates node against src, per the semantics of spec.md §4.1. A
// nil node always matches.
func Eval(node Node, src Source) (bool, error) {
	if node == nil {
		return true, nil
	}
	switch n := node.(type) {
	case Equal:
		value, present := src.Attribute(n.Field)
		if !present {
			return n.Value == nil, nil
		}
		return equalValues(value, n.Value), nil
	case Compare:
		value, present := src.Attribute(n.Field)
		if !present {
			return false, nil
		}
		cmp, ok := compareOrdered(value, n.Value)
		if !ok {
			return false, nil
		}
		return satisfiesCompare(n.Op, cmp), nil
	case In:
		value, present := src.Attribute(n.Field)
		if !present {
			return containsNil(n.Values), nil
		}
		return containsValue(n.Values, value), nil
	case NotIn:
		value, present := src.Attribute(n.Field)
		if !present {
			return false, nil
		}
		return !containsValue(n.Values, value), nil
	case Exists:
		_, present := src.Attribute(n.Field)
		return present == n.Want, nil
	case Regex:
		value, present := src.Attribute(n.Field)
		if !present {
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		re, err := compileRegex(n.Pattern, n.Options)
		if err != nil {
			return false, ecounters.New(ecounters.ErrInvalidPredicate, "invalid regex %q: %v", n.Pattern, err)
		}
		return re.MatchString(s), nil
	case Not:
		ok, err := Eval(n.Child, src)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case And:
		for _, c := range n.Children {
			ok, err := Eval(c, src)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case Or:
		for _, c := range n.Children {
			ok, err := Eval(c, src)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Nor:
		for _, c := range n.Children {
			ok, err := Eval(c, src)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	case Expr:
		return evalExpr(n, src)
	}
	return false, ecounters.New(ecounters.ErrInvalidPredicate, "unknown condition node %T", node)
}

func evalExpr(n Expr, src Source) (bool, error) {
	left, leftOK, err := evalOperand(n.Left, src)
	if err != nil {
		return false, err
	}
	right, rightOK, err := evalOperand(n.Right, src)
	if err != nil {
		return false, err
	}
	if !leftOK || !rightOK {
		return false, nil
	}
	switch n.Op {
	case OpEq:
		return equalValues(left, right), nil
	case OpNe:
		return !equalValues(left, right), nil
	}
	cmp, ok := compareOrdered(left, right)
	if !ok {
		return false, nil
	}
	return satisfiesCompare(n.Op, cmp), nil
}

func evalOperand(op Operand, src Source) (interface{}, bool, error) {
	if op.IsLiteral {
		return op.Literal, true, nil
	}
	if op.DateArith != nil {
		base, ok, err := evalOperand(op.DateArith.Base, src)
		if err != nil || !ok {
			return nil, false, err
		}
		t, ok := toTime(base)
		if !ok {
			return nil, false, nil
		}
		d := unitDuration(op.DateArith.Unit, op.DateArith.Amount)
		if op.DateArith.Subtract {
			return t.Add(-d), true, nil
		}
		return t.Add(d), true, nil
	}
	return src.Attribute(op.Field)
}

func unitDuration(unit DateUnit, amount int64) time.Duration {
	switch unit {
	case UnitDay:
		return time.Duration(amount) * 24 * time.Hour
	case UnitHour:
		return time.Duration(amount) * time.Hour
	case UnitMinute:
		return time.Duration(amount) * time.Minute
	case UnitSecond:
		return time.Duration(amount) * time.Second
	}
	return 0
}

func satisfiesCompare(op CompareOp, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	}
	return false
}

func containsNil(values []interface{}) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}

func containsValue(values []interface{}, v interface{}) bool {
	for _, c := range values {
		if equalValues(v, c) {
			return true
		}
	}
	return false
}

// equalValues implements spec.md §4.1's coercion rules: numeric strings
// compare as numbers, booleans as booleans, ISO timestamp strings
// compare against time.Time values.
func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := toTime(b); ok {
			return at.Equal(bt)
		}
	}
	if bt, ok := b.(time.Time); ok {
		if at, ok := toTime(a); ok {
			return at.Equal(bt)
		}
	}
	if ab, ok := toBool(a); ok {
		if bb, ok := toBool(b); ok {
			return ab == bb
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareOrdered returns sign(a-b) for orderable a, b.
func compareOrdered(a, b interface{}) (int, bool) {
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// toTime accepts a native time.Time, a numeric epoch in milliseconds, or
// an ISO-8601/RFC3339 string, per spec.md §4.3.
func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	prefix := ""
	if strings.Contains(options, "i") {
		prefix = "(?i)"
	}
	return regexp.Compile(prefix + pattern)
}
