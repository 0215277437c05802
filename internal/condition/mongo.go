// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package condition

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
)

// RenderMongo renders node into a mgo/bson query filter equivalent to
// what Eval computes in-process, per spec.md §4.1's "one predicate, two
// evaluations" guarantee. A nil node renders to an empty filter (matches
// everything).
func RenderMongo(node Node) (bson.M, error) {
	if node == nil {
		return bson.M{}, nil
	}
	switch n := node.(type) {
	case Equal:
		if n.Value == nil {
			return bson.M{n.Field: bson.M{"$exists": false}}, nil
		}
		return bson.M{n.Field: n.Value}, nil
	case Compare:
		return bson.M{n.Field: bson.M{string(n.Op): n.Value}}, nil
	case In:
		return bson.M{n.Field: bson.M{"$in": n.Values}}, nil
	case NotIn:
		return bson.M{"$and": []bson.M{
			{n.Field: bson.M{"$exists": true}},
			{n.Field: bson.M{"$nin": n.Values}},
		}}, nil
	case Exists:
		return bson.M{n.Field: bson.M{"$exists": n.Want}}, nil
	case Regex:
		regex := bson.M{"$regex": n.Pattern}
		if n.Options != "" {
			regex["$options"] = n.Options
		}
		return bson.M{n.Field: regex}, nil
	case Not:
		if eq, ok := n.Child.(Equal); ok && eq.Value != nil {
			// $ne on an absent field never matches per Eval; rendering
			// as a plain $ne would include absent documents, so guard
			// for presence explicitly.
			return bson.M{"$and": []bson.M{
				{eq.Field: bson.M{"$exists": true}},
				{eq.Field: bson.M{"$ne": eq.Value}},
			}}, nil
		}
		child, err := RenderMongo(n.Child)
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": []bson.M{child}}, nil
	case And:
		return renderCombinator("$and", n.Children)
	case Or:
		return renderCombinator("$or", n.Children)
	case Nor:
		return renderCombinator("$nor", n.Children)
	case Expr:
		return renderExpr(n)
	}
	return nil, ecounters.New(ecounters.ErrInvalidPredicate, "unknown condition node %T", node)
}

func renderCombinator(op string, children []Node) (bson.M, error) {
	parts := make([]bson.M, 0, len(children))
	for _, c := range children {
		rendered, err := RenderMongo(c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rendered)
	}
	if len(parts) == 0 {
		return bson.M{}, nil
	}
	return bson.M{op: parts}, nil
}

func renderExpr(n Expr) (bson.M, error) {
	left := renderOperand(n.Left)
	right := renderOperand(n.Right)
	return bson.M{"$expr": bson.M{string(n.Op): []interface{}{left, right}}}, nil
}

func renderOperand(op Operand) interface{} {
	if op.IsLiteral {
		return op.Literal
	}
	if op.DateArith != nil {
		mop := "$dateAdd"
		if op.DateArith.Subtract {
			mop = "$dateSubtract"
		}
		return bson.M{mop: bson.M{
			"startDate": renderOperand(op.DateArith.Base),
			"unit":      string(op.DateArith.Unit),
			"amount":    op.DateArith.Amount,
		}}
	}
	return "$" + op.Field
}
