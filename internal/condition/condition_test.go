// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package condition_test

import (
	"testing"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
)

func TestPackage(t *testing.T) {
	gc.TestingT(t)
}

type ConditionSuite struct{}

var _ = gc.Suite(&ConditionSuite{})

// fakeSource is a minimal condition.Source for testing Eval in
// isolation from the model package.
type fakeSource map[string]interface{}

func (f fakeSource) Attribute(path string) (interface{}, bool) {
	v, ok := f[path]
	return v, ok
}

func (s *ConditionSuite) TestEqualMatchesPresentValue(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.amount": 100}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{"d.amount": 100.0})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestEqualNullMatchesAbsent(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.amount": null}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestNeNullDoesNotMatchAbsent(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.amount": {"$ne": null}}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsFalse)
}

func (s *ConditionSuite) TestExistsFalseMatchesAbsent(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.amount": {"$exists": false}}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestNumericStringCoercion(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.amount": {"$gt": "50"}}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{"d.amount": 100})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestRegexFailsSilentlyOnNonString(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.name": {"$regex": "^a"}}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{"d.name": 42})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsFalse)
}

func (s *ConditionSuite) TestRegexWithOptions(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.name": {"$regex": "^abc", "$options": "i"}}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{"d.name": "ABCdef"})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestUnknownOperatorIsInvalidPredicate(c *gc.C) {
	_, err := condition.ParseJSON([]byte(`{"d.amount": {"$bogus": 1}}`))
	c.Assert(err, gc.ErrorMatches, `unknown operator "\$bogus"`)
}

func (s *ConditionSuite) TestTopLevelOr(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{
		"$or": [
			{"d.f1": "value1"},
			{"d.f2": "value2"}
		]
	}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{"d.f1": "value1"})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)

	ok, err = condition.Eval(node, fakeSource{"d.f1": "nope", "d.f2": "nope"})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsFalse)
}

func (s *ConditionSuite) TestExprFieldToField(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"$expr": {"$gt": ["$d.x", "$d.y"]}}`))
	c.Assert(err, gc.IsNil)
	ok, err := condition.Eval(node, fakeSource{"d.x": 10.0, "d.y": 5.0})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestExprDateSubtract(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{
		"$expr": {
			"$gte": ["$d.dt", {"$dateSubtract": {"startDate": "$d.now", "unit": "day", "amount": 1}}]
		}
	}`))
	c.Assert(err, gc.IsNil)
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	ok, err := condition.Eval(node, fakeSource{
		"d.now": now,
		"d.dt":  now.Add(-12 * time.Hour),
	})
	c.Assert(err, gc.IsNil)
	c.Assert(ok, jc.IsTrue)
}

func (s *ConditionSuite) TestRenderMongoEquivalence(c *gc.C) {
	node, err := condition.ParseJSON([]byte(`{"d.f1": "value1", "d.f2": {"$in": ["a", "b"]}}`))
	c.Assert(err, gc.IsNil)
	filter, err := condition.RenderMongo(node)
	c.Assert(err, gc.IsNil)
	c.Assert(filter, jc.DeepEquals, bson.M{
		"$and": []bson.M{
			{"d.f1": "value1"},
			{"d.f2": bson.M{"$in": []interface{}{"a", "b"}}},
		},
	})
}
