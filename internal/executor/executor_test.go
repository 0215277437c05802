// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor_test

import (
	"context"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/counter"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/executor"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

type ExecutorSuite struct{}

var _ = gc.Suite(&ExecutorSuite{})

type fakeAggregator struct {
	byCounter map[string]bson.M
	err       error
	delay     time.Duration
}

func (f *fakeAggregator) RunAggregation(ctx context.Context, stages []bson.M) (executor.FacetResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	result := make(executor.FacetResult, len(f.byCounter))
	for name, doc := range f.byCounter {
		result[name] = []bson.M{doc}
	}
	return result, nil
}

func sumCounter(name string) model.CounterDefinition {
	return model.CounterDefinition{
		Name:          name,
		IndexTypeName: "t1",
		Attributes: map[string]model.AggregationExpr{
			"total": {Op: model.AggSum, Expr: "$d.amount"},
		},
		FromTimeMs: 60000,
	}
}

func (s *ExecutorSuite) TestEvaluateMergesFacetResultsWithinGroup(c *gc.C) {
	p, err := counter.New([]model.CounterDefinition{sumCounter("c1"), sumCounter("c2")}, nil, nil)
	c.Assert(err, gc.IsNil)

	store := &fakeAggregator{byCounter: map[string]bson.M{
		"c1": {"total": 10.0},
		"c2": {"total": 20.0},
	}}
	idx := []model.IndexConfigEntry{{IndexTypeName: "t1", DateName: "dt"}}
	ex := executor.New(store, p, idx, executor.Config{WorkerPoolSize: 2})

	indexes := []model.HashedIndex{{HashValue: "h1", Index: idx[0]}}
	fact := &model.Fact{Id: "excluded-fact", C: time.Now()}
	result, err := ex.Evaluate(context.Background(), fact, indexes, 0, time.Time{})
	c.Assert(err, gc.IsNil)
	c.Assert(result.Counters["c1"]["total"], gc.Equals, 10.0)
	c.Assert(result.Counters["c2"]["total"], gc.Equals, 20.0)
	c.Assert(result.Groups, gc.HasLen, 1)
	c.Assert(result.Groups[0].State, gc.Equals, "completed")
}

func (s *ExecutorSuite) TestEvaluateReportsEmptyFacetAsZero(c *gc.C) {
	p, err := counter.New([]model.CounterDefinition{sumCounter("c1")}, nil, nil)
	c.Assert(err, gc.IsNil)

	store := &fakeAggregator{byCounter: map[string]bson.M{}}
	idx := []model.IndexConfigEntry{{IndexTypeName: "t1", DateName: "dt"}}
	ex := executor.New(store, p, idx, executor.Config{WorkerPoolSize: 1})

	indexes := []model.HashedIndex{{HashValue: "h1", Index: idx[0]}}
	fact := &model.Fact{Id: "excluded-fact", C: time.Now()}
	result, err := ex.Evaluate(context.Background(), fact, indexes, 0, time.Time{})
	c.Assert(err, gc.IsNil)
	c.Assert(result.Counters["c1"]["total"], gc.Equals, 0.0)
}

func (s *ExecutorSuite) TestEvaluateReportsQueryFailureWithoutFailingCall(c *gc.C) {
	p, err := counter.New([]model.CounterDefinition{sumCounter("c1")}, nil, nil)
	c.Assert(err, gc.IsNil)

	store := &fakeAggregator{err: context.DeadlineExceeded}
	idx := []model.IndexConfigEntry{{IndexTypeName: "t1", DateName: "dt"}}
	ex := executor.New(store, p, idx, executor.Config{WorkerPoolSize: 1, QueryTimeout: 5 * time.Millisecond})

	indexes := []model.HashedIndex{{HashValue: "h1", Index: idx[0]}}
	fact := &model.Fact{Id: "excluded-fact", C: time.Now()}
	result, err := ex.Evaluate(context.Background(), fact, indexes, 0, time.Time{})
	c.Assert(err, gc.IsNil)
	c.Assert(result.Groups, gc.HasLen, 1)
	c.Assert(result.Groups[0].State == "failed" || result.Groups[0].State == "timed_out", jc.IsTrue)
}

func (s *ExecutorSuite) TestEvaluateSkipsIndexTypesWithNoApplicableCounters(c *gc.C) {
	p, err := counter.New([]model.CounterDefinition{sumCounter("c1")}, nil, nil)
	c.Assert(err, gc.IsNil)

	store := &fakeAggregator{byCounter: map[string]bson.M{"c1": {"total": 5.0}}}
	idx := []model.IndexConfigEntry{
		{IndexTypeName: "t1", DateName: "dt"},
		{IndexTypeName: "unused", DateName: "dt"},
	}
	ex := executor.New(store, p, idx, executor.Config{WorkerPoolSize: 2})

	indexes := []model.HashedIndex{
		{HashValue: "h1", Index: idx[0]},
		{HashValue: "h2", Index: idx[1]},
	}
	fact := &model.Fact{Id: "excluded-fact", C: time.Now()}
	result, err := ex.Evaluate(context.Background(), fact, indexes, 0, time.Time{})
	c.Assert(err, gc.IsNil)
	c.Assert(result.Groups, gc.HasLen, 1)
	c.Assert(result.Counters["c1"]["total"], gc.Equals, 5.0)
}
