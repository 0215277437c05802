// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor

import (
	"testing"

	gc "gopkg.in/check.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

func TestPackage(t *testing.T) {
	gc.TestingT(t)
}

type GroupingSuite struct{}

var _ = gc.Suite(&GroupingSuite{})

func counterWithDepth(name string, maxEvaluated int) model.CounterDefinition {
	return model.CounterDefinition{Name: name, IndexTypeName: "t1", MaxEvaluatedRecords: maxEvaluated}
}

func (s *GroupingSuite) TestNoThresholdsGiveOneUnboundedGroup(c *gc.C) {
	counters := []model.CounterDefinition{
		counterWithDepth("a", 1000),
		counterWithDepth("b", 2000),
		counterWithDepth("c", 0),
	}
	groups := groupCounters("t1", counters, nil)
	c.Assert(groups, gc.HasLen, 1)
	c.Assert(groups[0].Label, gc.Equals, "t1")
	c.Assert(groups[0].Counters, gc.HasLen, 3)
}

func (s *GroupingSuite) TestThresholdSplitsIntoMultipleGroups(c *gc.C) {
	// For counters with maxEvaluatedRecords >= 1000, no more than 2
	// may share a group.
	thresholds := []model.CounterCountThreshold{{Limit: 1000, Count: 2}}
	counters := []model.CounterDefinition{
		counterWithDepth("a", 1000),
		counterWithDepth("b", 1000),
		counterWithDepth("c", 1000),
	}
	groups := groupCounters("t1", counters, thresholds)
	c.Assert(groups, gc.HasLen, 2)
	c.Assert(groups[0].Counters, gc.HasLen, 2)
	c.Assert(groups[1].Counters, gc.HasLen, 1)
	c.Assert(groups[0].Label, gc.Equals, "t1#0")
	c.Assert(groups[1].Label, gc.Equals, "t1#1")
}

func (s *GroupingSuite) TestCountersBelowLimitDoNotTriggerCap(c *gc.C) {
	thresholds := []model.CounterCountThreshold{{Limit: 1000, Count: 2}}
	counters := []model.CounterDefinition{
		counterWithDepth("a", 100),
		counterWithDepth("b", 100),
		counterWithDepth("c", 100),
	}
	groups := groupCounters("t1", counters, thresholds)
	c.Assert(groups, gc.HasLen, 1)
	c.Assert(groups[0].Counters, gc.HasLen, 3)
}

func (s *GroupingSuite) TestTightestThresholdWins(c *gc.C) {
	thresholds := []model.CounterCountThreshold{
		{Limit: 100, Count: 5},
		{Limit: 1000, Count: 1},
	}
	counters := []model.CounterDefinition{
		counterWithDepth("a", 1000),
		counterWithDepth("b", 1000),
	}
	groups := groupCounters("t1", counters, thresholds)
	// member "a" alone already satisfies both thresholds; the tightest
	// (count=1, from the limit=1000 bucket) caps the group at 1.
	c.Assert(groups, gc.HasLen, 2)
	c.Assert(groups[0].Counters, gc.HasLen, 1)
	c.Assert(groups[1].Counters, gc.HasLen, 1)
}

func (s *GroupingSuite) TestEmptyInputProducesNoGroups(c *gc.C) {
	groups := groupCounters("t1", nil, nil)
	c.Assert(groups, gc.HasLen, 0)
}
