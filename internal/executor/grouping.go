// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor

import (
	"fmt"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

// group is one bounded batch of counters sharing a single pipeline
// request, labeled with the indexTypeName it rides on (with a "#N"
// suffix when more than one group was needed for that index type).
type group struct {
	Label         string
	IndexTypeName string
	Counters      []model.CounterDefinition
}

// groupCounters partitions counters (already filtered to one
// indexTypeName) into pipeline-sized batches per spec.md §4.6's
// staircase rule: a threshold {limit, count} caps a group at count
// members whenever any member's MaxEvaluatedRecords >= limit. A group's
// effective cap is the tightest (smallest) count implied by any
// threshold applicable to any of its current members; a group with no
// applicable threshold at all is left unbounded.
func groupCounters(indexTypeName string, counters []model.CounterDefinition, thresholds []model.CounterCountThreshold) []group {
	if len(counters) == 0 {
		return nil
	}
	var groups []group
	var current []model.CounterDefinition
	for _, c := range counters {
		tentative := append(append([]model.CounterDefinition{}, current...), c)
		if len(current) > 0 {
			if cap, bounded := tightestCap(tentative, thresholds); bounded && len(tentative) > cap {
				groups = append(groups, group{IndexTypeName: indexTypeName, Counters: current})
				current = []model.CounterDefinition{c}
				continue
			}
		}
		current = tentative
	}
	if len(current) > 0 {
		groups = append(groups, group{IndexTypeName: indexTypeName, Counters: current})
	}
	labelGroups(groups)
	return groups
}

// tightestCap computes the effective group-size cap for members, per
// the staircase rule: for each member, the smallest Count among
// thresholds whose Limit is at or below the member's
// MaxEvaluatedRecords; the group cap is the smallest of those per-member
// caps. bounded is false when no threshold applies to any member.
func tightestCap(members []model.CounterDefinition, thresholds []model.CounterCountThreshold) (cap int, bounded bool) {
	for _, m := range members {
		memberCap, memberBounded := -1, false
		for _, t := range thresholds {
			if m.MaxEvaluatedRecords < t.Limit {
				continue
			}
			if !memberBounded || t.Count < memberCap {
				memberCap = t.Count
				memberBounded = true
			}
		}
		if !memberBounded {
			continue
		}
		if !bounded || memberCap < cap {
			cap = memberCap
			bounded = true
		}
	}
	return cap, bounded
}

func labelGroups(groups []group) {
	if len(groups) == 1 {
		groups[0].Label = groups[0].IndexTypeName
		return
	}
	for i := range groups {
		groups[i].Label = fmt.Sprintf("%s#%d", groups[i].IndexTypeName, i)
	}
}
