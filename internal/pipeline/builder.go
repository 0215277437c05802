// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pipeline implements PipelineBuilder: translating a group of
// counter definitions riding on one index type into a store-side
// aggregation pipeline fragment, in the idiom of
// github.com/juju/charmstore's internal/charmstore/store.go use of
// (*mgo.Collection).Pipe with bson.D match/group/facet stages.
package pipeline

import (
	"time"

	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/counter"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

// Request describes the inputs needed to build one pipeline for one
// index-entry hash against a group of counters sharing that index type.
type Request struct {
	IndexTypeName   string
	DateName        string
	HashValue       string
	ExcludedFactID  string
	Now             time.Time
	Counters        []model.CounterDefinition
	IncludeFactData bool
	LookupFacts     bool
	FactCollection  string

	// GlobalMaxRecords and GlobalNotOlderThan apply the caller-supplied
	// global depth cap and "not older than" floor from
	// CounterExecutor.Evaluate (spec.md §4.6), in addition to whatever
	// the counter group's own windows and caps already imply: the floor
	// narrows the shared match stage's dt bound, and the depth cap
	// lowers the group-wide $limit. Zero value means "no global bound".
	GlobalMaxRecords  int
	GlobalNotOlderThan time.Time
}

// Build assembles the aggregation pipeline fragment described in
// spec.md §4.5: a match stage bounding by hash/excluded-id/date window,
// an optional lookup into the fact collection, a group-wide limit, and
// a facet with one sub-pipeline per counter.
func Build(req Request) ([]bson.M, error) {
	match, err := matchStage(req)
	if err != nil {
		return nil, err
	}
	stages := []bson.M{{"$match": match}}

	if req.LookupFacts && req.IncludeFactData && req.FactCollection != "" {
		stages = append(stages, bson.M{
			"$lookup": bson.M{
				"from":         req.FactCollection,
				"localField":   "_id.f",
				"foreignField": "_id",
				"as":           "fact",
			},
		}, bson.M{
			"$unwind": bson.M{"path": "$fact", "preserveNullAndEmptyArrays": true},
		})
	}

	limit := groupLimit(req.Counters)
	if req.GlobalMaxRecords > 0 && (limit == 0 || req.GlobalMaxRecords < limit) {
		limit = req.GlobalMaxRecords
	}
	if limit > 0 {
		stages = append(stages, bson.M{"$limit": limit})
	}

	facet, err := facetStage(req)
	if err != nil {
		return nil, err
	}
	stages = append(stages, bson.M{"$facet": facet})
	return stages, nil
}

// matchStage builds the shared match bounding this pipeline to
// candidate index entries for one hash: _id.h = hashValue, _id.f !=
// excluded, and dt within the widest window of the group (see
// dateRangeFilter), raised to GlobalNotOlderThan when that is later.
// Each counter's own window is AND-ed with its conditions in its facet
// sub-pipeline.
//
// evaluationConditions is deliberately NOT applied here even though it
// is store-side, because a counter group can hold sibling counters with
// different evaluationConditions; gating the shared stage on any one of
// them would silently drop candidates the other siblings still want.
// Each counter's own evaluationConditions is applied in its own facet
// sub-pipeline instead, alongside its computationConditions.
func matchStage(req Request) (bson.M, error) {
	match := bson.M{
		"it":    bson.M{"$exists": true},
		"_id.h": req.HashValue,
		"_id.f": bson.M{"$ne": req.ExcludedFactID},
	}
	dt := dateRangeFilter(req.Now, req.Counters)
	if !req.GlobalNotOlderThan.IsZero() {
		dt = tightenLowerBound(dt, req.GlobalNotOlderThan)
	}
	if dt != nil {
		match["dt"] = dt
	}
	return match, nil
}

// tightenLowerBound folds floor into dt's $gte lower bound, keeping
// whichever of the two bounds is more restrictive (later).
func tightenLowerBound(dt bson.M, floor time.Time) bson.M {
	if dt == nil {
		dt = bson.M{}
	}
	if existing, ok := dt["$gt"].(time.Time); ok && existing.After(floor) {
		return dt
	}
	if existing, ok := dt["$gte"].(time.Time); ok && existing.After(floor) {
		return dt
	}
	delete(dt, "$gt")
	dt["$gte"] = floor
	return dt
}

// dateRangeFilter computes the widest (now-fromTimeMs, now-toTimeMs]
// envelope across every counter in the group, since the shared match
// stage must not exclude a record any individual counter in the facet
// could still want; each counter's own sub-pipeline narrows further
// with its own window via dateWithinCounterWindow.
func dateRangeFilter(now time.Time, counters []model.CounterDefinition) bson.M {
	var lower, upper *time.Time
	haveLower, haveUpper := false, false
	lowerUnbounded, upperUnbounded := false, false
	for _, c := range counters {
		if c.FromTimeMs == 0 {
			lowerUnbounded = true
		} else {
			t := now.Add(-time.Duration(c.FromTimeMs) * time.Millisecond)
			if !haveLower || t.Before(*lower) {
				lower = &t
				haveLower = true
			}
		}
		if c.ToTimeMs == 0 {
			upperUnbounded = true
		} else {
			t := now.Add(-time.Duration(c.ToTimeMs) * time.Millisecond)
			if !haveUpper || t.After(*upper) {
				upper = &t
				haveUpper = true
			}
		}
	}
	haveLower = haveLower && !lowerUnbounded
	haveUpper = haveUpper && !upperUnbounded
	if !haveLower && !haveUpper {
		return nil
	}
	filter := bson.M{}
	if haveLower {
		filter["$gt"] = *lower
	}
	if haveUpper {
		filter["$lte"] = *upper
	}
	return filter
}

// groupLimit returns min(maxEvaluatedRecords) across every nonzero cap
// in the group, applied before the facet's per-counter grouping.
func groupLimit(counters []model.CounterDefinition) int {
	limit := 0
	for _, c := range counters {
		if c.MaxEvaluatedRecords <= 0 {
			continue
		}
		if limit == 0 || c.MaxEvaluatedRecords < limit {
			limit = c.MaxEvaluatedRecords
		}
	}
	return limit
}

// facetStage builds one sub-pipeline per counter: its own match for
// computationConditions/evaluationConditions/date-window, its own limit
// for maxMatchingRecords, and its own group stage for Attributes.
func facetStage(req Request) (bson.M, error) {
	facet := bson.M{}
	for _, c := range req.Counters {
		sub, err := counterSubPipeline(req.Now, c)
		if err != nil {
			return nil, err
		}
		facet[c.ExternalName()] = sub
	}
	return facet, nil
}

func counterSubPipeline(now time.Time, c model.CounterDefinition) ([]bson.M, error) {
	var stages []bson.M

	match := bson.M{}
	if win := dateWithinCounterWindow(now, c); win != nil {
		match["dt"] = win
	}
	if err := mergeRenderedCondition(match, c.ComputationConditions); err != nil {
		return nil, err
	}
	if err := mergeRenderedCondition(match, c.EvaluationConditions); err != nil {
		return nil, err
	}
	if len(match) > 0 {
		stages = append(stages, bson.M{"$match": match})
	}

	if c.MaxMatchingRecords > 0 {
		stages = append(stages, bson.M{"$limit": c.MaxMatchingRecords})
	}

	stages = append(stages, bson.M{"$group": groupStage(c)})
	return stages, nil
}

// mergeRenderedCondition renders cond to its Mongo form and folds its
// top-level keys into match. Both computationConditions and
// evaluationConditions render independently; when both are present on
// the same counter they combine as an implicit AND by sharing one
// $match object. A top-level key that is already in match (for example
// "dt", or "$and" from two multi-clause predicates) is not overwritten:
// both clauses are moved into match's "$and" list instead.
func mergeRenderedCondition(match bson.M, cond condition.Node) error {
	if cond == nil {
		return nil
	}
	rendered, err := condition.RenderMongo(cond)
	if err != nil {
		return err
	}
	for k, v := range rendered {
		existing, ok := match[k]
		if !ok {
			match[k] = v
			continue
		}
		and := toAndList(match, "$and")
		if k != "$and" {
			and = append(and, bson.M{k: existing})
			delete(match, k)
		}
		match["$and"] = append(and, bson.M{k: v})
	}
	return nil
}

func toAndList(match bson.M, key string) []bson.M {
	existing, _ := match[key].([]bson.M)
	return existing
}

func dateWithinCounterWindow(now time.Time, c model.CounterDefinition) bson.M {
	win := bson.M{}
	if c.FromTimeMs != 0 {
		win["$gt"] = now.Add(-time.Duration(c.FromTimeMs) * time.Millisecond)
	}
	if c.ToTimeMs != 0 {
		win["$lte"] = now.Add(-time.Duration(c.ToTimeMs) * time.Millisecond)
	}
	if len(win) == 0 {
		return nil
	}
	return win
}

// groupStage materializes c's Attributes map into a $group stage. $avg
// attributes are split into Σx/Σn components (see
// counter.AttrSumCountKeys) rather than computed with $avg directly, so
// that CounterProducer.Merge can recombine split parts and facet groups
// without averaging averages.
func groupStage(c model.CounterDefinition) bson.M {
	group := bson.M{"_id": nil}
	for attr, agg := range c.Attributes {
		expr := agg.Expr
		switch agg.Op {
		case model.AggAvg:
			sumKey, countKey := counter.AttrSumCountKeys(attr)
			group[sumKey] = bson.M{"$sum": expr}
			group[countKey] = bson.M{"$sum": 1}
		default:
			group[attr] = bson.M{string(agg.Op): expr}
		}
	}
	return group
}
