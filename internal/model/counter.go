// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package model

import (
	"strconv"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
)

// AggregationOp names one of the supported aggregation operators for a
// counter's output attribute.
type AggregationOp string

const (
	AggSum      AggregationOp = "$sum"
	AggAvg      AggregationOp = "$avg"
	AggMin      AggregationOp = "$min"
	AggMax      AggregationOp = "$max"
	AggAddToSet AggregationOp = "$addToSet"
)

// AggregationExpr is the right-hand side of one attributes entry in a
// counter definition: an aggregation operator paired with either a
// literal constant or a "$d.path" reference into the candidate fact's
// payload.
type AggregationExpr struct {
	Op   AggregationOp
	Expr interface{}
}

// CounterDefinition is one row of the counter-config document described
// in spec.md §3/§6.
type CounterDefinition struct {
	Name                  string
	Comment               string
	IndexTypeName         string
	ComputationConditions condition.Node
	EvaluationConditions  condition.Node
	Attributes            map[string]AggregationExpr

	// FromTimeMs/ToTimeMs bound the window (ToTimeMs, FromTimeMs] of
	// offsets, in milliseconds, before the incoming fact's reference
	// timestamp. FromTimeMs > ToTimeMs; 0 on either side means
	// unbounded on that side.
	FromTimeMs int64
	ToTimeMs   int64

	MaxEvaluatedRecords int
	MaxMatchingRecords  int

	// PartIndex and PartOf are set by the split-interval pass in the
	// counter package; zero value means this definition was never
	// split. Kept as a typed key rather than encoding "name#N" into
	// Name itself (flattened only at JSON/external boundaries).
	PartIndex int
	PartOf    string
}

// IsSplitPart reports whether this definition is one part of a
// time-interval-split counter.
func (c *CounterDefinition) IsSplitPart() bool {
	return c.PartOf != ""
}

// ExternalName returns the name this counter part is addressed by in
// pipeline results: "name#N" for parts, "name" otherwise.
func (c *CounterDefinition) ExternalName() string {
	if !c.IsSplitPart() {
		return c.Name
	}
	return partName(c.PartOf, c.PartIndex)
}

func partName(base string, idx int) string {
	return base + "#" + strconv.Itoa(idx)
}
