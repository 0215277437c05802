// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package counter

import (
	"sort"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

// SplitByIntervals implements spec.md §4.4's time-interval splitting: a
// counter whose window (ToTimeMs, FromTimeMs] strictly contains a
// boundary is replaced by a sequence of parts covering the induced
// sub-windows. A boundary equal to either endpoint does not split.
// Counters entirely below or above every boundary are returned
// unchanged (as a single-element slice).
func SplitByIntervals(def model.CounterDefinition, boundaries []int64) []model.CounterDefinition {
	inside := boundariesStrictlyInside(boundaries, def.ToTimeMs, def.FromTimeMs)
	if len(inside) == 0 {
		return []model.CounterDefinition{def}
	}
	cuts := make([]int64, 0, len(inside)+2)
	cuts = append(cuts, def.ToTimeMs)
	cuts = append(cuts, inside...)
	cuts = append(cuts, def.FromTimeMs)

	parts := make([]model.CounterDefinition, 0, len(cuts)-1)
	for i := 0; i < len(cuts)-1; i++ {
		part := def
		part.ToTimeMs = cuts[i]
		part.FromTimeMs = cuts[i+1]
		part.PartIndex = i
		part.PartOf = def.Name
		parts = append(parts, part)
	}
	return parts
}

func boundariesStrictlyInside(boundaries []int64, to, from int64) []int64 {
	var inside []int64
	for _, b := range boundaries {
		if b > to && b < from {
			inside = append(inside, b)
		}
	}
	sort.Slice(inside, func(i, j int) bool { return inside[i] < inside[j] })
	return inside
}

// AttrSumCountKeys returns the raw group-stage field names an $avg
// attribute is split into: Σx and Σn, so that averages can be
// recombined correctly across split parts and groups rather than
// averaging averages.
func AttrSumCountKeys(attr string) (sumKey, countKey string) {
	return attr + "__sum", attr + "__count"
}

// Merge recombines one or more raw per-part aggregate result maps (each
// as produced by a single pipeline group stage) into the flat,
// user-visible {attribute: value} map for def, per spec.md §4.4's
// invariant that merging is semantically equal to evaluating the whole
// window in one pipeline. A single-element parts slice is the
// non-split case and Merge degenerates to extracting the final value
// from raw components (e.g. turning avg's __sum/__count pair into a
// quotient).
func Merge(def model.CounterDefinition, parts []map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(def.Attributes))
	for attr, agg := range def.Attributes {
		switch agg.Op {
		case model.AggSum:
			result[attr] = sumAcross(parts, attr)
		case model.AggMin:
			result[attr] = extremeAcross(parts, attr, true)
		case model.AggMax:
			result[attr] = extremeAcross(parts, attr, false)
		case model.AggAddToSet:
			result[attr] = unionAcross(parts, attr)
		case model.AggAvg:
			sumKey, countKey := AttrSumCountKeys(attr)
			sum := sumAcross(parts, sumKey)
			count := sumAcross(parts, countKey)
			if count == 0 {
				result[attr] = nil
			} else {
				result[attr] = sum / count
			}
		}
	}
	return result
}

func sumAcross(parts []map[string]interface{}, key string) float64 {
	var total float64
	for _, p := range parts {
		total += toFloat(p[key])
	}
	return total
}

func extremeAcross(parts []map[string]interface{}, key string, wantMin bool) interface{} {
	var best interface{}
	haveBest := false
	for _, p := range parts {
		v, ok := p[key]
		if !ok || v == nil {
			continue
		}
		if !haveBest {
			best = v
			haveBest = true
			continue
		}
		if wantMin && toFloat(v) < toFloat(best) {
			best = v
		}
		if !wantMin && toFloat(v) > toFloat(best) {
			best = v
		}
	}
	return best
}

func unionAcross(parts []map[string]interface{}, key string) []interface{} {
	seen := make(map[interface{}]bool)
	var out []interface{}
	for _, p := range parts {
		set, _ := p[key].([]interface{})
		for _, v := range set {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
