// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package counter implements CounterProducer: loading and validating
// counter configs, decomposing them along time-interval boundaries, and
// merging split-counter parts back into user-visible values. Grounded on
// github.com/juju/charmstore's internal/charmstore/stats.go declarative
// counter/key handling and config/config.go's load-then-validate shape.
package counter

import (
	"encoding/json"
	"io/ioutil"

	"gopkg.in/errgo.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

// wireCounterDefinition is the JSON wire shape of a counter-config row
// described in spec.md §6.
type wireCounterDefinition struct {
	Name                  string                     `json:"name"`
	Comment               string                     `json:"comment,omitempty"`
	IndexTypeName         string                     `json:"indexTypeName"`
	ComputationConditions json.RawMessage            `json:"computationConditions,omitempty"`
	EvaluationConditions  json.RawMessage            `json:"evaluationConditions,omitempty"`
	Attributes            map[string]wireAggregation `json:"attributes"`
	FromTimeMs            int64                      `json:"fromTimeMs,omitempty"`
	ToTimeMs              int64                      `json:"toTimeMs,omitempty"`
	MaxEvaluatedRecords   int                        `json:"maxEvaluatedRecords,omitempty"`
	MaxMatchingRecords    int                        `json:"maxMatchingRecords,omitempty"`
}

// wireAggregation decodes a single-key object such as {"$sum": "$d.amount"}.
type wireAggregation map[string]interface{}

// LoadCounterConfig reads a counter-config JSON document from path.
func LoadCounterConfig(path string) ([]model.CounterDefinition, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read counter config %q", path)
	}
	return ParseCounterConfig(data)
}

// ParseCounterConfig decodes a counter-config JSON document from raw
// bytes, returning fully validated, pre-split CounterDefinitions.
func ParseCounterConfig(data []byte) ([]model.CounterDefinition, error) {
	var wire []wireCounterDefinition
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errgo.Notef(err, "cannot parse counter config")
	}
	defs := make([]model.CounterDefinition, 0, len(wire))
	seen := make(map[string]bool, len(wire))
	for _, w := range wire {
		def, err := w.toDefinition()
		if err != nil {
			return nil, err
		}
		if seen[def.Name] {
			return nil, ecounters.New(ecounters.ErrConfigInvalid, "duplicate counter name %q", def.Name)
		}
		seen[def.Name] = true
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (w wireCounterDefinition) toDefinition() (model.CounterDefinition, error) {
	compCond, err := condition.ParseJSON(w.ComputationConditions)
	if err != nil {
		return model.CounterDefinition{}, errgo.Notef(err, "counter %q: invalid computationConditions", w.Name)
	}
	evalCond, err := condition.ParseJSON(w.EvaluationConditions)
	if err != nil {
		return model.CounterDefinition{}, errgo.Notef(err, "counter %q: invalid evaluationConditions", w.Name)
	}
	attrs := make(map[string]model.AggregationExpr, len(w.Attributes))
	for name, agg := range w.Attributes {
		if len(agg) != 1 {
			return model.CounterDefinition{}, ecounters.New(ecounters.ErrConfigInvalid, "counter %q: attribute %q must have exactly one operator", w.Name, name)
		}
		for op, expr := range agg {
			switch model.AggregationOp(op) {
			case model.AggSum, model.AggAvg, model.AggMin, model.AggMax, model.AggAddToSet:
				attrs[name] = model.AggregationExpr{Op: model.AggregationOp(op), Expr: expr}
			default:
				return model.CounterDefinition{}, ecounters.New(ecounters.ErrConfigInvalid, "counter %q: unknown aggregation operator %q", w.Name, op)
			}
		}
	}
	return model.CounterDefinition{
		Name:                  w.Name,
		Comment:               w.Comment,
		IndexTypeName:         w.IndexTypeName,
		ComputationConditions: compCond,
		EvaluationConditions:  evalCond,
		Attributes:            attrs,
		FromTimeMs:            w.FromTimeMs,
		ToTimeMs:              w.ToTimeMs,
		MaxEvaluatedRecords:   w.MaxEvaluatedRecords,
		MaxMatchingRecords:    w.MaxMatchingRecords,
	}, nil
}

func validateDefinition(def model.CounterDefinition) error {
	if def.Name == "" {
		return ecounters.New(ecounters.ErrConfigInvalid, "counter name is required")
	}
	if def.IndexTypeName == "" {
		return ecounters.New(ecounters.ErrConfigInvalid, "counter %q: indexTypeName is required", def.Name)
	}
	if len(def.Attributes) == 0 {
		return ecounters.New(ecounters.ErrConfigInvalid, "counter %q: attributes must be non-empty", def.Name)
	}
	if def.FromTimeMs < 0 || def.ToTimeMs < 0 {
		return ecounters.New(ecounters.ErrConfigInvalid, "counter %q: fromTimeMs/toTimeMs must be non-negative", def.Name)
	}
	if def.FromTimeMs != 0 && def.ToTimeMs != 0 && def.FromTimeMs <= def.ToTimeMs {
		return ecounters.New(ecounters.ErrConfigInvalid, "counter %q: fromTimeMs (%d) must be greater than toTimeMs (%d)", def.Name, def.FromTimeMs, def.ToTimeMs)
	}
	if def.MaxEvaluatedRecords < 0 || def.MaxMatchingRecords < 0 {
		return ecounters.New(ecounters.ErrConfigInvalid, "counter %q: maxEvaluatedRecords/maxMatchingRecords must be non-negative", def.Name)
	}
	return nil
}
