// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package model holds the in-database representation of the facts,
// index entries and configuration rows that the rest of the engine
// operates on.
package model

import (
	"strings"
	"time"
)

// Fact holds a single typed event record as persisted by the store.
// Attribute names in D are constrained by the field-config that produced
// the fact (see the mapper package); canonical names are f1..f23 plus a
// handful of well known attributes such as amount and dt.
type Fact struct {
	// Id holds the fact's globally unique identity.
	Id string `bson:"_id"`

	// T holds the fact type, a positive integer assigned by the
	// upstream message generator.
	T int `bson:"t"`

	// C holds the time the fact was created (assigned by FactMapper,
	// not copied from the incoming message).
	C time.Time `bson:"c"`

	// D holds the fact payload: a mapping from canonical attribute
	// name to a scalar value, a nested value, or a timestamp.
	D map[string]interface{} `bson:"d"`
}

// Get returns the value stored under name in the fact's payload and
// whether it was present. A present-but-nil value is reported as
// present, matching the spec's "missing is absent, not null" rule.
func (f *Fact) Get(name string) (interface{}, bool) {
	if f == nil || f.D == nil {
		return nil, false
	}
	v, ok := f.D[name]
	return v, ok
}

// Attribute implements condition.Source, resolving dotted paths of the
// form "d.x" against the payload and "t"/"c"/"id" against the fact's
// own identity fields.
func (f *Fact) Attribute(path string) (interface{}, bool) {
	if f == nil {
		return nil, false
	}
	switch path {
	case "id":
		return f.Id, true
	case "t":
		return f.T, true
	case "c":
		return f.C, true
	}
	if rest, ok := strings.CutPrefix(path, "d."); ok {
		return f.Get(rest)
	}
	return nil, false
}
