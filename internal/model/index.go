// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package model

import (
	"encoding/json"
	"time"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
)

// IndexValueKind selects whether an IndexConfigEntry hashes its
// attribute value or stores it verbatim.
type IndexValueKind int

const (
	// IndexValueHash stores base64(sha1("<indexType>:<value>")) as the
	// index entry's hash component.
	IndexValueHash IndexValueKind = 1
	// IndexValueVerbatim stores "<indexType>:<stringified value>"
	// unhashed. Still called IndexValue in the wire config (2) to match
	// spec.md's HASH=1/VALUE=2 enumeration.
	IndexValueVerbatim IndexValueKind = 2
)

// CounterCountThreshold is one step of the staircase that
// CounterExecutor's grouping logic uses to bound per-pipeline work: for
// counters whose MaxEvaluatedRecords is at least Limit, no more than
// Count of them may share a single aggregation group.
type CounterCountThreshold struct {
	Limit int `json:"limit" bson:"limit"`
	Count int `json:"count" bson:"count"`
}

// IndexConfigEntry is one row of the index-config document described in
// spec.md §6. FieldName may be a single canonical attribute name or a
// list of alternatives, any one of which (if present and non-null in a
// fact's payload) causes an index entry to be produced.
type IndexConfigEntry struct {
	FieldName             FieldNameSet
	DateName              string
	IndexTypeName         string
	IndexType             int
	IndexValue            IndexValueKind
	Comment               string
	ComputationConditions condition.Node
	Limit                 int
	CountersCount         []CounterCountThreshold
}

// indexConfigEntryWire is the JSON wire shape of IndexConfigEntry;
// ComputationConditions arrives as a raw predicate tree that needs the
// condition package's parser rather than struct-tag unmarshaling.
type indexConfigEntryWire struct {
	FieldName             FieldNameSet            `json:"fieldName"`
	DateName              string                  `json:"dateName"`
	IndexTypeName         string                  `json:"indexTypeName"`
	IndexType             int                     `json:"indexType"`
	IndexValue            IndexValueKind          `json:"indexValue"`
	Comment               string                  `json:"comment,omitempty"`
	ComputationConditions json.RawMessage         `json:"computationConditions,omitempty"`
	Limit                 int                     `json:"limit,omitempty"`
	CountersCount         []CounterCountThreshold `json:"countersCount,omitempty"`
}

// UnmarshalJSON decodes an index-config entry, parsing
// ComputationConditions through condition.ParseJSON.
func (e *IndexConfigEntry) UnmarshalJSON(data []byte) error {
	var wire indexConfigEntryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	cond, err := condition.ParseJSON(wire.ComputationConditions)
	if err != nil {
		return err
	}
	e.FieldName = wire.FieldName
	e.DateName = wire.DateName
	e.IndexTypeName = wire.IndexTypeName
	e.IndexType = wire.IndexType
	e.IndexValue = wire.IndexValue
	e.Comment = wire.Comment
	e.ComputationConditions = cond
	e.Limit = wire.Limit
	e.CountersCount = wire.CountersCount
	return nil
}

// Validate checks the structural constraints of spec.md §3: fieldName
// slots of the canonical form f{1..23} are not enforced against an
// external slot list here (that lives in the mapper's field-config), but
// DateName, IndexTypeName and IndexType must be present.
func (e *IndexConfigEntry) Validate() error {
	if len(e.FieldName) == 0 {
		return ecounters.New(ecounters.ErrConfigInvalid, "index config %q: fieldName is required", e.IndexTypeName)
	}
	if e.DateName == "" {
		return ecounters.New(ecounters.ErrConfigInvalid, "index config %q: dateName is required", e.IndexTypeName)
	}
	if e.IndexTypeName == "" {
		return ecounters.New(ecounters.ErrConfigInvalid, "index config: indexTypeName is required")
	}
	if e.IndexType <= 0 {
		return ecounters.New(ecounters.ErrConfigInvalid, "index config %q: indexType must be positive", e.IndexTypeName)
	}
	if e.IndexValue != IndexValueHash && e.IndexValue != IndexValueVerbatim {
		return ecounters.New(ecounters.ErrConfigInvalid, "index config %q: indexValue must be 1 (hash) or 2 (verbatim)", e.IndexTypeName)
	}
	return nil
}

// FieldNameSet decodes either a bare string or a JSON array of strings
// into a normalized slice, matching spec.md's `fieldName: string|[string]`
// shape.
type FieldNameSet []string

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (s *FieldNameSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = FieldNameSet{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = FieldNameSet(many)
	return nil
}

// IndexEntry is the transient, per-fact derived record described in
// spec.md §3. Its composite identity is (H, F); re-insertion of an
// identical entry must not duplicate a row in the store.
type IndexEntry struct {
	Id IndexEntryId `bson:"_id"`

	// Dt holds the reference timestamp drawn from the attribute named
	// by the owning IndexConfigEntry's DateName.
	Dt time.Time `bson:"dt"`

	// C holds the insertion time.
	C time.Time `bson:"c"`

	// It holds the numeric index type that produced this entry.
	It int `bson:"it"`

	// V holds the stringified attribute value that was hashed (or
	// stored verbatim) into Id.H.
	V string `bson:"v"`

	// T holds the fact type of the fact this entry was derived from.
	T int `bson:"t"`

	// D optionally embeds the fact's payload, when the IncludeFactData
	// knob denormalizes it into the index to avoid a lookup join.
	D map[string]interface{} `bson:"d,omitempty"`
}

// IndexEntryId is the composite identity of an IndexEntry: the hash of
// the indexed value, and the id of the fact it was derived from.
type IndexEntryId struct {
	H string `bson:"h"`
	F string `bson:"f"`
}

// HashedIndex pairs a hash value produced for a fact with the
// IndexConfigEntry that produced it, for later use by the counter
// planner and pipeline builder.
type HashedIndex struct {
	HashValue string
	Index     IndexConfigEntry
}
