// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package indexer implements FactIndexer: the projection from a fact
// into a set of secondary-index entries, hashed per a declarative
// index-config, mirroring the key-hashing approach of
// github.com/juju/charmstore's internal/charmstore/stats.go statsKey
// and the document shape of internal/mongodoc/doc.go.
package indexer

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/juju/loggo"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

var logger = loggo.GetLogger("factcounters.indexer")

// Clock is the narrow time source used to stamp IndexEntry.C.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// FactIndexer produces index entries from facts per an immutable
// index-config snapshot.
type FactIndexer struct {
	config          []model.IndexConfigEntry
	includeFactData bool
	clock           Clock
}

// Option configures a FactIndexer at construction time.
type Option func(*FactIndexer)

// WithIncludeFactData denormalizes the fact payload into each produced
// IndexEntry's D field (the includeFactDataToIndex knob of spec.md §6).
func WithIncludeFactData(include bool) Option {
	return func(fi *FactIndexer) { fi.includeFactData = include }
}

// WithClock overrides the indexer's clock, for deterministic tests.
func WithClock(clock Clock) Option {
	return func(fi *FactIndexer) { fi.clock = clock }
}

// New returns a FactIndexer that owns config for its lifetime.
func New(config []model.IndexConfigEntry, opts ...Option) *FactIndexer {
	cp := make([]model.IndexConfigEntry, len(config))
	copy(cp, config)
	fi := &FactIndexer{config: cp, clock: realClock{}}
	for _, opt := range opts {
		opt(fi)
	}
	return fi
}

// Config returns the indexer's immutable index-config snapshot.
func (fi *FactIndexer) Config() []model.IndexConfigEntry {
	return fi.config
}

// ConfigFor returns the IndexConfigEntry with the given indexTypeName,
// if any.
func (fi *FactIndexer) ConfigFor(indexTypeName string) (model.IndexConfigEntry, bool) {
	for _, c := range fi.config {
		if c.IndexTypeName == indexTypeName {
			return c, true
		}
	}
	return model.IndexConfigEntry{}, false
}

// Index produces the set of index entries for fact, per spec.md §4.3.
// Apart from each entry's C, which is stamped from the indexer's Clock,
// it is a pure function of (fact, config): output ordering is stable,
// following config declaration order and then FieldName list order.
func (fi *FactIndexer) Index(fact *model.Fact) []model.IndexEntry {
	now := fi.clock.Now()
	var entries []model.IndexEntry
	for _, cfg := range fi.config {
		for _, fieldName := range cfg.FieldName {
			value, ok := fact.Get(fieldName)
			if !ok || value == nil {
				continue
			}
			if cfg.ComputationConditions != nil {
				matched, err := condition.Eval(cfg.ComputationConditions, fact)
				if err != nil {
					logger.Warningf("fact %s: skipping index %s: %v", fact.Id, cfg.IndexTypeName, err)
					continue
				}
				if !matched {
					continue
				}
			}
			dt, ok := resolveDate(fact, cfg.DateName)
			if !ok {
				logger.Warningf("fact %s: skipping index %s: cannot parse dateName %q", fact.Id, cfg.IndexTypeName, cfg.DateName)
				continue
			}
			entry := model.IndexEntry{
				Id: model.IndexEntryId{
					H: hashValue(cfg.IndexType, value, cfg.IndexValue),
					F: fact.Id,
				},
				Dt: dt,
				C:  now,
				It: cfg.IndexType,
				V:  stringify(value),
				T:  fact.T,
			}
			if fi.includeFactData {
				entry.D = fact.D
			}
			entries = append(entries, entry)
		}
	}
	return entries
}

// HashValuesForSearch pairs each index entry's hash with the
// IndexConfigEntry that produced it, for the counter planner.
func (fi *FactIndexer) HashValuesForSearch(entries []model.IndexEntry) []model.HashedIndex {
	result := make([]model.HashedIndex, 0, len(entries))
	for _, e := range entries {
		cfg, ok := fi.configForType(e.It)
		if !ok {
			continue
		}
		result = append(result, model.HashedIndex{HashValue: e.Id.H, Index: cfg})
	}
	return result
}

func (fi *FactIndexer) configForType(it int) (model.IndexConfigEntry, bool) {
	for _, c := range fi.config {
		if c.IndexType == it {
			return c, true
		}
	}
	return model.IndexConfigEntry{}, false
}

// hashValue implements spec.md §4.3's h computation.
func hashValue(indexType int, value interface{}, kind model.IndexValueKind) string {
	s := stringify(value)
	raw := fmt.Sprintf("%d:%s", indexType, s)
	if kind == model.IndexValueVerbatim {
		return raw
	}
	sum := sha1.Sum([]byte(raw))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// resolveDate accepts a native time.Time, a numeric epoch (milliseconds)
// or an ISO-8601 string, per spec.md §4.3.
func resolveDate(fact *model.Fact, dateName string) (time.Time, bool) {
	value, ok := fact.Get(dateName)
	if !ok {
		return time.Time{}, false
	}
	switch v := value.(type) {
	case time.Time:
		return v, true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
