// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package indexer

import (
	"encoding/json"
	"io/ioutil"
	"regexp"

	"gopkg.in/errgo.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

var canonicalFieldName = regexp.MustCompile(`^f([1-9]|1[0-9]|2[0-3])$`)

// LoadIndexConfig reads and validates an index-config JSON document from
// path, per spec.md §3/§6.
func LoadIndexConfig(path string) ([]model.IndexConfigEntry, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read index config %q", path)
	}
	var entries []model.IndexConfigEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errgo.Notef(err, "cannot parse index config %q", path)
	}
	if err := ValidateIndexConfig(entries); err != nil {
		return nil, errgo.Mask(err)
	}
	return entries, nil
}

// ValidateIndexConfig checks the collection-level invariants of spec.md
// §3: no duplicate (fieldName, indexTypeName) pair, no duplicate
// indexType, and each entry's own structural validity.
func ValidateIndexConfig(entries []model.IndexConfigEntry) error {
	seenType := make(map[int]bool, len(entries))
	seenPair := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		if err := e.Validate(); err != nil {
			return err
		}
		if seenType[e.IndexType] {
			return ecounters.New(ecounters.ErrConfigInvalid, "duplicate indexType %d", e.IndexType)
		}
		seenType[e.IndexType] = true
		for _, fn := range e.FieldName {
			if isCanonicalSlot(fn) && !canonicalFieldName.MatchString(fn) {
				return ecounters.New(ecounters.ErrConfigInvalid, "invalid canonical field name %q", fn)
			}
			key := fn + "\x00" + e.IndexTypeName
			if seenPair[key] {
				return ecounters.New(ecounters.ErrConfigInvalid, "duplicate (fieldName, indexTypeName) pair %q/%q", fn, e.IndexTypeName)
			}
			seenPair[key] = true
		}
	}
	return nil
}

// isCanonicalSlot reports whether fn looks like it is meant to be one of
// the canonical f1..f23 slots (as opposed to a well known named
// attribute such as "amount" or "dt"), so that a typo in a canonical
// slot name ("f24", "fX") is caught at load time without rejecting
// legitimately named attributes.
func isCanonicalSlot(fn string) bool {
	if len(fn) < 2 || fn[0] != 'f' {
		return false
	}
	for _, r := range fn[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
