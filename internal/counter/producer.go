// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package counter

import (
	"github.com/juju/loggo"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

var logger = loggo.GetLogger("factcounters.counter")

// Producer owns an immutable, already-split counter-config snapshot for
// its lifetime, per spec.md §4.4.
type Producer struct {
	originals    map[string]model.CounterDefinition   // by base Name, pre-split
	byIndexType  map[string][]model.CounterDefinition // post-split, grouped by IndexTypeName
	byExternal   map[string]model.CounterDefinition   // post-split, by ExternalName()
	allowedNames map[string]bool                      // nil means "all allowed"
}

// New builds a Producer from pre-split counter definitions, applying
// splitIntervals (spec.md §4.4) and an optional allowedNames whitelist
// (spec.md §6 allowedCountersNames; nil/empty means all counters apply).
func New(defs []model.CounterDefinition, splitIntervals []int64, allowedNames []string) (*Producer, error) {
	p := &Producer{
		originals:   make(map[string]model.CounterDefinition, len(defs)),
		byIndexType: make(map[string][]model.CounterDefinition),
		byExternal:  make(map[string]model.CounterDefinition),
	}
	if len(allowedNames) > 0 {
		p.allowedNames = make(map[string]bool, len(allowedNames))
		for _, n := range allowedNames {
			p.allowedNames[n] = true
		}
	}
	for _, def := range defs {
		if p.allowedNames != nil && !p.allowedNames[def.Name] {
			continue
		}
		if _, dup := p.originals[def.Name]; dup {
			return nil, ecounters.New(ecounters.ErrConfigInvalid, "duplicate counter name %q", def.Name)
		}
		p.originals[def.Name] = def
		for _, part := range SplitByIntervals(def, splitIntervals) {
			p.byIndexType[part.IndexTypeName] = append(p.byIndexType[part.IndexTypeName], part)
			p.byExternal[part.ExternalName()] = part
		}
	}
	return p, nil
}

// CountersForIndexType returns the already-split counter definitions
// that ride on the given index type.
func (p *Producer) CountersForIndexType(indexTypeName string) []model.CounterDefinition {
	return p.byIndexType[indexTypeName]
}

// GetCounterDescription returns the (possibly split-part) counter
// definition addressed by its external name ("name" or "name#N").
func (p *Producer) GetCounterDescription(name string) (model.CounterDefinition, bool) {
	def, ok := p.byExternal[name]
	return def, ok
}

// Original returns the pre-split counter definition by its base name.
func (p *Producer) Original(name string) (model.CounterDefinition, bool) {
	def, ok := p.originals[name]
	return def, ok
}

// Names returns every base counter name known to the producer.
func (p *Producer) Names() []string {
	names := make([]string, 0, len(p.originals))
	for n := range p.originals {
		names = append(names, n)
	}
	return names
}

// Merge re-assembles a set of raw per-part group results, keyed by
// external counter name, into a flat {counterName: {attr: value}} map,
// grouping split parts back under their base counter name per spec.md
// §4.4's merge helper.
func (p *Producer) Merge(rawByExternalName map[string]map[string]interface{}) map[string]map[string]interface{} {
	partsByBase := make(map[string][]map[string]interface{})
	for external, raw := range rawByExternalName {
		def, ok := p.byExternal[external]
		if !ok {
			logger.Warningf("merge: unknown counter part %q, dropping", external)
			continue
		}
		base := def.Name
		if def.IsSplitPart() {
			base = def.PartOf
		}
		partsByBase[base] = append(partsByBase[base], raw)
	}
	result := make(map[string]map[string]interface{}, len(partsByBase))
	for base, parts := range partsByBase {
		original, ok := p.originals[base]
		if !ok {
			continue
		}
		result[base] = Merge(original, parts)
	}
	return result
}
