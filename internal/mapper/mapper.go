// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mapper implements FactMapper: renaming and projecting raw
// message attributes into canonical fact attributes per a field-config,
// in the spirit of github.com/juju/charmstore's internal/v4/ingestion.go
// request-to-document mapping.
package mapper

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

var logger = loggo.GetLogger("factcounters.mapper")

// Clock is the narrow time source the mapper needs; tests can supply a
// fixed clock to make FactMapper output deterministic.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// FactMapper projects incoming messages into facts per an immutable
// field-config snapshot, per spec.md §4.2.
type FactMapper struct {
	fields []model.FieldConfigEntry
	clock  Clock
}

// New returns a FactMapper that owns fields for its lifetime.
func New(fields []model.FieldConfigEntry) *FactMapper {
	return NewWithClock(fields, realClock{})
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(fields []model.FieldConfigEntry, clock Clock) *FactMapper {
	cp := make([]model.FieldConfigEntry, len(fields))
	copy(cp, fields)
	return &FactMapper{fields: cp, clock: clock}
}

// LoadFieldConfig reads a field-config JSON document from path, per
// spec.md §6.
func LoadFieldConfig(path string) ([]model.FieldConfigEntry, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read field config %q", path)
	}
	var entries []model.FieldConfigEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errgo.Notef(err, "cannot parse field config %q", path)
	}
	return entries, nil
}

// Map renders msg into a Fact. It fails with ErrInvalidMessage when T is
// missing or not a positive integer.
func (m *FactMapper) Map(msg model.Message) (*model.Fact, error) {
	if msg.T <= 0 {
		return nil, ecounters.New(ecounters.ErrInvalidMessage, "message type must be a positive integer, got %d", msg.T)
	}
	id, err := factID(msg)
	if err != nil {
		return nil, err
	}
	fact := &model.Fact{
		Id: id,
		T:  msg.T,
		C:  m.clock.Now(),
		D:  make(map[string]interface{}),
	}
	for _, f := range m.fields {
		if !f.AppliesTo(msg.T) {
			continue
		}
		v, ok := msg.D[f.Src]
		if !ok {
			continue
		}
		fact.D[f.Dst] = v
	}
	logger.Debugf("mapped message type %d to fact %s with %d attributes", msg.T, fact.Id, len(fact.D))
	return fact, nil
}

func factID(msg model.Message) (string, error) {
	if raw, ok := msg.D["id"]; ok {
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v, nil
			}
		default:
			return "", ecounters.New(ecounters.ErrInvalidMessage, "message id must be a string, got %T", raw)
		}
	}
	return bson.NewObjectId().Hex(), nil
}
