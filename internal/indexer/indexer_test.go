// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package indexer_test

import (
	"testing"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/indexer"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

func TestPackage(t *testing.T) {
	gc.TestingT(t)
}

type IndexerSuite struct{}

var _ = gc.Suite(&IndexerSuite{})

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func baseConfig() []model.IndexConfigEntry {
	return []model.IndexConfigEntry{
		{
			FieldName:     model.FieldNameSet{"f1"},
			DateName:      "dt",
			IndexTypeName: "test_type_1",
			IndexType:     1,
			IndexValue:    model.IndexValueHash,
		},
		{
			FieldName:     model.FieldNameSet{"f2"},
			DateName:      "dt",
			IndexTypeName: "test_type_2",
			IndexType:     2,
			IndexValue:    model.IndexValueVerbatim,
		},
	}
}

func (s *IndexerSuite) TestIndexProducesOneEntryPerMatchingConfig(c *gc.C) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := indexer.New(baseConfig(), indexer.WithClock(fixedClock{now}))
	fact := &model.Fact{
		Id: "fact-1",
		T:  1,
		D: map[string]interface{}{
			"f1": "value1",
			"f2": "value2",
			"dt": now,
		},
	}
	entries := idx.Index(fact)
	c.Assert(entries, gc.HasLen, 2)
	c.Assert(entries[0].It, gc.Equals, 1)
	c.Assert(entries[1].It, gc.Equals, 2)
	c.Assert(entries[1].Id.H, gc.Equals, "2:value2")
	c.Assert(entries[0].Id.F, gc.Equals, "fact-1")
}

func (s *IndexerSuite) TestIndexIsDeterministic(c *gc.C) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := indexer.New(baseConfig(), indexer.WithClock(fixedClock{now}))
	fact := &model.Fact{Id: "fact-1", T: 1, D: map[string]interface{}{
		"f1": "value1", "f2": "value2", "dt": now,
	}}
	a := idx.Index(fact)
	b := idx.Index(fact)
	c.Assert(a, jc.DeepEquals, b)
}

func (s *IndexerSuite) TestIndexSkipsMissingField(c *gc.C) {
	idx := indexer.New(baseConfig())
	fact := &model.Fact{Id: "fact-1", T: 1, D: map[string]interface{}{
		"f1": "value1", "dt": time.Now(),
	}}
	entries := idx.Index(fact)
	c.Assert(entries, gc.HasLen, 1)
	c.Assert(entries[0].It, gc.Equals, 1)
}

func (s *IndexerSuite) TestIndexSkipsUnparseableDate(c *gc.C) {
	idx := indexer.New(baseConfig())
	fact := &model.Fact{Id: "fact-1", T: 1, D: map[string]interface{}{
		"f1": "value1", "dt": "not-a-date",
	}}
	entries := idx.Index(fact)
	c.Assert(entries, gc.HasLen, 0)
}

func (s *IndexerSuite) TestHashValueKindHash(c *gc.C) {
	idx := indexer.New(baseConfig())
	fact := &model.Fact{Id: "fact-1", T: 1, D: map[string]interface{}{
		"f1": "value1", "dt": time.Now(),
	}}
	entries := idx.Index(fact)
	c.Assert(entries, gc.HasLen, 1)
	// base64(sha1("1:value1"))
	c.Assert(entries[0].Id.H, gc.Equals, "ngLU2Y+vpz+wfsj4W5gcqoE3TVk=")
}
