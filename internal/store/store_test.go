// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// This file covers only the pure document-shape conversions that need no
// connection; no test in this package exercises Store against a live
// MongoDB.
package store

import (
	"testing"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

func TestPackage(t *testing.T) {
	gc.TestingT(t)
}

type StoreSuite struct{}

var _ = gc.Suite(&StoreSuite{})

func (s *StoreSuite) TestFactDocRoundTrip(c *gc.C) {
	f := model.Fact{
		Id: "fact-1",
		T:  3,
		C:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		D:  map[string]interface{}{"amount": 42.0},
	}
	doc := toFactDoc(f)
	c.Assert(doc.Id, gc.Equals, f.Id)
	back := fromFactDoc(doc)
	c.Assert(back, jc.DeepEquals, f)
}
