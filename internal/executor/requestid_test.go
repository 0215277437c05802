// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor

import (
	"sync"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type RequestIDSuite struct{}

var _ = gc.Suite(&RequestIDSuite{})

func (s *RequestIDSuite) TestConcurrentRequestIDsNeverCollide(c *gc.C) {
	const n = 500
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = nextRequestID()
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i, id := range ids {
		c.Assert(errs[i], gc.IsNil)
		c.Assert(id, gc.Not(gc.Equals), "")
		c.Assert(seen[id], jc.IsFalse)
		seen[id] = true
	}
}
