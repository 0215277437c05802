// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor_test

import (
	"context"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/executor"
)

type PoolSuite struct{}

var _ = gc.Suite(&PoolSuite{})

func (s *PoolSuite) TestAcquireReleaseRoundTrip(c *gc.C) {
	p := executor.NewPool(1)
	release, err := p.Acquire(context.Background())
	c.Assert(err, gc.IsNil)
	c.Assert(p.Stats().InUse, gc.Equals, int64(1))
	release()
	c.Assert(p.Stats().InUse, gc.Equals, int64(0))
}

func (s *PoolSuite) TestAcquireTimesOutWhenSaturated(c *gc.C) {
	p := executor.NewPool(1)
	release, err := p.Acquire(context.Background())
	c.Assert(err, gc.IsNil)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	c.Assert(err, gc.ErrorMatches, ".*no worker became free.*")
}

func (s *PoolSuite) TestStatsReportsWaiting(c *gc.C) {
	p := executor.NewPool(1)
	release, err := p.Acquire(context.Background())
	c.Assert(err, gc.IsNil)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		p.Acquire(ctx)
		close(done)
	}()

	// Give the goroutine time to start waiting before asserting.
	for i := 0; i < 50 && p.Stats().Waiting == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	c.Assert(p.Stats().Waiting >= 1, jc.IsTrue)
	release()
	<-done
}
