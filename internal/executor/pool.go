// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor

import (
	"context"
	"sync/atomic"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
)

// Pool is a fixed-size worker pool gating concurrent store aggregation
// calls, per spec.md §4.6. Unlike github.com/juju/utils/parallel (used
// elsewhere in this tree for the fixed 3-way ProcessMessage join), an
// acquire here carries its own deadline distinct from the query
// deadline applied once a worker is held, so a slot that never frees
// reports WORKER_TIMEOUT instead of hanging the caller indefinitely.
type Pool struct {
	slots   chan struct{}
	cap     int
	inUse   int64
	waiting int64
}

// NewPool builds a Pool with capacity concurrent slots.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		slots: make(chan struct{}, capacity),
		cap:   capacity,
	}
}

// Acquire blocks until a slot is free or ctx is done, whichever comes
// first. The returned release func must be called exactly once to
// return the slot to the pool.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	atomic.AddInt64(&p.waiting, 1)
	defer atomic.AddInt64(&p.waiting, -1)

	select {
	case p.slots <- struct{}{}:
		atomic.AddInt64(&p.inUse, 1)
		return p.release, nil
	case <-ctx.Done():
		return nil, ecounters.New(ecounters.ErrWorkerTimeout, "no worker became free before the acquire deadline")
	}
}

func (p *Pool) release() {
	<-p.slots
	atomic.AddInt64(&p.inUse, -1)
}

// Stats reports the pool's current occupancy: its capacity, the slots
// held, and the callers blocked in Acquire.
type Stats struct {
	Capacity int
	InUse    int64
	Waiting  int64
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: p.cap,
		InUse:    atomic.LoadInt64(&p.inUse),
		Waiting:  atomic.LoadInt64(&p.waiting),
	}
}
