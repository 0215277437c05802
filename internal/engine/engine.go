// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package engine wires FactMapper, FactIndexer, CounterExecutor and the
// FactStore port together into ProcessMessage, per spec.md §5's "within
// one call to processMessage(m): saveFact(m), saveIndexEntries(idx(m))
// and computeCounters(m) are launched concurrently; the result is the
// join of all three". The 3-way join uses
// github.com/juju/utils/parallel, the same fixed fan-out primitive
// github.com/juju/charmstore's internal/router.Router uses for
// GetMetadata, since the fan-out here is a small fixed-arity join with
// no per-task deadline of its own (each task carries its own deadline
// internally instead).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/juju/loggo"
	"github.com/juju/utils/parallel"
	"gopkg.in/errgo.v1"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/executor"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/indexer"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/mapper"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/store"
)

var logger = loggo.GetLogger("factcounters.engine")

// FactStore is the subset of the store package's Store that Engine
// depends on, kept narrow so Engine can be tested against a fake
// (store.Store satisfies it directly; no adapter needed).
type FactStore interface {
	SaveFact(fact model.Fact) (store.SaveFactResult, error)
	SaveIndexEntries(entries []model.IndexEntry) (store.SaveIndexEntriesResult, error)
}

// Engine is the composition root described by spec.md §2's system
// overview: it owns no state of its own beyond references to its
// collaborators, all of which are immutable after construction.
type Engine struct {
	mapper   *mapper.FactMapper
	indexer  *indexer.FactIndexer
	executor *executor.Executor
	store    FactStore

	queryTimeout       time.Duration
	globalDepthLimit   int
	globalNotOlderThan time.Duration
}

// Config bounds Engine.ProcessMessage's per-call behavior. GlobalDepthLimit
// and GlobalNotOlderThan are the process-wide caps spec.md §4.6 describes:
// they narrow, never replace, each counter's own window and record caps.
// GlobalNotOlderThan is a duration rather than an absolute time since it is
// evaluated relative to each incoming fact's own timestamp, not to Engine
// construction time.
type Config struct {
	QueryTimeout       time.Duration
	GlobalDepthLimit   int
	GlobalNotOlderThan time.Duration
}

// New builds an Engine from its already-constructed collaborators.
func New(m *mapper.FactMapper, idx *indexer.FactIndexer, ex *executor.Executor, store FactStore, cfg Config) *Engine {
	return &Engine{
		mapper:             m,
		indexer:            idx,
		executor:           ex,
		store:              store,
		queryTimeout:       cfg.QueryTimeout,
		globalDepthLimit:   cfg.GlobalDepthLimit,
		globalNotOlderThan: cfg.GlobalNotOlderThan,
	}
}

// ProcessResult is the joined outcome of one ProcessMessage call.
type ProcessResult struct {
	Fact           *model.Fact
	Counters       map[string]map[string]interface{}
	SaveFact       store.SaveFactResult
	SaveIndex      store.SaveIndexEntriesResult
	ExecutorGroups []executor.GroupReport
	Metrics        executor.Metrics
	Timings        Timings
}

// Timings captures the wall-clock cost of each of the three joined
// branches, for SaveLog/debug visibility.
type Timings struct {
	Total     time.Duration
	Map       time.Duration
	Index     time.Duration
	SaveFact  time.Duration
	SaveIndex time.Duration
	Counters  time.Duration
}

// ProcessMessage implements spec.md §2/§5's top-level operation: map the
// incoming message to a fact, derive its index entries, then launch
// saveFact, saveIndexEntries and computeCounters concurrently and join
// on all three. A failure in any one branch does not prevent the others
// from completing; it is surfaced in the returned error only when it
// makes the overall call meaningless (mapping failure), and otherwise
// folded into the per-branch result fields.
func (e *Engine) ProcessMessage(ctx context.Context, msg model.Message) (ProcessResult, error) {
	start := time.Now()

	mapStart := time.Now()
	fact, err := e.mapper.Map(msg)
	mapElapsed := time.Since(mapStart)
	if err != nil {
		return ProcessResult{}, errgo.Mask(err, errgo.Any)
	}

	indexStart := time.Now()
	entries := e.indexer.Index(fact)
	hashed := e.indexer.HashValuesForSearch(entries)
	indexElapsed := time.Since(indexStart)

	result := ProcessResult{Fact: fact}
	var mu sync.Mutex

	run := parallel.NewRun(3)
	run.Do(func() error {
		t0 := time.Now()
		r, err := e.store.SaveFact(*fact)
		mu.Lock()
		result.SaveFact = r
		result.Timings.SaveFact = time.Since(t0)
		mu.Unlock()
		if err != nil {
			logger.Warningf("saveFact(%s): %v", fact.Id, err)
		}
		return nil
	})
	run.Do(func() error {
		t0 := time.Now()
		r, err := e.store.SaveIndexEntries(entries)
		mu.Lock()
		result.SaveIndex = r
		result.Timings.SaveIndex = time.Since(t0)
		mu.Unlock()
		if err != nil {
			logger.Warningf("saveIndexEntries(%s): %v", fact.Id, err)
		}
		return nil
	})
	run.Do(func() error {
		t0 := time.Now()
		queryCtx := ctx
		var cancel context.CancelFunc
		if e.queryTimeout > 0 {
			queryCtx, cancel = context.WithTimeout(ctx, e.queryTimeout)
			defer cancel()
		}
		// Excluding the incoming fact's own id from its counter query
		// (id != m.id) per spec.md §5; whether it is otherwise visible
		// to concurrent readers racing with the saveFact branch above is
		// explicitly implementation-defined.
		var globalNotOlderThan time.Time
		if e.globalNotOlderThan > 0 {
			globalNotOlderThan = fact.C.Add(-e.globalNotOlderThan)
		}
		r, err := e.executor.Evaluate(queryCtx, fact, hashed, e.globalDepthLimit, globalNotOlderThan)
		mu.Lock()
		result.Counters = r.Counters
		result.ExecutorGroups = r.Groups
		result.Metrics = r.Metrics
		result.Timings.Counters = time.Since(t0)
		mu.Unlock()
		if err != nil {
			logger.Warningf("computeCounters(%s): %v", fact.Id, err)
		}
		return nil
	})
	// Every Do closure swallows its own error into the result so a
	// single branch's failure never aborts the join; Wait is called
	// purely to block until all three complete.
	_ = run.Wait()

	result.Timings.Total = time.Since(start)
	result.Timings.Map = mapElapsed
	result.Timings.Index = indexElapsed
	return result, nil
}
