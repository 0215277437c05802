// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package executor implements CounterExecutor: grouping a fact's
// applicable counters into bounded pipeline requests, dispatching them
// concurrently through a worker pool with per-acquire and per-query
// deadlines, and merging the results back via counter.Producer. Grounded
// on github.com/juju/charmstore's internal/charmstore/store.go
// aggregation-call shape and internal/router/router.go's fan-out/join
// idiom, though the fan-out here uses a bespoke deadline-aware pool
// instead of github.com/juju/utils/parallel (see pool.go).
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/condition"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/counter"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/pipeline"
)

var logger = loggo.GetLogger("factcounters.executor")

// Aggregator is the narrow store-facing port CounterExecutor drives: run
// one aggregation pipeline and return its single $facet document. A real
// implementation lives in the store package, backed by
// (*mgo.Collection).Pipe.
type Aggregator interface {
	RunAggregation(ctx context.Context, stages []bson.M) (FacetResult, error)
}

// FacetResult is the decoded $facet output: counter external name to
// its (at most one-element, since every sub-pipeline ends in a
// _id:nil $group) result document.
type FacetResult map[string][]bson.M

// Config bounds CounterExecutor's concurrency and deadlines, per
// spec.md §4.6/§5.
type Config struct {
	WorkerPoolSize        int
	WorkerAcquireTimeout  time.Duration
	QueryTimeout          time.Duration
	FactCollection        string
	IncludeFactData       bool
	LookupFacts           bool
}

// Executor is CounterExecutor.
type Executor struct {
	store    Aggregator
	producer *counter.Producer
	indexes  map[string]model.IndexConfigEntry // by IndexTypeName
	pool     *Pool
	cfg      Config
}

// New builds an Executor. indexes supplies each index type's
// CountersCount staircase and DateName.
func New(store Aggregator, producer *counter.Producer, indexes []model.IndexConfigEntry, cfg Config) *Executor {
	byType := make(map[string]model.IndexConfigEntry, len(indexes))
	for _, idx := range indexes {
		byType[idx.IndexTypeName] = idx
	}
	return &Executor{
		store:    store,
		producer: producer,
		indexes:  byType,
		pool:     NewPool(cfg.WorkerPoolSize),
		cfg:      cfg,
	}
}

// Metrics reports the per-call timing figures spec.md §4.6 requires.
type Metrics struct {
	Elapsed        time.Duration
	QueryTimeSum   time.Duration
	QueryCount     int
	WaitForWorker  time.Duration
}

// GroupReport is diagnostic state for one counter group's request,
// surfaced for SaveLog/debug visibility regardless of success.
type GroupReport struct {
	Label   string
	State   string // queued, running, completed, timed_out, failed
	Message string
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Counters map[string]map[string]interface{}
	Metrics  Metrics
	Groups   []GroupReport
}

// Evaluate computes every counter applicable to fact's index entries.
// globalDepthLimit and globalNotOlderThan are optional process-wide caps
// (zero value means "no cap"); per spec.md §5 they narrow, never
// replace, each counter's own window and record caps.
//
// Each counter's computationConditions is evaluated twice, against two
// different record sets, per spec.md: in-process here against the
// incoming fact itself, to decide whether the counter is triggered at
// all, and again store-side (see pipeline.counterSubPipeline) against
// every candidate historical record the counter's own query considers.
// A counter whose computationConditions rejects the incoming fact never
// reaches grouping or pipelining; its name is simply absent from the
// result, matching how a non-existent threshold is reported.
func (e *Executor) Evaluate(ctx context.Context, fact *model.Fact, hashedIndexes []model.HashedIndex, globalDepthLimit int, globalNotOlderThan time.Time) (Result, error) {
	start := time.Now()
	now := fact.C
	excludedFactID := fact.Id

	byType := latestHashPerIndexType(hashedIndexes)

	var (
		mu      sync.Mutex
		metrics Metrics
		groups  []GroupReport
		raw     = make(map[string]map[string]interface{})
	)

	var wg sync.WaitGroup
	for indexTypeName, hv := range byType {
		candidates := e.producer.CountersForIndexType(indexTypeName)
		counters := make([]model.CounterDefinition, 0, len(candidates))
		for _, cd := range candidates {
			triggered, err := condition.Eval(cd.ComputationConditions, fact)
			if err != nil {
				logger.Warningf("computationConditions for counter %q: %v", cd.ExternalName(), err)
				continue
			}
			if !triggered {
				continue
			}
			counters = append(counters, cd)
		}
		if len(counters) == 0 {
			continue
		}
		idx := e.indexes[indexTypeName]
		for _, g := range groupCounters(indexTypeName, counters, idx.CountersCount) {
			g := g
			hv := hv
			wg.Add(1)
			go func() {
				defer wg.Done()
				report, partial, waitTime, queryTime := e.runGroup(ctx, now, excludedFactID, hv, g, globalDepthLimit, globalNotOlderThan)
				mu.Lock()
				defer mu.Unlock()
				groups = append(groups, report)
				metrics.WaitForWorker += waitTime
				if queryTime > 0 {
					metrics.QueryTimeSum += queryTime
					metrics.QueryCount++
				}
				for k, v := range partial {
					raw[k] = v
				}
			}()
		}
	}
	wg.Wait()

	metrics.Elapsed = time.Since(start)
	return Result{
		Counters: e.producer.Merge(raw),
		Metrics:  metrics,
		Groups:   groups,
	}, nil
}

// runGroup dispatches one counter group's pipeline request through the
// worker pool, never returning an error: timeouts and query failures
// are captured in the returned GroupReport so sibling groups continue,
// per spec.md §4.6's state machine.
func (e *Executor) runGroup(ctx context.Context, now time.Time, excludedFactID string, hashValue string, g group, globalDepthLimit int, globalNotOlderThan time.Time) (GroupReport, map[string]map[string]interface{}, time.Duration, time.Duration) {
	report := GroupReport{Label: g.Label, State: "queued"}

	waitStart := time.Now()
	acquireCtx := ctx
	var cancelAcquire context.CancelFunc
	if e.cfg.WorkerAcquireTimeout > 0 {
		acquireCtx, cancelAcquire = context.WithTimeout(ctx, e.cfg.WorkerAcquireTimeout)
		defer cancelAcquire()
	}
	release, err := e.pool.Acquire(acquireCtx)
	waitTime := time.Since(waitStart)
	if err != nil {
		report.State = "timed_out"
		report.Message = ecounters.New(ecounters.ErrWorkerTimeout, "group %q: %v", g.Label, err).Error()
		return report, nil, waitTime, 0
	}
	defer release()

	report.State = "running"

	reqID, err := nextRequestID()
	if err != nil {
		report.State = "failed"
		report.Message = err.Error()
		return report, nil, waitTime, 0
	}
	_ = reqID // generated per request; not attached to the pipeline, the GroupReport or the Result

	queryCtx := ctx
	var cancelQuery context.CancelFunc
	if e.cfg.QueryTimeout > 0 {
		queryCtx, cancelQuery = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancelQuery()
	}

	stages, err := pipeline.Build(pipeline.Request{
		IndexTypeName:      g.IndexTypeName,
		HashValue:          hashValue,
		ExcludedFactID:     excludedFactID,
		Now:                now,
		Counters:           g.Counters,
		IncludeFactData:    e.cfg.IncludeFactData,
		LookupFacts:        e.cfg.LookupFacts,
		FactCollection:     e.cfg.FactCollection,
		GlobalMaxRecords:   globalDepthLimit,
		GlobalNotOlderThan: globalNotOlderThan,
	})
	if err != nil {
		report.State = "failed"
		report.Message = err.Error()
		return report, nil, waitTime, 0
	}

	queryStart := time.Now()
	facet, err := e.store.RunAggregation(queryCtx, stages)
	queryTime := time.Since(queryStart)
	if err != nil {
		if queryCtx.Err() != nil {
			report.State = "timed_out"
			report.Message = ecounters.New(ecounters.ErrQueryTimeout, "group %q: %v", g.Label, err).Error()
		} else {
			report.State = "failed"
			report.Message = err.Error()
		}
		return report, nil, waitTime, queryTime
	}

	report.State = "completed"
	partial := make(map[string]map[string]interface{}, len(g.Counters))
	for _, c := range g.Counters {
		name := c.ExternalName()
		docs := facet[name]
		if len(docs) == 0 {
			partial[name] = map[string]interface{}{}
			continue
		}
		partial[name] = bsonToMap(docs[0])
	}
	return report, partial, waitTime, queryTime
}

func bsonToMap(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// latestHashPerIndexType collapses a fact's HashedIndex list down to one
// hash value per indexTypeName. FactIndexer emits one IndexEntry per
// FieldName alternative present in the fact, so an index type whose
// FieldName lists several attributes can yield more than one hash; in
// that case the last one wins and a warning is logged.
func latestHashPerIndexType(hashedIndexes []model.HashedIndex) map[string]string {
	byType := make(map[string]string, len(hashedIndexes))
	for _, hi := range hashedIndexes {
		name := hi.Index.IndexTypeName
		if _, dup := byType[name]; dup {
			logger.Warningf("more than one index entry for indexTypeName %q on the same fact", name)
		}
		byType[name] = hi.HashValue
	}
	return byType
}
