// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store implements the FactStore port contract of spec.md §4.7
// against MongoDB, in the idiom of github.com/juju/charmstore's
// internal/charmstore package: a long-lived Pool wrapping one mgo.Database
// handle, and short-lived Store copies taken from it per call.
package store

import (
	"context"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/SergeyGaydamakov/Counters-sub001/internal/ecounters"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/executor"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
)

var logger = loggo.GetLogger("factcounters.store")

const (
	factsCollection   = "facts"
	indexesCollection = "index_entries"
	logsCollection    = "process_log"
)

// Pool holds the long-lived database handle. Its Session's pool limits
// are configured by the caller via PoolConfig before NewPool dials, per
// spec.md §5's "the store handle is shared across all workers and must
// itself support a connection pool (configurable min/max)".
type Pool struct {
	db StoreDatabase
}

// PoolConfig configures the mgo session's connection pool, read once at
// dial time.
type PoolConfig struct {
	Addrs       []string
	Database    string
	Username    string
	Password    string
	PoolLimit   int
	DialTimeout time.Duration
}

// NewPool dials MongoDB with the given configuration and returns a Pool.
// The caller must call Close when the pool is no longer needed.
func NewPool(cfg PoolConfig) (*Pool, error) {
	info := &mgo.DialInfo{
		Addrs:    cfg.Addrs,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.DialTimeout,
	}
	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, errgo.Notef(err, "cannot dial mongodb")
	}
	if cfg.PoolLimit > 0 {
		session.SetPoolLimit(cfg.PoolLimit)
	}
	return &Pool{db: StoreDatabase{session.DB(cfg.Database)}}, nil
}

// Close releases the pool's underlying session.
func (p *Pool) Close() {
	p.db.Session.Close()
}

// Store returns a short-lived handle copying the pool's session, in the
// charmstore idiom of Pool.Store()/Store.Close() per-request handles.
func (p *Pool) Store() *Store {
	return &Store{db: p.db.Copy()}
}

// Store is a short-lived FactStore handle. It must be closed after use.
type Store struct {
	db StoreDatabase
}

// Close releases the underlying session copy.
func (s *Store) Close() {
	s.db.Session.Close()
}

// CheckConnection fails fast when the store handle cannot reach the
// server, per spec.md §4.7's "checkConnection() is synchronous and
// fails fast when the store handle is absent".
func (s *Store) CheckConnection() error {
	if s.db.Session == nil {
		return ecounters.New(ecounters.ErrStoreUnavailable, "no store session")
	}
	if err := s.db.Session.Ping(); err != nil {
		return ecounters.New(ecounters.ErrStoreUnavailable, "store ping failed: %v", err)
	}
	return nil
}

// StoreDatabase wraps an mgo.Database, exposing the collections this
// package uses, mirroring charmstore's own StoreDatabase wrapper type.
type StoreDatabase struct {
	*mgo.Database
}

// Copy copies the StoreDatabase along with its session.
func (s StoreDatabase) Copy() StoreDatabase {
	return StoreDatabase{&mgo.Database{
		Session: s.Session.Copy(),
		Name:    s.Name,
	}}
}

func (s StoreDatabase) facts() *mgo.Collection {
	return s.C(factsCollection)
}

func (s StoreDatabase) indexEntries() *mgo.Collection {
	return s.C(indexesCollection)
}

func (s StoreDatabase) logs() *mgo.Collection {
	return s.C(logsCollection)
}

// factDoc is the on-disk shape of model.Fact.
type factDoc struct {
	Id string                 `bson:"_id"`
	T  int                    `bson:"t"`
	C  time.Time              `bson:"c"`
	D  map[string]interface{} `bson:"d"`
}

func toFactDoc(f model.Fact) factDoc {
	return factDoc{Id: f.Id, T: f.T, C: f.C, D: f.D}
}

func fromFactDoc(d factDoc) model.Fact {
	return model.Fact{Id: d.Id, T: d.T, C: d.C, D: d.D}
}

// SaveFactResult reports the outcome of SaveFact, per spec.md §4.7.
type SaveFactResult struct {
	Success        bool
	Inserted       bool
	Updated        bool
	Ignored        bool
	ProcessingTime time.Duration
}

// SaveFact upserts fact, idempotent on (id): an identical re-insert is
// reported as Updated or Ignored depending on whether mgo reports the
// document as having changed.
func (s *Store) SaveFact(fact model.Fact) (SaveFactResult, error) {
	start := time.Now()
	info, err := s.db.facts().UpsertId(fact.Id, toFactDoc(fact))
	elapsed := time.Since(start)
	if err != nil {
		return SaveFactResult{}, ecounters.New(ecounters.ErrStoreUnavailable, "saveFact: %v", err)
	}
	result := SaveFactResult{Success: true, ProcessingTime: elapsed}
	switch {
	case info.UpsertedId != nil:
		result.Inserted = true
	case info.Updated > 0:
		result.Updated = true
	default:
		result.Ignored = true
	}
	return result, nil
}

// SaveIndexEntriesResult reports the outcome of a bulk SaveIndexEntries
// call, per spec.md §4.7: individual duplicate-key errors are tolerated
// and do not abort the batch.
type SaveIndexEntriesResult struct {
	Success        bool
	Inserted       int
	Updated        int
	Errors         []string
	ProcessingTime time.Duration
}

// SaveIndexEntries bulk-inserts entries, idempotent on (h, f): duplicates
// (caught via the unique compound index on _id.h/_id.f) are silently
// ignored rather than aborting the batch.
func (s *Store) SaveIndexEntries(entries []model.IndexEntry) (SaveIndexEntriesResult, error) {
	start := time.Now()
	result := SaveIndexEntriesResult{Success: true}
	bulk := s.db.indexEntries().Bulk()
	bulk.Unordered()
	for _, e := range entries {
		bulk.Insert(e)
	}
	_, err := bulk.Run()
	result.ProcessingTime = time.Since(start)
	if err != nil {
		if bulkErr, ok := err.(*mgo.BulkError); ok {
			for _, c := range bulkErr.Cases() {
				if mgo.IsDup(c.Err) {
					continue
				}
				result.Errors = append(result.Errors, c.Err.Error())
			}
		} else if !mgo.IsDup(err) {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	result.Inserted = len(entries) - len(result.Errors)
	return result, nil
}

// RelevantFactsResult reports getRelevantFacts's outcome.
type RelevantFactsResult struct {
	Result         []model.Fact
	ProcessingTime time.Duration
}

// GetRelevantFacts returns facts distinct-by-id, excluding excludedFactID,
// that have at least one index entry whose hash is in hashes, optionally
// bounded by depthLimit and depthFromDate.
func (s *Store) GetRelevantFacts(hashes []string, excludedFactID string, depthLimit int, depthFromDate time.Time) (RelevantFactsResult, error) {
	start := time.Now()
	match := bson.M{
		"_id.h": bson.M{"$in": hashes},
		"_id.f": bson.M{"$ne": excludedFactID},
	}
	if !depthFromDate.IsZero() {
		match["dt"] = bson.M{"$lte": depthFromDate}
	}
	var ids []struct {
		Id model.IndexEntryId `bson:"_id"`
	}
	q := s.db.indexEntries().Find(match).Select(bson.M{"_id.f": 1})
	if depthLimit > 0 {
		q = q.Limit(depthLimit)
	}
	if err := q.All(&ids); err != nil {
		return RelevantFactsResult{}, ecounters.New(ecounters.ErrStoreUnavailable, "getRelevantFacts: %v", err)
	}
	seen := make(map[string]bool, len(ids))
	factIDs := make([]string, 0, len(ids))
	for _, r := range ids {
		if seen[r.Id.F] {
			continue
		}
		seen[r.Id.F] = true
		factIDs = append(factIDs, r.Id.F)
	}
	var docs []factDoc
	if err := s.db.facts().Find(bson.M{"_id": bson.M{"$in": factIDs}}).All(&docs); err != nil {
		return RelevantFactsResult{}, ecounters.New(ecounters.ErrStoreUnavailable, "getRelevantFacts: %v", err)
	}
	facts := make([]model.Fact, len(docs))
	for i, d := range docs {
		facts[i] = fromFactDoc(d)
	}
	return RelevantFactsResult{Result: facts, ProcessingTime: time.Since(start)}, nil
}

// RunAggregation implements executor.Aggregator against the index
// entries collection, decoding the $facet pipeline's single result
// document into per-counter raw aggregate rows. mgo has no native
// context support, so the query runs on a goroutine and the deadline
// race is arbitrated with a select, matching how CounterExecutor treats
// every store call as cancellable per spec.md §5.
func (s *Store) RunAggregation(ctx context.Context, stages []bson.M) (executor.FacetResult, error) {
	pipe := s.db.indexEntries().Pipe(stages)
	var raw bson.M
	done := make(chan error, 1)
	go func() {
		done <- pipe.One(&raw)
	}()
	select {
	case err := <-done:
		if err != nil && err != mgo.ErrNotFound {
			return nil, ecounters.New(ecounters.ErrStoreUnavailable, "aggregation failed: %v", err)
		}
	case <-ctx.Done():
		return nil, ecounters.New(ecounters.ErrQueryTimeout, "aggregation deadline exceeded")
	}
	result := make(executor.FacetResult, len(raw))
	for k, v := range raw {
		docs, _ := v.([]interface{})
		rows := make([]bson.M, 0, len(docs))
		for _, d := range docs {
			if m, ok := d.(bson.M); ok {
				rows = append(rows, m)
			}
		}
		result[k] = rows
	}
	return result, nil
}

// CreateDatabase idempotently ensures the indexes required by this
// package's query patterns, grounded on charmstore's
// Store.ensureIndexes.
func (s *Store) CreateDatabase() error {
	indexes := []struct {
		c *mgo.Collection
		i mgo.Index
	}{
		{s.db.indexEntries(), mgo.Index{Key: []string{"_id.h", "_id.f"}, Unique: true}},
		{s.db.indexEntries(), mgo.Index{Key: []string{"it", "dt"}}},
		{s.db.facts(), mgo.Index{Key: []string{"t", "c"}}},
		{s.db.logs(), mgo.Index{Key: []string{"processId"}}},
		{s.db.logs(), mgo.Index{Key: []string{"c"}}},
	}
	for _, idx := range indexes {
		if err := idx.c.EnsureIndex(idx.i); err != nil {
			return errgo.Notef(err, "cannot ensure index on %s", idx.c.Name)
		}
	}
	return nil
}

// LogEntry is one row of the append-only audit trail saved by SaveLog,
// supplementing spec.md's FactStore contract the way
// github.com/juju/charmstore's audit package supplements its own API
// surface with an audit log, and modeled on internal/mongodoc.Log's
// shape.
type LogEntry struct {
	ProcessId string                 `bson:"processId"`
	C         time.Time              `bson:"c"`
	Message   string                 `bson:"message"`
	Fact      model.Fact             `bson:"fact"`
	Timings   map[string]interface{} `bson:"timings,omitempty"`
	Metrics   map[string]interface{} `bson:"metrics,omitempty"`
	Debug     map[string]interface{} `bson:"debug,omitempty"`
}

// SaveLog appends one audit row. Failures are logged, not propagated:
// the audit trail is best-effort and must never fail a caller's
// processMessage call.
func (s *Store) SaveLog(entry LogEntry) {
	entry.C = time.Now()
	if err := s.db.logs().Insert(entry); err != nil {
		logger.Errorf("saveLog: %v", err)
	}
}
