// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/loggo"

	"github.com/SergeyGaydamakov/Counters-sub001/config"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/counter"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/engine"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/executor"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/indexer"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/mapper"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/model"
	"github.com/SergeyGaydamakov/Counters-sub001/internal/store"
)

var logger = loggo.GetLogger("factcounters.cmd.factengine")

// factengine is the thin wiring command: it has no CLI surface of its
// own beyond a config path, since message generation, a log sink
// transport and the store itself are all out of scope for this engine
// (see spec.md §1). It reads newline-delimited fact messages from
// stdin and writes newline-delimited processMessage results to stdout,
// which is enough to exercise a wired Engine end to end without
// introducing an HTTP layer.
func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <config path>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	if err := run(flag.Arg(0), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(confPath string, in io.Reader, out io.Writer) error {
	conf, err := config.Read(confPath)
	if err != nil {
		return err
	}

	fields, err := mapper.LoadFieldConfig(conf.FactTypesPath)
	if err != nil {
		return err
	}
	indexes, err := indexer.LoadIndexConfig(conf.IndexesPath)
	if err != nil {
		return err
	}
	if err := indexer.ValidateIndexConfig(indexes); err != nil {
		return err
	}
	counterDefs, err := counter.LoadCounterConfig(conf.CountersPath)
	if err != nil {
		return err
	}

	pool, err := store.NewPool(store.PoolConfig{
		Addrs:       conf.MongoAddrs,
		Database:    conf.MongoDB,
		Username:    conf.MongoUser,
		Password:    conf.MongoPass,
		PoolLimit:   conf.MongoPoolLimit,
		DialTimeout: conf.MongoDialTimeout(),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	db := pool.Store()
	defer db.Close()
	if err := db.CreateDatabase(); err != nil {
		return err
	}

	m := mapper.New(fields)
	fi := indexer.New(indexes, indexer.WithIncludeFactData(conf.IncludeFactDataToIndex))
	producer, err := counter.New(counterDefs, nil, conf.AllowedCounterNames)
	if err != nil {
		return err
	}
	ex := executor.New(db, producer, indexes, executor.Config{
		WorkerPoolSize:       conf.WorkerPoolSize,
		WorkerAcquireTimeout: conf.WorkerAcquireTimeout(),
		QueryTimeout:         conf.QueryTimeout(),
		IncludeFactData:      conf.IncludeFactDataToIndex,
		LookupFacts:          conf.LookupFacts,
		FactCollection:       "facts",
	})

	eng := engine.New(m, fi, ex, db, engine.Config{
		QueryTimeout:       conf.QueryTimeout(),
		GlobalDepthLimit:   conf.GlobalDepthLimit,
		GlobalNotOlderThan: conf.GlobalNotOlderThan(),
	})

	return processStream(eng, in, out)
}

func processStream(eng *engine.Engine, in io.Reader, out io.Writer) error {
	ctx := context.Background()
	scanner := bufio.NewScanner(in)
	encoder := json.NewEncoder(out)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warningf("skipping malformed message: %v", err)
			continue
		}
		result, err := eng.ProcessMessage(ctx, msg)
		if err != nil {
			logger.Warningf("processMessage: %v", err)
			continue
		}
		if err := encoder.Encode(result.Counters); err != nil {
			return err
		}
	}
	return scanner.Err()
}
