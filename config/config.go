// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config defines the process-wide configuration file format for
// the fact-counters engine, in the idiom of
// github.com/juju/charmstore's config package: a flat yaml.Unmarshal
// target, validated eagerly by Read so a misconfigured deployment fails
// at startup rather than on the first request.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"gopkg.in/errgo.v1"
	"gopkg.in/yaml.v2"
)

// Config is the on-disk shape of the engine's configuration file.
type Config struct {
	MongoAddrs []string `yaml:"mongo-addrs"`
	MongoDB    string   `yaml:"mongo-database"`
	MongoUser  string   `yaml:"mongo-username"`
	MongoPass  string   `yaml:"mongo-password"`
	APIAddr    string   `yaml:"api-addr"`

	// FactTypesPath and IndexesPath and CountersPath name the
	// declarative descriptor files read by mapper.LoadFieldConfig,
	// indexer.LoadIndexConfig and counter.LoadCounterConfig
	// respectively.
	FactTypesPath string `yaml:"fact-types-path"`
	IndexesPath   string `yaml:"indexes-path"`
	CountersPath  string `yaml:"counters-path"`

	// WorkerPoolSize bounds executor.Pool's concurrency; zero is
	// invalid, not unlimited, per spec.md §5's "the worker pool has a
	// configurable, finite capacity".
	WorkerPoolSize         int `yaml:"worker-pool-size"`
	WorkerAcquireTimeoutMs int `yaml:"worker-acquire-timeout-ms"`
	QueryTimeoutMs         int `yaml:"query-timeout-ms"`

	MongoPoolLimit     int `yaml:"mongo-pool-limit"`
	MongoDialTimeoutMs int `yaml:"mongo-dial-timeout-ms"`

	IncludeFactDataToIndex bool `yaml:"include-fact-data-to-index"`
	LookupFacts            bool `yaml:"lookup-facts"`

	GlobalDepthLimit     int      `yaml:"global-depth-limit"`
	GlobalNotOlderThanMs int64    `yaml:"global-not-older-than-ms"`
	AllowedCounterNames  []string `yaml:"allowed-counter-names"`
}

func (c *Config) validate() error {
	var missing []string
	if len(c.MongoAddrs) == 0 {
		missing = append(missing, "mongo-addrs")
	}
	if c.MongoDB == "" {
		missing = append(missing, "mongo-database")
	}
	if c.APIAddr == "" {
		missing = append(missing, "api-addr")
	}
	if c.FactTypesPath == "" {
		missing = append(missing, "fact-types-path")
	}
	if c.IndexesPath == "" {
		missing = append(missing, "indexes-path")
	}
	if c.CountersPath == "" {
		missing = append(missing, "counters-path")
	}
	if len(missing) != 0 {
		return fmt.Errorf("missing fields %s in config file", strings.Join(missing, ", "))
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker-pool-size must be positive, got %d", c.WorkerPoolSize)
	}
	return nil
}

// WorkerAcquireTimeout is WorkerAcquireTimeoutMs as a time.Duration; zero
// means "no acquire timeout", per executor.Config's zero-value contract.
func (c *Config) WorkerAcquireTimeout() time.Duration {
	return time.Duration(c.WorkerAcquireTimeoutMs) * time.Millisecond
}

// QueryTimeout is QueryTimeoutMs as a time.Duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// MongoDialTimeout is MongoDialTimeoutMs as a time.Duration.
func (c *Config) MongoDialTimeout() time.Duration {
	return time.Duration(c.MongoDialTimeoutMs) * time.Millisecond
}

// GlobalNotOlderThan is GlobalNotOlderThanMs as a time.Duration; zero means
// "no recency cap". Expressed as a duration, not an absolute time, since
// engine.Engine applies it relative to each incoming fact's own timestamp.
func (c *Config) GlobalNotOlderThan() time.Duration {
	return time.Duration(c.GlobalNotOlderThanMs) * time.Millisecond
}

// Read reads and validates an engine configuration file from path.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errgo.Notef(err, "cannot open config file")
	}
	defer f.Close()
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read %q", path)
	}
	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, errgo.Notef(err, "cannot parse %q", path)
	}
	if err := conf.validate(); err != nil {
		return nil, errgo.Mask(err)
	}
	return &conf, nil
}
