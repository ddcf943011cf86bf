// Package cmn provides common constants, types, and the global configuration
// object shared by the server, session, store, and replication packages.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"sync/atomic"
	"time"
)

// ReplicaOf names an upstream primary this process replicates from; nil
// means this process runs as primary.
type ReplicaOf struct {
	Host string
	Port string
}

// Config is the read-mostly, process-wide configuration. CLI-flag parsing
// in cmd/kvd is the only producer; every other package only ever reads it
// via GCO.Get().
type Config struct {
	BindAddr string
	Port     string

	ReplicaOf *ReplicaOf

	SnapshotDir  string
	SnapshotFile string

	Timeout struct {
		ReplicaHandshake time.Duration // per-step deadline during PSYNC handshake
		AckDefault       time.Duration // default WAIT deadline when caller passes 0
	}

	Repl struct {
		QueueCapacity int // bounded per-replica outbound queue (spec: ~32)
		Compress      bool
	}

	HousekeepInterval time.Duration // periodic lazy-expiry sweep cadence

	MetricsAddr string // fasthttp listen address for /metrics and /healthz; empty disables
}

// DefaultConfig returns a Config with the spec's defaults (§6 CLI surface,
// §4.4 queue capacity) before CLI overrides are applied.
func DefaultConfig() *Config {
	c := &Config{
		BindAddr: "127.0.0.1",
		Port:     "6379",
	}
	c.Timeout.ReplicaHandshake = 5 * time.Second
	c.Timeout.AckDefault = time.Second
	c.Repl.QueueCapacity = 32
	c.HousekeepInterval = time.Second
	return c
}

// gco is the global config owner: a single atomic pointer swapped wholesale
// on (re)load, read concurrently and lock-free from every hot path.
type gco struct {
	p atomic.Pointer[Config]
}

var GCO = &gco{}

func init() { GCO.p.Store(DefaultConfig()) }

func (g *gco) Get() *Config   { return g.p.Load() }
func (g *gco) Put(c *Config)  { g.p.Store(c) }
func (g *gco) BeginUpdate() *Config {
	cur := g.p.Load()
	clone := *cur
	if cur.ReplicaOf != nil {
		ro := *cur.ReplicaOf
		clone.ReplicaOf = &ro
	}
	return &clone
}
func (g *gco) CommitUpdate(clone *Config) { g.p.Store(clone) }
