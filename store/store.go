// Package store is the shared keyed data store: scalar entries with lazy
// expiry and append-only log streams, striped across lock domains for
// read concurrency (spec §3, §4.2; SPEC_FULL §3/§4.2).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"sync"
	"time"

	"github.com/ais-kv/kvd/cmn/cos"
	"github.com/ais-kv/kvd/cmn/prob"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Entry is a scalar value: bytes plus an optional absolute expiry (spec
// §3). ExpireAt == 0 means no expiry.
type Entry struct {
	Value    []byte
	ExpireAt int64
}

func (e Entry) expired(now int64) bool { return e.ExpireAt != 0 && now >= e.ExpireAt }

type kind int

const (
	kindScalar kind = iota
	kindStream
)

type item struct {
	kind   kind
	scalar Entry
	stream *Stream
}

// numBuckets strides the key space to relieve GET/SET contention between
// unrelated keys (SPEC_FULL §4.2); an implementation detail invisible to
// clients and not part of any ordering guarantee.
const numBuckets = 16

type bucket struct {
	mu     sync.RWMutex
	m      map[string]*item
	filter *prob.Filter
}

func newBucket() *bucket {
	return &bucket{m: make(map[string]*item), filter: prob.NewDefaultFilter()}
}

// Store is the process-wide shared key/value + stream map. All methods are
// safe for concurrent use. The store itself does not order writes against
// replication; replic.Controller serializes "mutate, then fan out" under
// its own replOrder mutex (spec §5 ordering guarantee).
type Store struct {
	buckets [numBuckets]*bucket

	// deleted counts keys removed since the filter was last rebuilt; once it
	// crosses filterRebuildThreshold, the Del or SweepExpired call that
	// crossed it runs RebuildFilters inline (SPEC_FULL §3 — cuckoofilters
	// don't delete-then-reinsert safely forever).
	mu      sync.Mutex
	deleted int
}

const filterRebuildThreshold = 4096

func New() *Store {
	s := &Store{}
	for i := range s.buckets {
		s.buckets[i] = newBucket()
	}
	return s
}

func (s *Store) bucketFor(key []byte) *bucket {
	return s.buckets[cos.HashKey(key)%numBuckets]
}

// Set overwrites any existing item of either kind (spec §4.2 "set").
// ttl<=0 means no expiry.
func (s *Store) Set(key, value []byte, ttl time.Duration) {
	b := s.bucketFor(key)
	e := Entry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.ExpireAt = nowMillis() + ttl.Milliseconds()
	}
	b.mu.Lock()
	b.m[string(key)] = &item{kind: kindScalar, scalar: e}
	b.filter.Insert(key)
	b.mu.Unlock()
}

// Get returns the scalar value for key, honoring expiry (spec §4.2 "get").
// A Stream item, or an expired/absent scalar, returns (nil, false).
func (s *Store) Get(key []byte) ([]byte, bool) {
	b := s.bucketFor(key)
	if !b.filter.MaybeContains(key) {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.m[string(key)]
	if !ok || it.kind != kindScalar {
		return nil, false
	}
	if it.scalar.expired(nowMillis()) {
		return nil, false
	}
	return it.scalar.Value, true
}

// Type reports "string", "stream", or "none" (spec §4.2 "type").
func (s *Store) Type(key []byte) string {
	b := s.bucketFor(key)
	if !b.filter.MaybeContains(key) {
		return "none"
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.m[string(key)]
	if !ok {
		return "none"
	}
	switch it.kind {
	case kindScalar:
		if it.scalar.expired(nowMillis()) {
			return "none"
		}
		return "string"
	case kindStream:
		return "stream"
	default:
		return "none"
	}
}

// Del removes any item under each key, returning the number actually
// removed (spec §4.2 "del").
func (s *Store) Del(keys ...[]byte) int {
	removed := 0
	for _, key := range keys {
		b := s.bucketFor(key)
		b.mu.Lock()
		if _, ok := b.m[string(key)]; ok {
			delete(b.m, string(key))
			removed++
		}
		b.mu.Unlock()
	}
	if removed > 0 {
		s.mu.Lock()
		s.deleted += removed
		needsRebuild := s.deleted >= filterRebuildThreshold
		if needsRebuild {
			s.deleted = 0
		}
		s.mu.Unlock()
		if needsRebuild {
			s.RebuildFilters()
		}
	}
	return removed
}

// RebuildFilters resets and refills every bucket's existence filter from
// its live key set; called by Del and SweepExpired once rolling deletes
// cross filterRebuildThreshold (SPEC_FULL §3).
func (s *Store) RebuildFilters() {
	for _, b := range s.buckets {
		b.mu.Lock()
		b.filter.Reset()
		for k := range b.m {
			b.filter.Insert(cos.UnsafeB(k))
		}
		b.mu.Unlock()
	}
}

// SweepExpired actively removes scalar entries whose expiry has passed,
// returning the count removed. This supplements the read-time lazy expiry
// check (spec §3) with a periodic active sweep so an idle expired key that
// nothing ever reads again isn't retained forever (SPEC_FULL §2); it is
// purely an optimization and changes no client-observable behavior, since
// Get/Type already hide expired entries.
func (s *Store) SweepExpired() int {
	now := nowMillis()
	removed := 0
	for _, b := range s.buckets {
		b.mu.Lock()
		for k, it := range b.m {
			if it.kind == kindScalar && it.scalar.expired(now) {
				delete(b.m, k)
				removed++
			}
		}
		b.mu.Unlock()
	}
	if removed > 0 {
		s.mu.Lock()
		s.deleted += removed
		needsRebuild := s.deleted >= filterRebuildThreshold
		if needsRebuild {
			s.deleted = 0
		}
		s.mu.Unlock()
		if needsRebuild {
			s.RebuildFilters()
		}
	}
	return removed
}

// Keys returns every key matching pattern. Only the literal "*" ("all
// keys") is supported; any other pattern reports ErrUnsupportedGlob (spec
// §4.2 "keys", preserved verbatim per spec §9 design notes).
func (s *Store) Keys(pattern string) ([][]byte, error) {
	if pattern != "*" {
		return nil, ErrUnsupportedGlob
	}
	now := nowMillis()
	var out [][]byte
	for _, b := range s.buckets {
		b.mu.RLock()
		for k, it := range b.m {
			if it.kind == kindScalar && it.scalar.expired(now) {
				continue
			}
			out = append(out, []byte(k))
		}
		b.mu.RUnlock()
	}
	return out, nil
}

// Incr adds delta to the integer value at key (creating it as "0" first if
// absent), returning the new value. SPEC_FULL §3/§4.2 supplemental command.
func (s *Store) Incr(key []byte, delta int64) (int64, error) {
	b := s.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.m[string(key)]
	var cur, expireAt int64
	if ok {
		if it.kind == kindStream {
			return 0, ErrWrongType
		}
		if !it.scalar.expired(nowMillis()) {
			v, perr := parseInt(it.scalar.Value)
			if perr != nil {
				return 0, ErrNotInteger
			}
			cur = v
			expireAt = it.scalar.ExpireAt
		}
	}
	next := cur + delta
	e := Entry{Value: []byte(formatInt(next)), ExpireAt: expireAt}
	b.m[string(key)] = &item{kind: kindScalar, scalar: e}
	b.filter.Insert(key)
	return next, nil
}

// ExpireAt sets a key's absolute expiry without rewriting its value,
// returning false if the key does not currently exist. SPEC_FULL §3/§4.2
// supplemental command.
func (s *Store) ExpireAt(key []byte, at time.Time) (bool, error) {
	b := s.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.m[string(key)]
	if !ok {
		return false, nil
	}
	if it.kind != kindScalar {
		return false, ErrWrongType
	}
	if it.scalar.expired(nowMillis()) {
		return false, nil
	}
	it.scalar.ExpireAt = at.UnixMilli()
	return true, nil
}
