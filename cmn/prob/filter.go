// Package prob implements a dynamic probabilistic set membership filter,
// backed by a cuckoo filter, used by the store as a fast pre-check before
// taking the map lock on the read path.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package prob

import (
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Filter is a concurrency-unsafe (caller must serialize, or wrap with its
// own lock) approximate set: MaybeContains can false-positive but never
// false-negatives, so callers use it only to short-circuit a definite "no".
type Filter struct {
	cf *cuckoo.Filter
}

func NewDefaultFilter() *Filter { return New(4096) }

func New(capacity uint) *Filter {
	return &Filter{cf: cuckoo.NewFilter(capacity)}
}

func (f *Filter) Insert(key []byte) bool { return f.cf.Insert(key) }
func (f *Filter) Delete(key []byte) bool { return f.cf.Delete(key) }

// MaybeContains returns false only when key is definitely absent.
func (f *Filter) MaybeContains(key []byte) bool { return f.cf.Lookup(key) }

func (f *Filter) Reset() { f.cf.Reset() }
