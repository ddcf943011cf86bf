// Package memsys provides pooled byte-slice buffers used for per-connection
// read buffers and frame-encoding scratch space, avoiding a fresh allocation
// on every command.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import "sync"

const (
	// DefaultBufSize is the initial per-connection read-buffer size; large
	// enough for most command frames without growing.
	DefaultBufSize = 4 * 1024
	// PageSize is the scratch-buffer size used by the frame encoder.
	PageSize = 4 * 1024
)

// MMSA ("multi-mem, size-aggregated") is a minimal slab allocator: one
// sync.Pool per fixed size class. It mirrors the teacher's memsys.MMSA in
// spirit (pooled, size-classed buffers reused under GC pressure) without the
// full scatter-gather / disk-spill machinery a storage target needs.
type MMSA struct {
	pool sync.Pool
	size int
}

func New(size int) *MMSA {
	m := &MMSA{size: size}
	m.pool.New = func() any { return make([]byte, size) }
	return m
}

func (m *MMSA) Alloc() []byte { return m.pool.Get().([]byte)[:m.size] }

func (m *MMSA) Free(b []byte) {
	if cap(b) != m.size {
		return // foreign-sized slice, let the GC reclaim it
	}
	m.pool.Put(b[:cap(b)]) //nolint:staticcheck // deliberate reuse
}

var (
	// Default is the package-wide pool for connection read buffers.
	Default = New(DefaultBufSize)
	// Page is the package-wide pool for encoder scratch buffers.
	Page = New(PageSize)
)
