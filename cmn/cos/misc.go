// Package cos provides common low-level types and utilities shared across
// the server, client, and replication packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "unsafe"

// UnsafeB and UnsafeS perform zero-copy conversions between string and
// []byte. Callers must not mutate the []byte returned by UnsafeB, nor
// retain it past the lifetime of the source string.
func UnsafeB(s string) []byte { return unsafe.Slice(unsafe.StringData(s), len(s)) }
func UnsafeS(b []byte) string { return unsafe.String(unsafe.SliceData(b), len(b)) }

func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
