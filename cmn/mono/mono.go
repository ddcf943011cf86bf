// Package mono provides a monotonic clock source independent of wall-clock
// adjustments, used for timeouts and rate bookkeeping.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, strictly
// monotonic for the life of the process.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
