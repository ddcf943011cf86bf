// Package debug provides lightweight runtime assertions that are no-ops
// unless the process is started with KVD_DEBUG set to a non-empty value.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
	"sync"
)

var enabled = os.Getenv("KVD_DEBUG") != ""

func ON() bool { return enabled }

// Assert panics with the given args when cond is false. No-op when debug
// mode is off.
func Assert(cond bool, args ...any) {
	if !enabled || cond {
		return
	}
	panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
}

func Assertf(cond bool, format string, args ...any) {
	if !enabled || cond {
		return
	}
	panic(fmt.Sprintf("assertion failed: "+format, args...))
}

func AssertFunc(f func() bool, args ...any) {
	if !enabled || f() {
		return
	}
	panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
}

func AssertNoErr(err error) {
	if !enabled || err == nil {
		return
	}
	panic(err)
}

func AssertMutexLocked(m *sync.Mutex) {
	if !enabled {
		return
	}
	if m.TryLock() {
		m.Unlock()
		panic("mutex not locked")
	}
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	if !enabled {
		return
	}
	if m.TryLock() {
		m.Unlock()
		panic("rwmutex not locked")
	}
}

func Func(f func()) {
	if enabled {
		f()
	}
}
