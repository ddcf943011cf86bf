// Package hk provides a mechanism for registering cleanup/maintenance
// callbacks invoked at specified intervals — used here to drive the data
// store's lazy-expiry sweep and the logger's periodic flush.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"
)

// NameSuffix disambiguates a housekeeping registration from an unrelated
// name collision elsewhere (e.g. a stream endpoint sharing the same name).
const NameSuffix = ".hk"

// CB returns the duration to wait before the next invocation; returning 0
// re-uses the interval the callback was registered with.
type CB func() time.Duration

type request struct {
	f        CB
	name     string
	interval time.Duration
}

type timedCB struct {
	f     CB
	name  string
	due   time.Time
	ival  time.Duration
	index int
}

type cbHeap []*timedCB

func (h cbHeap) Len() int            { return len(h) }
func (h cbHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h cbHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *cbHeap) Push(x any)         { cb := x.(*timedCB); cb.index = len(*h); *h = append(*h, cb) }
func (h *cbHeap) Pop() any {
	old := *h
	n := len(old)
	cb := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return cb
}

// HK is the housekeeper: a priority queue of (name, callback, due-time)
// entries, served by a single goroutine started via Run.
type HK struct {
	mu       sync.Mutex
	byName   map[string]*timedCB
	q        cbHeap
	regCh    chan request
	unregCh  chan string
	stopCh   chan struct{}
	started  chan struct{}
	startSet sync.Once
}

func New() *HK {
	return &HK{
		byName:  make(map[string]*timedCB),
		regCh:   make(chan request, 64),
		unregCh: make(chan string, 64),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// DefaultHK is the process-wide housekeeper; cmd/kvd starts its Run loop at
// startup and registers the store's expiry sweep and the logger's flush.
var DefaultHK = New()

// TestInit replaces DefaultHK with a fresh instance; tests call this before
// starting a new Run goroutine so state doesn't leak between test cases.
func TestInit() { DefaultHK = New() }

func WaitStarted() { <-DefaultHK.started }

// Reg schedules f to run every interval, starting one interval from now.
func Reg(name string, f CB, interval time.Duration) { DefaultHK.Reg(name, f, interval) }
func Unreg(name string)                             { DefaultHK.Unreg(name) }

func (h *HK) Reg(name string, f CB, interval time.Duration) {
	h.regCh <- request{f: f, name: name, interval: interval}
}

func (h *HK) Unreg(name string) { h.unregCh <- name }

func (h *HK) Stop() { close(h.stopCh) }

// Run drains registration/unregistration requests and fires due callbacks;
// intended to run in its own goroutine for the lifetime of the process.
func (h *HK) Run() {
	h.startSet.Do(func() { close(h.started) })

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		h.resetTimer(timer)
		select {
		case <-h.stopCh:
			return
		case req := <-h.regCh:
			h.mu.Lock()
			cb := &timedCB{f: req.f, name: req.name, ival: req.interval, due: time.Now().Add(req.interval)}
			if old, ok := h.byName[req.name]; ok {
				heap.Remove(&h.q, old.index)
			}
			h.byName[req.name] = cb
			heap.Push(&h.q, cb)
			h.mu.Unlock()
		case name := <-h.unregCh:
			h.mu.Lock()
			if cb, ok := h.byName[name]; ok {
				heap.Remove(&h.q, cb.index)
				delete(h.byName, name)
			}
			h.mu.Unlock()
		case <-timer.C:
			h.fireDue()
		}
	}
}

func (h *HK) resetTimer(timer *time.Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.q) == 0 {
		return
	}
	d := time.Until(h.q[0].due)
	if d < 0 {
		d = 0
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

func (h *HK) fireDue() {
	now := time.Now()
	for {
		h.mu.Lock()
		if len(h.q) == 0 || h.q[0].due.After(now) {
			h.mu.Unlock()
			return
		}
		cb := heap.Pop(&h.q).(*timedCB)
		h.mu.Unlock()

		next := cb.f()
		if next == 0 {
			next = cb.ival
		}
		cb.due = now.Add(next)

		h.mu.Lock()
		if _, ok := h.byName[cb.name]; ok { // still registered
			heap.Push(&h.q, cb)
		}
		h.mu.Unlock()
	}
}
