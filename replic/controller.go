package replic

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ais-kv/kvd/cmn"
	"github.com/ais-kv/kvd/cmn/nlog"
	"github.com/ais-kv/kvd/stats"
	"github.com/ais-kv/kvd/wire"
)

// Controller is the primary-side replication coordinator: it owns the set
// of active Links, advances master_offset, and implements WAIT (spec
// §4.5; SPEC_FULL §4.5). One Controller per process.
type Controller struct {
	replID string
	offset atomic.Int64

	// replOrder serializes "mutate the store, then fan out the command" as
	// one atomic unit so every replica observes writes in the store's
	// mutation order (spec §5), even though the store itself is internally
	// striped across many lock domains (SPEC_FULL §4.2).
	replOrder sync.Mutex

	mu      sync.Mutex
	links   map[*Link]struct{}
	pending map[*Link]*ackWait // in-flight WAIT ACK requests, keyed by link
}

func NewController(replID string) *Controller {
	return &Controller{replID: replID, links: make(map[*Link]struct{})}
}

func (c *Controller) ReplID() string    { return c.replID }
func (c *Controller) Offset() int64     { return c.offset.Load() }
func (c *Controller) NumLinks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

// Replicate runs mutate (the store write, returning the response frame to
// send the client and any error) and, on success, fans cmd's canonical
// wire form out to every active link and advances master_offset by its
// encoded length — all as one unit under replOrder, per spec §4.3 step 4
// and §5's ordering guarantee. Use this when the replicated form is known
// before the mutation runs (SET/DEL/INCR/DECR/EXPIRE all replicate their
// received arguments verbatim); use ReplicateDynamic when it isn't.
func (c *Controller) Replicate(cmd wire.Frame, mutate func() (wire.Frame, error)) (wire.Frame, error) {
	c.replOrder.Lock()
	defer c.replOrder.Unlock()

	resp, err := mutate()
	if err != nil {
		return resp, err
	}
	c.fanout(cmd)
	return resp, nil
}

// ReplicateDynamic is Replicate's counterpart for commands whose canonical
// replicated form depends on the mutation's own result and so cannot be
// built beforehand — XADD's assigned stream id, derived from "*" or a
// partial spec, must be resolved once and shipped to every replica as the
// concrete id rather than re-derived independently on each one.
func (c *Controller) ReplicateDynamic(fn func() (cmd, resp wire.Frame, err error)) (wire.Frame, error) {
	c.replOrder.Lock()
	defer c.replOrder.Unlock()

	cmd, resp, err := fn()
	if err != nil {
		return resp, err
	}
	c.fanout(cmd)
	return resp, nil
}

func (c *Controller) fanout(cmd wire.Frame) {
	n := wire.EncodeLen(cmd)
	c.offset.Add(int64(n))
	stats.Global.MasterOffset.Set(float64(c.offset.Load()))

	c.mu.Lock()
	links := make([]*Link, 0, len(c.links))
	for l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	for _, l := range links {
		l.enqueue(cmd)
		stats.Global.ReplBytesSent.Add(float64(n))
	}
}

// Attach creates a Link for a freshly PSYNC'd connection and adds it to
// the active set. compressCapable reports whether this specific connection
// advertised wire.CapaEOFLZ4 during its REPLCONF handshake; a replica that
// never advertised it must never receive compressed frames (wire/compress.go,
// SPEC_FULL §3), even when the process-wide config enables compression.
func (c *Controller) Attach(conn net.Conn, compressCapable bool) *Link {
	cfg := cmn.GCO.Get()
	l := newLink(conn, c, cfg.Repl.QueueCapacity, cfg.Repl.Compress && compressCapable)
	c.mu.Lock()
	c.links[l] = struct{}{}
	c.mu.Unlock()
	stats.Global.ReplicasActive.Set(float64(c.NumLinks()))
	nlog.Infof("replic: attached link %s", conn.RemoteAddr())
	return l
}

func (c *Controller) remove(l *Link) {
	c.mu.Lock()
	delete(c.links, l)
	n := len(c.links)
	c.mu.Unlock()
	stats.Global.ReplicasActive.Set(float64(n))
}

// ackWait coordinates one in-flight WAIT call's responses.
type ackWait struct {
	mu      sync.Mutex
	target  int64
	count   int
	done    chan struct{}
	once    sync.Once
}

func (a *ackWait) received(offset int64) {
	if offset < a.target {
		return
	}
	a.mu.Lock()
	a.count++
	a.mu.Unlock()
}

func (a *ackWait) finish() { a.once.Do(func() { close(a.done) }) }

func (c *Controller) received(l *Link, offset int64, target int64) {
	stats.Global.ReplAckReceived.Inc()
	c.mu.Lock()
	w := c.pending[l]
	delete(c.pending, l)
	c.mu.Unlock()
	if w != nil {
		w.received(offset)
		w.finish()
	}
}

func (c *Controller) expired(l *Link, target int64) {
	c.mu.Lock()
	w := c.pending[l]
	delete(c.pending, l)
	c.mu.Unlock()
	if w != nil {
		w.finish()
	}
}

// Wait implements spec §4.5: returns the number of replicas that have
// acknowledged at least the primary's current master_offset within
// timeoutMs.
func (c *Controller) Wait(n int, timeoutMs int64) int {
	stats.Global.WaitRequests.Inc()
	target := c.Offset()

	c.mu.Lock()
	links := make([]*Link, 0, len(c.links))
	for l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	if target == 0 {
		return len(links)
	}

	count := 0
	var pending []*Link
	for _, l := range links {
		if l.LastAck() >= target {
			count++
		} else {
			pending = append(pending, l)
		}
	}
	if count >= n || len(pending) == 0 {
		return count
	}

	if timeoutMs == 0 {
		timeoutMs = cmn.GCO.Get().Timeout.AckDefault.Milliseconds()
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	waits := make(map[*Link]*ackWait, len(pending))
	c.mu.Lock()
	if c.pending == nil {
		c.pending = make(map[*Link]*ackWait)
	}
	for _, l := range pending {
		w := &ackWait{target: target, done: make(chan struct{})}
		waits[l] = w
		c.pending[l] = w
	}
	c.mu.Unlock()

	for _, l := range pending {
		l.requestAck(target, deadline)
	}

	for _, w := range waits {
		remaining := time.Until(deadline)
		if remaining > 0 {
			select {
			case <-w.done:
			case <-time.After(remaining):
			}
		}
		w.mu.Lock()
		if w.count > 0 {
			count++
		}
		w.mu.Unlock()
	}
	return count
}

func eqFold(a, b string) bool { return strings.EqualFold(a, b) }

func parseOffset(b []byte) (int64, error) { return strconv.ParseInt(string(b), 10, 64) }
