// Package replic implements the primary side of replication: per-replica
// outbound links with bounded send queues, and the controller that fans
// writes out to them and serves WAIT (spec §4.4, §4.5; SPEC_FULL §4.4/§4.5).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package replic

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ais-kv/kvd/cmn/cos"
	"github.com/ais-kv/kvd/cmn/nlog"
	"github.com/ais-kv/kvd/wire"
)

// queued is one item on a Link's outbound queue: either a preformed
// replication command or an ACK request carrying its own deadline (spec
// §4.4).
type queued struct {
	frame    wire.Frame
	isAck    bool
	deadline time.Time
	target   int64 // offset the ACK request is checking progress against
}

// Link owns the writer half of one replica connection: its outbound queue,
// inbound ACK path, and bytes_sent counter (spec §4.4). It is created by
// PSYNC and torn down when the socket errors or EOFs.
type Link struct {
	conn      net.Conn
	queue     chan queued
	compress  bool
	bytesSent atomic.Int64
	lastAck   atomic.Int64

	ctrl *Controller // back-reference for self-removal only, not ownership

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func newLink(conn net.Conn, ctrl *Controller, queueCap int, compress bool) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	l := &Link{
		conn:     conn,
		queue:    make(chan queued, queueCap),
		compress: compress,
		ctrl:     ctrl,
		g:        g,
		ctx:      ctx,
		cancel:   cancel,
	}
	g.Go(l.run)
	return l
}

// BytesSent returns the cumulative bytes written to this link's socket.
func (l *Link) BytesSent() int64 { return l.bytesSent.Load() }

// LastAck returns the most recently observed ACK offset from this replica.
func (l *Link) LastAck() int64 { return l.lastAck.Load() }

// enqueue best-effort sends cmd; a full queue is treated as the replica
// having fallen behind and kills the link rather than stalling the
// primary's write path (spec §5's "no blocking syscalls on the hot path",
// applied here to queue sends as well).
func (l *Link) enqueue(f wire.Frame) {
	select {
	case l.queue <- queued{frame: f}:
	default:
		nlog.Warningf("replic: link queue full, dropping link")
		l.kill()
	}
}

// requestAck enqueues a REPLCONF GETACK * with the given deadline (spec
// §4.4). Returns false if the queue is already full/the link is dying.
func (l *Link) requestAck(target int64, deadline time.Time) bool {
	select {
	case l.queue <- queued{frame: wire.Command("REPLCONF", []byte("GETACK"), []byte("*")), isAck: true, deadline: deadline, target: target}:
		return true
	default:
		l.kill()
		return false
	}
}

func (l *Link) kill() {
	l.cancel()
	l.conn.Close()
}

// Wait blocks until the writer goroutine (and any goroutines it spawned)
// exit, returning the first error encountered.
func (l *Link) Wait() error { return l.g.Wait() }

func (l *Link) run() error {
	defer l.ctrl.remove(l)
	for {
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case item := <-l.queue:
			if err := l.write(item.frame); err != nil {
				return err
			}
			if item.isAck {
				l.awaitAck(item.target, item.deadline)
			}
		}
	}
}

func (l *Link) write(f wire.Frame) error {
	out := f
	if l.compress {
		var err error
		out, err = wire.CompressFrame(f)
		if err != nil {
			return err
		}
	}
	buf := wire.Encode(nil, out)
	if _, err := l.conn.Write(buf); err != nil {
		return err
	}
	l.bytesSent.Add(int64(len(buf)))
	return nil
}

// awaitAck reads one inbound frame before the deadline and, if it parses
// as REPLCONF ACK <offset>, signals the controller. A deadline with no
// reply signals expired(); either way this never returns an error that
// tears the link down — ACK timeouts are an expected WAIT outcome, not a
// connection failure.
func (l *Link) awaitAck(target int64, deadline time.Time) {
	_ = l.conn.SetReadDeadline(deadline)
	defer l.conn.SetReadDeadline(time.Time{})

	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := l.conn.Read(tmp)
		if err != nil {
			if cos.IsRetriableConnErr(err) || cos.IsErrSyscallTimeout(err) {
				l.ctrl.expired(l, target)
				return
			}
			l.ctrl.expired(l, target)
			return
		}
		buf = append(buf, tmp[:n]...)
		f, _, err := wire.Decode(buf)
		if err == wire.ErrIncomplete {
			continue
		}
		if err != nil {
			l.ctrl.expired(l, target)
			return
		}
		name, args, ok := f.AsCommand()
		if ok && eqFold(name, "REPLCONF") && len(args) == 2 && eqFold(string(args[0]), "ACK") {
			offset, perr := parseOffset(args[1])
			if perr == nil {
				l.lastAck.Store(offset)
				l.ctrl.received(l, offset, target)
				return
			}
		}
		l.ctrl.expired(l, target)
		return
	}
}
