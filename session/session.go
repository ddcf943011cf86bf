// Package session implements the client-facing connection state machine:
// frame accumulation/decode, command dispatch, and the PSYNC transition
// into a replication destination (spec §4.3; SPEC_FULL §4.3).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"net"
	"strconv"
	"strings"

	"github.com/ais-kv/kvd/cmn/cos"
	"github.com/ais-kv/kvd/cmn/nlog"
	"github.com/ais-kv/kvd/rdb"
	"github.com/ais-kv/kvd/replic"
	"github.com/ais-kv/kvd/stats"
	"github.com/ais-kv/kvd/store"
	"github.com/ais-kv/kvd/wire"
)

// Session owns one accepted TCP connection for its client lifetime. It
// reads and dispatches commands until EOF, a malformed frame, QUIT, or a
// PSYNC request hands the connection off to a replic.Link.
type Session struct {
	conn net.Conn
	st   *store.Store
	ctrl *replic.Controller
	buf  []byte

	// capaEOFLZ4 records whether this connection advertised wire.CapaEOFLZ4
	// via REPLCONF capa during the handshake; only such a connection may be
	// attached as a compression-capable replica link.
	capaEOFLZ4 bool
}

func New(conn net.Conn, st *store.Store, ctrl *replic.Controller) *Session {
	return &Session{conn: conn, st: st, ctrl: ctrl}
}

// Serve runs the session's read/dispatch loop until the connection ends.
// It never returns an error to the caller: every termination path (EOF,
// malformed frame, I/O error, QUIT) is logged and simply closes conn,
// matching spec §4.3's "a session ends on ..." with no further signal
// expected by the accept loop.
func (s *Session) Serve() {
	remote := s.conn.RemoteAddr().String()
	stats.Global.ConnsAccepted.Inc()
	stats.Global.ConnsActive.Inc()
	defer stats.Global.ConnsActive.Dec()
	nlog.Infof("session: accepted %s", remote)

	tmp := make([]byte, 4096)
	for {
		for {
			f, n, err := wire.Decode(s.buf)
			if err == wire.ErrIncomplete {
				break
			}
			if err != nil {
				nlog.Warningf("session: %s malformed frame: %v", remote, err)
				s.conn.Close()
				return
			}
			s.buf = s.buf[n:]
			switch s.dispatch(f) {
			case endClose:
				s.conn.Close()
				return
			case endHandoff:
				// conn now belongs to a replic.Link; this session is done
				// but must not close the socket out from under it.
				return
			}
		}

		n, err := s.conn.Read(tmp)
		if n > 0 {
			s.buf = append(s.buf, tmp[:n]...)
		}
		if err != nil {
			if !cos.IsEOF(err) {
				nlog.Warningf("session: %s read error: %v", remote, err)
			}
			s.conn.Close()
			nlog.Infof("session: closed %s", remote)
			return
		}
	}
}

// outcome reports what Serve's loop should do after one dispatched frame.
type outcome int

const (
	endNone outcome = iota
	endClose
	endHandoff
)

// dispatch handles one decoded frame and reports whether the session
// should end: endClose on a protocol error or QUIT, endHandoff once PSYNC
// has handed the connection to a replic.Link.
func (s *Session) dispatch(f wire.Frame) outcome {
	name, args, ok := f.AsCommand()
	if !ok {
		nlog.Warningf("session: %s protocol error: frame is not an array of bulks", s.conn.RemoteAddr())
		return endClose
	}
	upper := strings.ToUpper(name)

	if upper == "QUIT" {
		s.write(wire.Simple("OK"))
		return endClose
	}
	if upper == "PSYNC" {
		s.handlePSYNC(args)
		return endHandoff
	}

	stats.Global.CommandsTotal.WithLabelValues(upper).Inc()
	entry, ok := commands[upper]
	if !ok {
		s.write(wire.Err("ERR unknown command '" + name + "'"))
		return endNone
	}
	resp, err := entry(s, args)
	if err != nil {
		stats.Global.CommandErrors.WithLabelValues(upper).Inc()
	}
	s.write(resp)
	return endNone
}

// handlePSYNC implements spec §4.3 step 5: answer FULLRESYNC plus the
// snapshot blob, then attach conn as a replic.Link — from this point the
// socket belongs to the link's writer goroutine, not this session.
func (s *Session) handlePSYNC(_ [][]byte) {
	offset := s.ctrl.Offset()
	line := wire.Simple("FULLRESYNC " + s.ctrl.ReplID() + " " + strconv.FormatInt(offset, 10))
	if _, err := s.conn.Write(wire.Encode(nil, line)); err != nil {
		nlog.Warningf("session: %s PSYNC write FULLRESYNC: %v", s.conn.RemoteAddr(), err)
		s.conn.Close()
		return
	}
	if _, err := s.conn.Write(wire.EncodeSnapshotBlob(rdb.EmptySnapshot())); err != nil {
		nlog.Warningf("session: %s PSYNC write snapshot: %v", s.conn.RemoteAddr(), err)
		s.conn.Close()
		return
	}
	s.ctrl.Attach(s.conn, s.capaEOFLZ4)
	nlog.Infof("session: %s promoted to replica link (capa eof-lz4=%v)", s.conn.RemoteAddr(), s.capaEOFLZ4)
}

func (s *Session) write(f wire.Frame) {
	if _, err := s.conn.Write(wire.Encode(nil, f)); err != nil {
		nlog.Warningf("session: %s write error: %v", s.conn.RemoteAddr(), err)
	}
}

