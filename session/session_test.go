package session_test

import (
	"net"
	"testing"
	"time"

	"github.com/ais-kv/kvd/cmn/cos"
	"github.com/ais-kv/kvd/replic"
	"github.com/ais-kv/kvd/session"
	"github.com/ais-kv/kvd/store"
	"github.com/ais-kv/kvd/wire"
)

func newPair(t *testing.T) (client net.Conn, ctrl *replic.Controller, st *store.Store) {
	t.Helper()
	server, c := net.Pipe()
	st = store.New()
	ctrl = replic.NewController(cos.GenReplID())
	go session.New(server, st, ctrl).Serve()
	return c, ctrl, st
}

func roundTrip(t *testing.T, conn net.Conn, cmd wire.Frame) wire.Frame {
	t.Helper()
	if _, err := conn.Write(wire.Encode(nil, cmd)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	var acc []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			f, _, derr := wire.Decode(acc)
			if derr == nil {
				return f
			}
			if derr != wire.ErrIncomplete {
				t.Fatalf("decode: %v", derr)
			}
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

func TestPingEchoGetSet(t *testing.T) {
	conn, _, _ := newPair(t)
	defer conn.Close()

	if got := roundTrip(t, conn, wire.Command("PING")); !got.Equal(wire.Simple("PONG")) {
		t.Fatalf("PING: got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("ECHO", []byte("hi"))); !got.Equal(wire.Bulk([]byte("hi"))) {
		t.Fatalf("ECHO: got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("GET", []byte("k"))); !got.Equal(wire.NullBulk()) {
		t.Fatalf("GET miss: got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("SET", []byte("k"), []byte("v"))); !got.Equal(wire.Simple("OK")) {
		t.Fatalf("SET: got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("GET", []byte("k"))); !got.Equal(wire.Bulk([]byte("v"))) {
		t.Fatalf("GET hit: got %+v", got)
	}
}

func TestSetAdvancesOffsetAndUpdatesStore(t *testing.T) {
	conn, ctrl, st := newPair(t)
	defer conn.Close()

	if ctrl.Offset() != 0 {
		t.Fatalf("offset should start at 0, got %d", ctrl.Offset())
	}
	if got := roundTrip(t, conn, wire.Command("SET", []byte("a"), []byte("1"))); !got.Equal(wire.Simple("OK")) {
		t.Fatalf("SET: got %+v", got)
	}
	if ctrl.Offset() == 0 {
		t.Fatalf("master_offset did not advance after a write")
	}
	if v, ok := st.Get([]byte("a")); !ok || string(v) != "1" {
		t.Fatalf("store not updated: ok=%v v=%q", ok, v)
	}
}

func TestIncrDecrAndNotInteger(t *testing.T) {
	conn, _, _ := newPair(t)
	defer conn.Close()

	if got := roundTrip(t, conn, wire.Command("INCR", []byte("n"))); !got.Equal(wire.Integer(1)) {
		t.Fatalf("INCR: got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("INCR", []byte("n"))); !got.Equal(wire.Integer(2)) {
		t.Fatalf("INCR again: got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("DECR", []byte("n"))); !got.Equal(wire.Integer(1)) {
		t.Fatalf("DECR: got %+v", got)
	}
	roundTrip(t, conn, wire.Command("SET", []byte("s"), []byte("notanumber")))
	got := roundTrip(t, conn, wire.Command("INCR", []byte("s")))
	if got.Kind != wire.KindError {
		t.Fatalf("INCR on non-integer: want error, got %+v", got)
	}
}

func TestXaddAssignsAndStoresResolvedID(t *testing.T) {
	conn, _, st := newPair(t)
	defer conn.Close()

	got := roundTrip(t, conn, wire.Command("XADD", []byte("stream"), []byte("*"), []byte("f"), []byte("v")))
	if got.Kind != wire.KindBulk || got.IsNull() {
		t.Fatalf("XADD: want bulk id, got %+v", got)
	}
	entries, err := st.XRange([]byte("stream"), "-", "+")
	if err != nil || len(entries) != 1 {
		t.Fatalf("XRANGE after XADD: entries=%v err=%v", entries, err)
	}
	if entries[0].ID.String() != string(got.Bulk) {
		t.Fatalf("stored id %s != returned id %s", entries[0].ID.String(), got.Bulk)
	}
}

func TestWaitWithNoReplicasReturnsImmediately(t *testing.T) {
	conn, _, _ := newPair(t)
	defer conn.Close()

	got := roundTrip(t, conn, wire.Command("WAIT", []byte("0"), []byte("100")))
	if !got.Equal(wire.Integer(0)) {
		t.Fatalf("WAIT: got %+v", got)
	}
}

func TestUnknownCommandKeepsConnectionOpen(t *testing.T) {
	conn, _, _ := newPair(t)
	defer conn.Close()

	got := roundTrip(t, conn, wire.Command("NOSUCHCOMMAND"))
	if got.Kind != wire.KindError {
		t.Fatalf("want error frame, got %+v", got)
	}
	if got := roundTrip(t, conn, wire.Command("PING")); !got.Equal(wire.Simple("PONG")) {
		t.Fatalf("connection should still be usable: got %+v", got)
	}
}

func TestPsyncHandoffReceivesFullresyncAndSnapshot(t *testing.T) {
	conn, ctrl, _ := newPair(t)
	defer conn.Close()

	if _, err := conn.Write(wire.Encode(nil, wire.Command("PSYNC", []byte("?"), []byte("-1")))); err != nil {
		t.Fatalf("write PSYNC: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8192)
	var acc []byte
	var line wire.Frame
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			f, consumed, derr := wire.Decode(acc)
			if derr == nil {
				line = f
				acc = acc[consumed:]
				break
			}
			if derr != wire.ErrIncomplete {
				t.Fatalf("decode FULLRESYNC: %v", derr)
			}
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if line.Kind != wire.KindSimple {
		t.Fatalf("want simple FULLRESYNC line, got %+v", line)
	}

	for {
		_, consumed, derr := wire.DecodeSnapshotBlob(acc)
		if derr == nil {
			_ = consumed
			break
		}
		if derr != wire.ErrIncomplete {
			t.Fatalf("decode snapshot blob: %v", derr)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
		}
		if err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
	}

	if ctrl.NumLinks() != 1 {
		t.Fatalf("expected 1 attached link, got %d", ctrl.NumLinks())
	}
}
