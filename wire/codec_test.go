package wire_test

import (
	"errors"
	"testing"

	"github.com/ais-kv/kvd/wire"
)

func roundTrip(t *testing.T, f wire.Frame) {
	t.Helper()
	buf := wire.Encode(nil, f)
	if len(buf) != wire.EncodeLen(f) {
		t.Fatalf("EncodeLen mismatch: got %d want %d", wire.EncodeLen(f), len(buf))
	}
	got, n, err := wire.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if !got.Equal(f) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, f)
	}
}

func TestRoundTrip(t *testing.T) {
	roundTrip(t, wire.Simple("OK"))
	roundTrip(t, wire.Err("ERR bad"))
	roundTrip(t, wire.Integer(-42))
	roundTrip(t, wire.BulkString("hello"))
	roundTrip(t, wire.Bulk([]byte{}))
	roundTrip(t, wire.NullBulk())
	roundTrip(t, wire.NullArray())
	roundTrip(t, wire.Array([]wire.Frame{wire.BulkString("PING")}))
	roundTrip(t, wire.Command("SET", []byte("k"), []byte("v")))
}

func TestDecodeIncomplete(t *testing.T) {
	partial := []byte("*2\r\n$4\r\nPING")
	_, _, err := wire.Decode(partial)
	if !errors.Is(err, wire.ErrIncomplete) {
		t.Fatalf("got %v, want ErrIncomplete", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, _, err := wire.Decode([]byte("@nope\r\n"))
	var merr *wire.MalformedError
	if !errors.As(err, &merr) {
		t.Fatalf("got %v, want *MalformedError", err)
	}
}

func TestDecodeMultipleFrames(t *testing.T) {
	buf := []byte("+PONG\r\n:5\r\n")
	f1, n1, err := wire.Decode(buf)
	if err != nil || f1.Str != "PONG" {
		t.Fatalf("first frame: %+v %v", f1, err)
	}
	f2, n2, err := wire.Decode(buf[n1:])
	if err != nil || f2.Int != 5 {
		t.Fatalf("second frame: %+v %v", f2, err)
	}
	if n1+n2 != len(buf) {
		t.Fatalf("did not consume whole buffer")
	}
}

func TestAsCommand(t *testing.T) {
	f := wire.Command("SET", []byte("k"), []byte("v"))
	name, args, ok := f.AsCommand()
	if !ok || name != "SET" || len(args) != 2 || string(args[0]) != "k" || string(args[1]) != "v" {
		t.Fatalf("AsCommand gave name=%q args=%v ok=%v", name, args, ok)
	}
}

func TestSnapshotBlobNoTrailingCRLF(t *testing.T) {
	payload := []byte("REDIS0011\xff\x00\x00\x00\x00\x00\x00\x00\x00")
	buf := wire.EncodeSnapshotBlob(payload)
	got, n, err := wire.DecodeSnapshotBlob(buf)
	if err != nil {
		t.Fatalf("decode snapshot blob: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch")
	}
	// Encoded form ends with the raw bytes, not CRLF.
	if buf[len(buf)-1] == '\n' && buf[len(buf)-2] == '\r' && payload[len(payload)-1] != '\n' {
		t.Fatalf("snapshot blob unexpectedly CRLF-terminated")
	}
}
